//go:build !unix

package cardmark

import (
	"errors"

	"github.com/tinygo-org/gencgc/runtime/heap"
)

// HardwareBarrier is unavailable without mprotect.
type HardwareBarrier struct {
	SoftwareBarrier
}

func NewHardware(space *heap.Space) (*HardwareBarrier, error) {
	return nil, errors.New("cardmark: hardware barrier needs page protection, which this platform lacks")
}

func (b *HardwareBarrier) Kind() Kind {
	return Hardware
}
