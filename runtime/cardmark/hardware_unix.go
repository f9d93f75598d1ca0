//go:build unix

package cardmark

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/tinygo-org/gencgc/internal/lose"
	"github.com/tinygo-org/gencgc/runtime/heap"
)

// HardwareBarrier keeps clean pages write protected with mprotect. The fault
// handler is the deferred recover in tryStore: with SetPanicOnFault enabled a
// store to a protected page panics with an error that carries the faulting
// address instead of crashing the process.
//
// Protection state lives in the page table. Two threads can fault on the same
// page at once; the one that wins ClaimUnprotect lifts the protection and
// marks the card, the other sees WPCleared and simply retries its store.
type HardwareBarrier struct {
	space  *heap.Space
	table  *Table
	faults atomic.Uint64
}

func NewHardware(space *heap.Space) (*HardwareBarrier, error) {
	if ps := uintptr(heap.OSPageSize()); space.CardBytes()%ps != 0 {
		return nil, fmt.Errorf("cardmark: card size %d is not a multiple of the OS page size %d", space.CardBytes(), ps)
	}
	return &HardwareBarrier{space: space, table: NewTable(space.NumPages())}, nil
}

func (b *HardwareBarrier) Kind() Kind {
	return Hardware
}

func (b *HardwareBarrier) Table() *Table {
	return b.table
}

func (b *HardwareBarrier) Faults() uint64 {
	return b.faults.Load()
}

func (b *HardwareBarrier) Store(a heap.Addr, v uint64) {
	for !b.tryStore(a, v) {
		// Another thread is between claiming the page and calling mprotect.
		runtime.Gosched()
	}
}

// addrError is implemented by the runtime error a memory fault panics with.
type addrError interface {
	Addr() uintptr
}

func (b *HardwareBarrier) tryStore(a heap.Addr, v uint64) (ok bool) {
	old := debug.SetPanicOnFault(true)
	defer func() {
		debug.SetPanicOnFault(old)
		if r := recover(); r != nil {
			fault, isFault := r.(addrError)
			if !isFault {
				panic(r)
			}
			b.handleFault(heap.Addr(fault.Addr()))
			ok = false
		}
	}()
	b.space.Store(a, v)
	return true
}

// handleFault reports whether the fault unprotected the page. A fault on a
// page that is unprotected and was never cleared can't be explained and is
// fatal.
func (b *HardwareBarrier) handleFault(a heap.Addr) bool {
	i := b.space.PageIndex(a)
	if i < 0 {
		lose.Lose("write barrier: unhandled memory fault at %#x", uintptr(a))
	}
	if b.space.ClaimUnprotect(i) {
		b.table.MarkDirty(i)
		b.mprotect(i, unix.PROT_READ|unix.PROT_WRITE)
		b.faults.Add(1)
		return true
	}
	if b.space.Protection(i)&heap.WPCleared == 0 {
		lose.Lose("write barrier: fault at %#x on page %d which is not protected", uintptr(a), i)
	}
	return false
}

func (b *HardwareBarrier) EnsureWritable(a heap.Addr) {
	i := b.space.PageIndex(a)
	if i < 0 {
		lose.Lose("write barrier: store to %#x outside the heap", uintptr(a))
	}
	b.Unprotect(i)
}

func (b *HardwareBarrier) Unprotect(page int) {
	b.table.MarkDirty(page)
	if b.space.ClaimUnprotect(page) {
		b.mprotect(page, unix.PROT_READ|unix.PROT_WRITE)
	}
}

func (b *HardwareBarrier) Protect(page int) {
	b.mprotect(page, unix.PROT_READ)
	b.space.MarkProtected(page)
	b.table.clear(page)
}

func (b *HardwareBarrier) Release(page int) {
	if b.space.Protection(page)&heap.WPProtected != 0 {
		b.mprotect(page, unix.PROT_READ|unix.PROT_WRITE)
	}
	b.space.ResetProtection(page)
	b.table.clear(page)
}

func (b *HardwareBarrier) mprotect(page, prot int) {
	if err := unix.Mprotect(b.space.PageBytes(page), prot); err != nil {
		lose.Lose("write barrier: mprotect page %d: %v", page, err)
	}
}
