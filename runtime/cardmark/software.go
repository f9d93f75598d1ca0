package cardmark

import (
	"github.com/tinygo-org/gencgc/internal/lose"
	"github.com/tinygo-org/gencgc/runtime/heap"
)

// SoftwareBarrier marks cards inline. Pages are never protected.
type SoftwareBarrier struct {
	space *heap.Space
	table *Table
}

func NewSoftware(space *heap.Space) *SoftwareBarrier {
	return &SoftwareBarrier{space: space, table: NewTable(space.NumPages())}
}

func (b *SoftwareBarrier) Kind() Kind {
	return Software
}

func (b *SoftwareBarrier) Table() *Table {
	return b.table
}

func (b *SoftwareBarrier) Store(a heap.Addr, v uint64) {
	b.mark(a)
	b.space.Store(a, v)
}

func (b *SoftwareBarrier) EnsureWritable(a heap.Addr) {
	b.mark(a)
}

func (b *SoftwareBarrier) mark(a heap.Addr) {
	i := b.space.PageIndex(a)
	if i < 0 {
		lose.Lose("write barrier: store to %#x outside the heap", uintptr(a))
	}
	b.table.MarkDirty(i)
}

func (b *SoftwareBarrier) Unprotect(page int) {
	b.table.MarkDirty(page)
}

func (b *SoftwareBarrier) Protect(page int) {
	b.table.clear(page)
}

func (b *SoftwareBarrier) Release(page int) {
	b.table.clear(page)
}

// Faults is always zero: nothing is ever protected.
func (b *SoftwareBarrier) Faults() uint64 {
	return 0
}
