// Package weak keeps the chain of weak pointers found during a collection.
//
// A weak pointer is a four-word heap object: header, value, next, padding.
// The tracer never follows the value of a weak pointer whose referent is in
// from-space; it links the weak pointer into the chain instead. Once every
// reachable object has been copied, Resolve walks the chain exactly once:
// referents that were copied are redirected, the others are gone and the
// value is replaced by heap.Unbound.
//
// A weak pointer is in the chain exactly when its next slot is non-zero. The
// last element holds chainEnd, which is not zero, so membership can always be
// read off the object itself.
package weak

import (
	"github.com/tinygo-org/gencgc/runtime/heap"
)

// Payload slots of a weak pointer.
const (
	ValueSlot = 0
	NextSlot  = 1

	// Length is the payload length; the object occupies Words words.
	Length = 3
	Words  = 4
)

const chainEnd heap.Ref = 0x1

// Forwarder answers whether an object was moved in the current cycle.
type Forwarder interface {
	Lookup(r heap.Ref) (heap.Ref, bool)
}

type writeBarrier interface {
	EnsureWritable(a heap.Addr)
}

// Chain is the process-wide list of weak pointers pending resolution. It is
// only touched by the collector while the world is stopped.
type Chain struct {
	space *heap.Space
	fwd   Forwarder
	wb    writeBarrier
	head  heap.Ref
	n     int
}

// NewChain returns an empty chain. wb may be nil if pages are never write
// protected.
func NewChain(space *heap.Space, fwd Forwarder, wb writeBarrier) *Chain {
	return &Chain{space: space, fwd: fwd, wb: wb}
}

// Init lays out a fresh weak pointer at a pointing to value.
func Init(space *heap.Space, a heap.Addr, gen heap.Gen, value heap.Ref) heap.Ref {
	space.Store(a, uint64(heap.MakeHeader(heap.WeakPointerWidetag, Length, gen, 0)))
	wp := heap.MakeRef(a, heap.OtherLowtag)
	space.Store(heap.Slot(wp, ValueSlot), uint64(value))
	space.Store(heap.Slot(wp, NextSlot), 0)
	return wp
}

// Value returns what wp refers to, or heap.Unbound once it is broken.
func Value(space *heap.Space, wp heap.Ref) heap.Ref {
	return heap.Ref(space.Load(heap.Slot(wp, ValueSlot)))
}

// Enqueued reports whether wp is in a chain.
func Enqueued(space *heap.Space, wp heap.Ref) bool {
	return space.Load(heap.Slot(wp, NextSlot)) != 0
}

func (c *Chain) store(a heap.Addr, v heap.Ref) {
	if c.wb != nil {
		c.wb.EnsureWritable(a)
	}
	c.space.Store(a, uint64(v))
}

// Len returns the number of weak pointers in the chain.
func (c *Chain) Len() int {
	return c.n
}

// Enqueue pushes wp on the front of the chain unless it is already there.
func (c *Chain) Enqueue(wp heap.Ref) {
	if Enqueued(c.space, wp) {
		return
	}
	next := c.head
	if next == 0 {
		next = chainEnd
	}
	c.store(heap.Slot(wp, NextSlot), next)
	c.head = wp
	c.n++
}

// Breakable reports whether wp's referent is in from-space and has not been
// copied yet, i.e. whether the weak pointer would break if the trace ended
// now.
func (c *Chain) Breakable(wp heap.Ref) bool {
	v := Value(c.space, wp)
	if !c.space.FromSpace(v) {
		return false
	}
	_, moved := c.fwd.Lookup(v)
	return !moved
}

// Resolve must run once per cycle, after the trace and before from-space is
// released. It returns how many weak pointers were redirected and how many
// were broken. Weak pointers whose referent is outside from-space are left
// alone. The chain is empty afterwards.
func (c *Chain) Resolve() (redirected, broken int) {
	wp := c.head
	for wp != 0 && wp != chainEnd {
		next := heap.Ref(c.space.Load(heap.Slot(wp, NextSlot)))
		v := Value(c.space, wp)
		if v.IsPointer() {
			if n, ok := c.fwd.Lookup(v); ok {
				c.store(heap.Slot(wp, ValueSlot), n)
				redirected++
			} else if c.space.FromSpace(v) {
				c.store(heap.Slot(wp, ValueSlot), heap.Unbound)
				broken++
			}
		}
		c.store(heap.Slot(wp, NextSlot), 0)
		wp = next
	}
	c.head = 0
	c.n = 0
	return redirected, broken
}
