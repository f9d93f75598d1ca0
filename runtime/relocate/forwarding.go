// Package relocate moves live objects out of the condemned generation.
//
// Instead of overwriting the header of a moved object with a forwarding
// pointer, the collector keeps a side table from old address to new
// reference. The table is what guarantees an object is copied at most once
// per cycle: any later reference to the same object, found independently
// during the same trace, looks it up and is redirected to the existing copy.
// The table is only valid until the condemned pages are released, and is
// reset at the end of every cycle.
package relocate

import (
	"sync"

	"github.com/tinygo-org/gencgc/internal/lose"
	"github.com/tinygo-org/gencgc/runtime/heap"
)

// Forwarding maps the old address of every object moved in this cycle to its
// new reference.
type Forwarding struct {
	mu sync.Mutex
	m  map[heap.Addr]heap.Ref
}

func NewForwarding() *Forwarding {
	return &Forwarding{m: make(map[heap.Addr]heap.Ref)}
}

// Lookup returns the new location of the object r points to, if it moved.
func (f *Forwarding) Lookup(r heap.Ref) (heap.Ref, bool) {
	f.mu.Lock()
	n, ok := f.m[r.Addr()]
	f.mu.Unlock()
	return n, ok
}

// Forward records that old now lives at new. Recording an object twice means
// it was copied twice, which is fatal.
func (f *Forwarding) Forward(old, new heap.Ref) {
	f.mu.Lock()
	prev, dup := f.m[old.Addr()]
	if !dup {
		f.m[old.Addr()] = new
	}
	f.mu.Unlock()
	if dup {
		lose.Lose("relocate: %v forwarded twice (to %v and %v)", old, prev, new)
	}
}

// Len returns the number of forwarded objects.
func (f *Forwarding) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.m)
}

// Reset forgets every forwarding. Called once the condemned pages are freed.
func (f *Forwarding) Reset() {
	f.mu.Lock()
	f.m = make(map[heap.Addr]heap.Ref)
	f.mu.Unlock()
}
