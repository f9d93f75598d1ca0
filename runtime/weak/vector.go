package weak

import (
	"github.com/tinygo-org/gencgc/runtime/heap"
)

// Vectors is the list of weak vectors met during a collection. A weak vector
// is a vector whose elements don't keep their referents alive: the tracer
// records the vector here instead of following its elements, and Resolve
// fixes the elements up once the trace is over.
type Vectors struct {
	space *heap.Space
	fwd   Forwarder
	wb    writeBarrier
	list  []heap.Ref
	seen  map[heap.Addr]struct{}
}

// NewVectors returns an empty list. wb may be nil if pages are never write
// protected.
func NewVectors(space *heap.Space, fwd Forwarder, wb writeBarrier) *Vectors {
	return &Vectors{space: space, fwd: fwd, wb: wb, seen: make(map[heap.Addr]struct{})}
}

// Add records v. A vector that spans several cards may be met more than once
// in a cycle; it is recorded once.
func (vs *Vectors) Add(v heap.Ref) {
	if _, ok := vs.seen[v.Addr()]; ok {
		return
	}
	vs.seen[v.Addr()] = struct{}{}
	vs.list = append(vs.list, v)
}

// Len returns the number of vectors recorded.
func (vs *Vectors) Len() int {
	return len(vs.list)
}

// Resolve redirects the elements of every recorded vector whose referent was
// copied and replaces those whose referent stayed behind in from-space by
// heap.Unbound. Like Chain.Resolve it runs once per cycle, before from-space
// is released, and empties the list.
func (vs *Vectors) Resolve() (redirected, broken int) {
	for _, v := range vs.list {
		n := vs.space.Header(v).Length()
		for i := 0; i < n; i++ {
			a := heap.Slot(v, i)
			e := heap.Ref(vs.space.Load(a))
			if !e.IsPointer() || !vs.space.FromSpace(e) {
				continue
			}
			if moved, ok := vs.fwd.Lookup(e); ok {
				vs.store(a, moved)
				redirected++
			} else {
				vs.store(a, heap.Unbound)
				broken++
			}
		}
	}
	vs.list = vs.list[:0]
	for a := range vs.seen {
		delete(vs.seen, a)
	}
	return redirected, broken
}

func (vs *Vectors) store(a heap.Addr, v heap.Ref) {
	if vs.wb != nil {
		vs.wb.EnsureWritable(a)
	}
	vs.space.Store(a, uint64(v))
}
