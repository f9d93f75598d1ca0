package gc

import (
	"github.com/tinygo-org/gencgc/runtime/heap"
	"github.com/tinygo-org/gencgc/runtime/weak"
)

// How the payload words of an object are classified.
const (
	layoutNone   = iota // no references
	layoutAll           // every word that looks like a reference is one
	layoutBitmap        // the header's pointer bitmap says which words are
)

// layout describes a widetag to the collector.
type layout struct {
	name  string
	typ   heap.PageType
	words int

	// weak objects don't keep what they refer to alive. The value slot of a
	// weak pointer is handled by the weak chain and the elements of a weak
	// vector by the weak vector list; neither is traced.
	weak bool
}

// scavtab is the scavenge dispatch table, indexed by widetag. A nil entry is
// a widetag that must never appear in the heap.
var scavtab [256]*layout

func init() {
	scavtab[heap.FillerWidetag] = &layout{name: "filler", typ: heap.PageBoxed, words: layoutNone}
	scavtab[heap.InstanceWidetag] = &layout{name: "instance", typ: heap.PageMixed, words: layoutBitmap}
	scavtab[heap.CodeWidetag] = &layout{name: "code", typ: heap.PageCode, words: layoutAll}
	scavtab[heap.BoxedVectorWidetag] = &layout{name: "simple-vector", typ: heap.PageBoxed, words: layoutAll}
	scavtab[heap.WeakVectorWidetag] = &layout{name: "weak-vector", typ: heap.PageBoxed, words: layoutAll, weak: true}
	scavtab[heap.UnboxedVectorWidetag] = &layout{name: "unboxed-vector", typ: heap.PageUnboxed, words: layoutNone}
	scavtab[heap.WeakPointerWidetag] = &layout{name: "weak-pointer", typ: heap.PageBoxed, words: layoutNone, weak: true}
}

func layoutOf(h heap.Header) *layout {
	return scavtab[h.Widetag()]
}

// eachPointer calls fn with the address of every payload word of obj in
// [lo, hi) that holds a reference. The value of a weak pointer and the
// elements of a weak vector are included only when withWeak is set.
func eachPointer(space *heap.Space, obj heap.Addr, h heap.Header, l *layout, lo, hi heap.Addr, withWeak bool, fn func(a heap.Addr, v heap.Ref)) {
	ref := heap.MakeRef(obj, heap.LowtagOf(h.Widetag()))
	if l.weak {
		if !withWeak {
			return
		}
		if h.Widetag() == heap.WeakPointerWidetag {
			a := heap.Slot(ref, weak.ValueSlot)
			if a >= lo && a < hi {
				if v := heap.Ref(space.Load(a)); v.IsPointer() {
					fn(a, v)
				}
			}
			return
		}
	}
	scanner := newObjectScanner(h, l)
	if scanner.pointerFree() {
		return
	}
	first := 0
	if start := heap.Slot(ref, 0); lo > start {
		first = int(lo-start) / heap.WordBytes
	}
	scanner.seek(first)
	for i := first; i < h.Length(); i++ {
		a := heap.Slot(ref, i)
		if a >= hi {
			return
		}
		v := heap.Ref(space.Load(a))
		if scanner.nextIsPointer(v) {
			fn(a, v)
		}
	}
}
