package gc

import (
	"fmt"

	"github.com/tinygo-org/gencgc/runtime/heap"
	"github.com/tinygo-org/gencgc/runtime/thread"
)

// Verify checks the heap for references to free pages or to things that
// aren't objects, and for old-to-young references behind clean cards. No
// thread may run while it does.
func (c *Collector) Verify() error {
	return c.verify(c.rt.Registry().Threads())
}

func (c *Collector) verify(threads []*thread.Thread) error {
	space := c.space
	check := func(where string, v heap.Ref) error {
		if !v.IsPointer() || !space.Contains(v) {
			return nil
		}
		if g := space.GenOf(v); g == heap.FreeGen {
			return fmt.Errorf("%s refers to %v on a free page", where, v)
		}
		if layoutOf(space.Header(v)) == nil {
			return fmt.Errorf("%s refers to %v, which has no valid header", where, v)
		}
		return nil
	}

	for _, t := range threads {
		for i, r := range t.Roots() {
			if err := check(fmt.Sprintf("thread %d root %d", t.ID(), i), r); err != nil {
				return err
			}
		}
	}

	table := c.barrier.Table()
	var err error
	for i := 0; i < space.NumPages() && err == nil; i++ {
		pg := space.Page(i)
		if pg.Free() || pg.Open {
			continue
		}
		lo := space.PageAddr(i)
		hi := lo + heap.Addr(pg.Used)
		clean := pg.Gen > 0 && !table.IsDirty(i)
		space.Walk(i, func(obj heap.Addr, h heap.Header) bool {
			l := layoutOf(h)
			if l == nil {
				err = fmt.Errorf("page %d: unknown widetag %#x at %#x", i, h.Widetag(), uintptr(obj))
				return false
			}
			eachPointer(space, obj, h, l, lo, hi, true, func(a heap.Addr, v heap.Ref) {
				if err != nil {
					return
				}
				where := fmt.Sprintf("%v object at %#x", pg.Gen, uintptr(obj))
				if err = check(where, v); err != nil {
					return
				}
				if vg := space.GenOf(v); clean && vg >= 0 && vg < pg.Gen {
					err = fmt.Errorf("%s refers to %v in %v behind a clean card", where, v, vg)
				}
			})
			return err == nil
		})
	}
	return err
}
