// Package gc drives collections of a generational heap shared by several
// threads.
//
// A collection condemns one generation. The world is stopped, the objects of
// the condemned generation that are reachable from thread stacks, from pages
// of younger generations, or from dirty cards of older generations are
// evacuated into the next generation, weak pointers and weak vectors are
// resolved, the
// condemned pages are freed and the world is started again. Afterwards every
// page that was rescanned is either write protected, if it holds no
// reference to a younger generation, or left with a dirty card.
package gc

import (
	"log"
	"sync"

	"github.com/tinygo-org/gencgc/internal/lose"
	"github.com/tinygo-org/gencgc/runtime/cardmark"
	"github.com/tinygo-org/gencgc/runtime/heap"
	"github.com/tinygo-org/gencgc/runtime/relocate"
	"github.com/tinygo-org/gencgc/runtime/thread"
	"github.com/tinygo-org/gencgc/runtime/weak"
)

// Stats counts the work done by a collector.
type Stats struct {
	Collections int
	CopiedWords uint64
	FreedPages  int

	// Weak references redirected to a copy and broken. Both weak pointers
	// and weak vector elements count.
	Redirected, Broken int
}

// Collector runs the collections of one runtime. Only one collection runs at
// a time.
type Collector struct {
	rt      *thread.Runtime
	space   *heap.Space
	barrier cardmark.Barrier
	fwd     *relocate.Forwarding
	copier  *relocate.Copier
	chain   *weak.Chain
	vectors *weak.Vectors
	logger  *log.Logger

	inGC sync.Mutex

	statsMu sync.Mutex
	stats   Stats
}

// New returns a collector for rt. logger may be nil.
func New(rt *thread.Runtime, logger *log.Logger) *Collector {
	space := rt.Space()
	b := rt.Barrier()
	fwd := relocate.NewForwarding()
	return &Collector{
		rt:      rt,
		space:   space,
		barrier: b,
		fwd:     fwd,
		copier:  relocate.NewCopier(space, fwd, b),
		chain:   weak.NewChain(space, fwd, b),
		vectors: weak.NewVectors(space, fwd, b),
		logger:  logger,
	}
}

func (c *Collector) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// Stats returns the work done so far.
func (c *Collector) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// Collect stops the world and evacuates generation gen. self is the calling
// thread, or nil if the caller isn't one. If another collection is already
// running, Collect returns false at once; the caller is stopped by that
// collection at its next safepoint.
func (c *Collector) Collect(self *thread.Thread, gen heap.Gen) bool {
	return c.run(self, gen, gen)
}

// CollectGenerations collects generations 0 through last, youngest first, in
// a single pause.
func (c *Collector) CollectGenerations(self *thread.Thread, last heap.Gen) bool {
	return c.run(self, 0, last)
}

func (c *Collector) run(self *thread.Thread, first, last heap.Gen) bool {
	if first < 0 || last >= heap.NumNormalGenerations || first > last {
		lose.Lose("gc: can't collect generations %v to %v", first, last)
	}
	if !c.inGC.TryLock() {
		return false
	}
	defer c.inGC.Unlock()

	c.rt.StopTheWorld(self)
	var threads []*thread.Thread
	c.rt.EachStopped(func(t *thread.Thread) {
		t.CloseRegions()
		threads = append(threads, t)
	})
	for gen := first; gen <= last; gen++ {
		c.collect(threads, gen)
	}
	if heap.Asserts {
		if err := c.verify(threads); err != nil {
			lose.Lose("gc: heap verification failed: %v", err)
		}
	}
	c.rt.StartTheWorld(self)
	c.rt.EmptyRecycleBin()
	return true
}

func (c *Collector) collect(threads []*thread.Thread, gen heap.Gen) {
	space := c.space
	target, label := gen+1, gen+1
	if gen == heap.NumNormalGenerations-1 {
		target = heap.Scratch
		label = gen
	}

	before := make([]heap.Gen, space.NumPages())
	for i := range before {
		before[i] = space.Page(i).Gen
	}
	space.SetCondemned(gen)
	c.copier.Begin(target, label)
	copied := c.copier.CopiedWords()

	for _, t := range threads {
		roots := t.Roots()
		for i, r := range roots {
			if space.FromSpace(r) {
				roots[i] = c.evacuate(r)
			}
		}
	}

	// Younger generations are scanned whole, older ones only where the card
	// is dirty. Pages allocated since the snapshot hold copies, which are
	// reached through the copier's queue.
	table := c.barrier.Table()
	for i, g := range before {
		if g == heap.FreeGen || g == gen {
			continue
		}
		if g > gen && !table.IsDirty(i) {
			continue
		}
		c.scavengePage(i)
	}
	c.drain()

	redirected, broken := c.chain.Resolve()
	vr, vb := c.vectors.Resolve()
	redirected += vr
	broken += vb
	c.copier.Finish()

	freed := space.Pool.PagesOf(gen)
	for _, i := range freed {
		c.barrier.Release(i)
		space.Pool.Release(i)
	}
	if target == heap.Scratch {
		space.Pool.Relabel(heap.Scratch, label)
	}

	for i := range before {
		pg := space.Page(i)
		if pg.Free() || pg.Gen == 0 {
			continue
		}
		if pg.Gen == before[i] && !table.IsDirty(i) {
			continue
		}
		c.reprotect(i)
	}

	c.fwd.Reset()
	space.SetCondemned(heap.NoGen)

	c.statsMu.Lock()
	c.stats.Collections++
	c.stats.CopiedWords += c.copier.CopiedWords() - copied
	c.stats.FreedPages += len(freed)
	c.stats.Redirected += redirected
	c.stats.Broken += broken
	c.statsMu.Unlock()
	c.logf("collected %v into %v: %d words copied, %d pages freed, %d weak references broken",
		gen, label, c.copier.CopiedWords()-copied, len(freed), broken)
}

// evacuate returns the new location of the from-space object v, copying it
// first if this cycle hasn't.
func (c *Collector) evacuate(v heap.Ref) heap.Ref {
	if n, ok := c.fwd.Lookup(v); ok {
		return n
	}
	h := c.space.Header(v)
	l := layoutOf(h)
	if l == nil {
		lose.Lose("gc: unknown widetag %#x in object %v", h.Widetag(), v)
	}
	return c.copier.CopyPossiblyLarge(v, h.Words(), l.typ)
}

func (c *Collector) update(a heap.Addr, v heap.Ref) {
	c.barrier.EnsureWritable(a)
	c.space.Store(a, uint64(v))
}

func (c *Collector) scavengePage(i int) {
	lo := c.space.PageAddr(i)
	hi := lo + heap.Addr(c.space.Page(i).Used)
	c.space.Walk(i, func(obj heap.Addr, h heap.Header) bool {
		c.scavengeObject(obj, h, lo, hi)
		return true
	})
}

// scavengeObject evacuates what the words of obj in [lo, hi) refer to.
func (c *Collector) scavengeObject(obj heap.Addr, h heap.Header, lo, hi heap.Addr) {
	l := layoutOf(h)
	if l == nil {
		lose.Lose("gc: unknown widetag %#x at %#x", h.Widetag(), uintptr(obj))
	}
	if l.weak {
		r := heap.MakeRef(obj, heap.OtherLowtag)
		if h.Widetag() == heap.WeakPointerWidetag {
			c.scavengeWeak(r)
		} else {
			c.vectors.Add(r)
		}
		return
	}
	eachPointer(c.space, obj, h, l, lo, hi, false, func(a heap.Addr, v heap.Ref) {
		if c.space.FromSpace(v) {
			c.update(a, c.evacuate(v))
		}
	})
}

// scavengeWeak leaves the referent of wp alone. A referent that was already
// copied is redirected at once; one that may still die puts wp on the chain.
func (c *Collector) scavengeWeak(wp heap.Ref) {
	v := weak.Value(c.space, wp)
	if !c.space.FromSpace(v) {
		return
	}
	if c.chain.Breakable(wp) {
		c.chain.Enqueue(wp)
		return
	}
	n, _ := c.fwd.Lookup(v)
	c.update(heap.Slot(wp, weak.ValueSlot), n)
}

// drain scavenges copies until none is left.
func (c *Collector) drain() {
	for {
		r, ok := c.copier.Next()
		if !ok {
			return
		}
		h := c.space.Header(r)
		end := r.Addr() + heap.Addr(h.Words()*heap.WordBytes)
		c.scavengeObject(r.Addr(), h, r.Addr(), end)
	}
}

// reprotect rescans page i. A page that refers to a younger generation keeps
// its dirty card; any other is write protected with a clean card.
func (c *Collector) reprotect(i int) {
	if c.pointsYounger(i) {
		c.barrier.Unprotect(i)
		return
	}
	if c.space.Page(i).Type == heap.PageCode {
		c.forgetWrites(i)
	}
	c.barrier.Protect(i)
}

func (c *Collector) pointsYounger(i int) bool {
	space := c.space
	g := space.Page(i).Gen
	lo := space.PageAddr(i)
	hi := lo + heap.Addr(space.Page(i).Used)
	found := false
	space.Walk(i, func(obj heap.Addr, h heap.Header) bool {
		l := layoutOf(h)
		if l == nil {
			lose.Lose("gc: unknown widetag %#x at %#x", h.Widetag(), uintptr(obj))
		}
		eachPointer(space, obj, h, l, lo, hi, true, func(a heap.Addr, v heap.Ref) {
			if vg := space.GenOf(v); vg >= 0 && vg < g {
				found = true
			}
		})
		return !found
	})
	return found
}

// forgetWrites clears the written flag of the code objects on page i.
func (c *Collector) forgetWrites(i int) {
	start := c.space.PageAddr(i)
	c.space.Walk(i, func(obj heap.Addr, h heap.Header) bool {
		if obj >= start && h.Widetag() == heap.CodeWidetag && h.Written() {
			c.update(obj, heap.Ref(h.WithoutWritten()))
		}
		return true
	})
}
