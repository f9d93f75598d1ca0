// Package thread keeps track of the mutator threads of a heap and stops them
// for collections.
//
// A Thread is a goroutine locked to its OS thread that touches the heap. The
// collector's only way to reach one is a suspend request: a flag the thread
// polls at safepoints. Allocation and pointer stores run pseudo-atomically; a
// suspend request that arrives inside such a section is remembered and honored
// when the section ends. A thread that is about to block somewhere the
// collector can't reach declares a blocking region, and the coordinator
// acknowledges suspend requests on its behalf while it is in there.
package thread

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/tinygo-org/gencgc/internal/lose"
	"github.com/tinygo-org/gencgc/runtime/heap"
	"github.com/tinygo-org/gencgc/runtime/weak"
)

// Thread is a registered mutator.
type Thread struct {
	rt    *Runtime
	id    uint64
	osTID int

	// Registry links, guarded by the registry lock.
	prev, next *Thread

	mu         sync.Mutex // guards state, blocking, installed
	state      State
	notRunning sync.Cond
	notStopped sync.Cond
	blocking   bool
	installed  bool // whether the thread takes suspend requests

	stopPending atomic.Bool

	// Only touched by the thread itself.
	paActive          bool
	paInterrupted     bool
	interruptsBlocked bool
	allocs            uint64

	spaces  *Spaces
	sp      int
	regions [heap.NumPageTypes]heap.Region
}

func newThread(rt *Runtime, spaces *Spaces) *Thread {
	t := &Thread{
		rt:        rt,
		state:     Running,
		installed: true,
		spaces:    spaces,
		sp:        len(spaces.stack),
	}
	t.notRunning.L = &t.mu
	t.notStopped.L = &t.mu
	return t
}

// ID returns the registry-assigned id of t.
func (t *Thread) ID() uint64 {
	return t.id
}

// OSThread returns the kernel thread id t is locked to, or 0 where that isn't
// known.
func (t *Thread) OSThread() int {
	return t.osTID
}

// Allocs returns how many objects t allocated.
func (t *Thread) Allocs() uint64 {
	return t.allocs
}

// deliverLocked posts a suspend request to t. The caller holds t.mu and has
// seen t running outside a blocking region.
func (t *Thread) deliverLocked() {
	if !t.installed {
		lose.Lose("thread %d: can't deliver suspend request", t.id)
	}
	t.stopPending.Store(true)
}

// Safepoint honors a pending suspend request. Inside a pseudo-atomic section
// the request is only recorded and handled by EndPseudoAtomic.
func (t *Thread) Safepoint() {
	if t.interruptsBlocked || !t.stopPending.Load() {
		return
	}
	if t.paActive {
		t.paInterrupted = true
		return
	}
	t.stopForGC()
}

func (t *Thread) stopForGC() {
	t.stopPending.Store(false)
	t.SetState(Stopped)
	if st := t.WaitUntilNot(Stopped); st != Running {
		lose.Lose("thread %d: resumed in state %v", t.id, st)
	}
}

// BeginPseudoAtomic starts a section that a collection can't interrupt.
func (t *Thread) BeginPseudoAtomic() {
	if t.paActive {
		lose.Lose("thread %d: nested pseudo-atomic section", t.id)
	}
	t.paActive = true
}

// EndPseudoAtomic ends the section and stops for a collection that was
// requested during it.
func (t *Thread) EndPseudoAtomic() {
	t.paActive = false
	if t.paInterrupted {
		t.paInterrupted = false
		t.stopForGC()
		return
	}
	t.Safepoint()
}

// InPseudoAtomic reports whether t is inside a pseudo-atomic section.
func (t *Thread) InPseudoAtomic() bool {
	return t.paActive
}

// EnterBlocking marks the start of a region in which t doesn't touch the heap
// and may block indefinitely. A suspend request already posted is
// acknowledged here.
func (t *Thread) EnterBlocking() {
	if t.paActive {
		lose.Lose("thread %d: blocking inside a pseudo-atomic section", t.id)
	}
	t.mu.Lock()
	t.blocking = true
	if t.stopPending.Load() && !t.interruptsBlocked {
		t.stopPending.Store(false)
		t.setStateLocked(Stopped)
	}
	t.mu.Unlock()
}

// ExitBlocking ends a blocking region, waiting for the collection that stopped
// t meanwhile, if any.
func (t *Thread) ExitBlocking() {
	t.mu.Lock()
	t.blocking = false
	for t.state == Stopped {
		t.notStopped.Wait()
	}
	st := t.state
	t.mu.Unlock()
	if st != Running {
		lose.Lose("thread %d: left blocking region in state %v", t.id, st)
	}
}

// Push puts r on t's control stack, which the collector scans as roots.
func (t *Thread) Push(r heap.Ref) {
	if t.sp == 0 {
		lose.Lose("thread %d: control stack exhausted", t.id)
	}
	t.sp--
	t.spaces.stack[t.sp] = r
}

// Pop removes and returns the top of the control stack.
func (t *Thread) Pop() heap.Ref {
	if t.sp == len(t.spaces.stack) {
		lose.Lose("thread %d: control stack underflow", t.id)
	}
	r := t.spaces.stack[t.sp]
	t.spaces.stack[t.sp] = 0
	t.sp++
	return r
}

// Peek returns the entry depth slots below the top of the control stack.
func (t *Thread) Peek(depth int) heap.Ref {
	return t.spaces.stack[t.sp+depth]
}

// Poke replaces the entry depth slots below the top of the control stack.
func (t *Thread) Poke(depth int, r heap.Ref) {
	t.spaces.stack[t.sp+depth] = r
}

// Depth returns the number of entries on the control stack.
func (t *Thread) Depth() int {
	return len(t.spaces.stack) - t.sp
}

// Roots returns the live part of the control stack. The collector updates it
// in place while the world is stopped.
func (t *Thread) Roots() []heap.Ref {
	return t.spaces.stack[t.sp:]
}

// Alloc allocates a zeroed object in generation 0 and pushes it on the control
// stack before the allocation can be interrupted. The returned reference is
// valid until t's next safepoint; after that, read it back with Peek.
func (t *Thread) Alloc(widetag uint8, length int, bitmap uint32) heap.Ref {
	if length < 0 || length > heap.MaxLength {
		lose.Lose("thread %d: bad object length %d", t.id, length)
	}
	t.BeginPseudoAtomic()
	r := t.alloc(widetag, length, bitmap)
	t.Push(r)
	t.EndPseudoAtomic()
	return r
}

func (t *Thread) alloc(widetag uint8, length int, bitmap uint32) heap.Ref {
	nwords := heap.AlignWords(1 + length)
	typ := heap.PageTypeOf(widetag)
	space := t.rt.space
	a := space.Pool.Alloc(&t.regions[typ.Index()], uintptr(nwords*heap.WordBytes), 0, typ)
	space.Store(a, uint64(heap.MakeHeader(widetag, length, 0, bitmap)))
	t.allocs++
	return heap.MakeRef(a, heap.LowtagOf(widetag))
}

// NewWeakPointer allocates a weak pointer to value and pushes it on the
// control stack.
func (t *Thread) NewWeakPointer(value heap.Ref) heap.Ref {
	t.BeginPseudoAtomic()
	typ := heap.PageTypeOf(heap.WeakPointerWidetag)
	a := t.rt.space.Pool.Alloc(&t.regions[typ.Index()], weak.Words*heap.WordBytes, 0, typ)
	wp := weak.Init(t.rt.space, a, 0, value)
	t.allocs++
	t.Push(wp)
	t.EndPseudoAtomic()
	return wp
}

// StoreRef stores val into payload slot i of obj through the write barrier.
func (t *Thread) StoreRef(obj heap.Ref, i int, val heap.Ref) {
	space := t.rt.space
	h := space.Header(obj)
	if i < 0 || i >= h.Length() {
		lose.Lose("thread %d: slot %d out of range for %v", t.id, i, obj)
	}
	t.BeginPseudoAtomic()
	t.rt.barrier.Store(heap.Slot(obj, i), uint64(val))
	if h.Widetag() == heap.CodeWidetag && !h.Written() {
		t.rt.barrier.Store(obj.Addr(), uint64(h.WithWritten()))
	}
	t.EndPseudoAtomic()
}

// LoadRef reads payload slot i of obj.
func (t *Thread) LoadRef(obj heap.Ref, i int) heap.Ref {
	return heap.Ref(t.rt.space.Load(heap.Slot(obj, i)))
}

// Region returns t's allocation region for page type typ.
func (t *Thread) Region(typ heap.PageType) *heap.Region {
	return &t.regions[typ.Index()]
}

// CloseRegions returns the unused part of t's allocation regions to the pool.
// The collector calls it for every thread while the world is stopped.
func (t *Thread) CloseRegions() {
	for i := range t.regions {
		t.rt.space.Pool.Close(&t.regions[i])
	}
}

// Detach removes t from the registry. It must be called on the goroutine that
// attached t.
func (t *Thread) Detach() {
	rt := t.rt
	t.interruptsBlocked = true
	t.SetState(Dead)

	rt.registry.mu.Lock()
	t.CloseRegions()
	rt.registry.unlink(t)
	rt.registry.mu.Unlock()

	t.mu.Lock()
	t.installed = false
	t.mu.Unlock()
	t.stopPending.Store(false)

	spaces := t.spaces
	t.spaces = nil
	t.sp = 0
	rt.bin.put(spaces)
	runtime.UnlockOSThread()
	rt.logf("thread %d detached", t.id)
}
