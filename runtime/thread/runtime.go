package thread

import (
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinygo-org/gencgc/internal/lose"
	"github.com/tinygo-org/gencgc/runtime/cardmark"
	"github.com/tinygo-org/gencgc/runtime/heap"
)

// Default sizes of a thread's backing memory.
const (
	DefaultStackWords = 1 << 14
	DefaultScrubBytes = 1 << 12
)

// Config describes the backing memory of new threads.
type Config struct {
	// StackWords is the size of a control stack.
	StackWords int

	// ScrubBytes of the top of a recycled control stack are zeroed before
	// reuse.
	ScrubBytes int

	// Logger receives stop-the-world traces. Nil disables them.
	Logger *log.Logger
}

// Runtime is the set of threads sharing a heap.
type Runtime struct {
	space   *heap.Space
	barrier cardmark.Barrier
	cfg     Config

	registry Registry
	bin      recycleBin
	nextID   atomic.Uint64

	// Set by StopTheWorld, read by StartTheWorld; both hold the registry lock.
	stopStart time.Time
	gcStart   time.Time

	statsMu sync.Mutex
	stats   Stats
}

// NewRuntime returns a runtime with no threads.
func NewRuntime(space *heap.Space, barrier cardmark.Barrier, cfg Config) *Runtime {
	if cfg.StackWords <= 0 {
		cfg.StackWords = DefaultStackWords
	}
	if cfg.ScrubBytes <= 0 {
		cfg.ScrubBytes = DefaultScrubBytes
	}
	return &Runtime{space: space, barrier: barrier, cfg: cfg}
}

// Space returns the heap shared by rt's threads.
func (rt *Runtime) Space() *heap.Space {
	return rt.space
}

// Barrier returns the write barrier every store goes through.
func (rt *Runtime) Barrier() cardmark.Barrier {
	return rt.barrier
}

// Registry returns the registry of rt's threads.
func (rt *Runtime) Registry() *Registry {
	return &rt.registry
}

func (rt *Runtime) logf(format string, args ...interface{}) {
	if rt.cfg.Logger != nil {
		rt.cfg.Logger.Printf(format, args...)
	}
}

// Attach registers the calling goroutine as a thread and locks it to its OS
// thread. The thread starts out running. Backing memory left by a dead thread
// is reused, with the top of its control stack scrubbed.
func (rt *Runtime) Attach() *Thread {
	runtime.LockOSThread()
	spaces := rt.bin.get()
	if spaces != nil {
		spaces.scrub(rt.cfg.ScrubBytes / heap.WordBytes)
	} else {
		spaces = newSpaces(rt.cfg.StackWords)
	}
	t := newThread(rt, spaces)
	t.id = rt.nextID.Add(1)
	t.osTID = gettid()

	rt.registry.mu.Lock()
	rt.registry.link(t)
	rt.registry.mu.Unlock()
	rt.logf("thread %d attached (tid %d)", t.id, t.osTID)
	return t
}

// EmptyRecycleBin drops the backing memory of dead threads. If a thread is
// attaching or detaching at the same time it does nothing and returns -1.
func (rt *Runtime) EmptyRecycleBin() int {
	return rt.bin.empty()
}

// Recycled returns the number of backing memories waiting for reuse.
func (rt *Runtime) Recycled() int {
	return rt.bin.len()
}

// StopTheWorld stops every thread but self, which may be nil when the caller
// is not a registered thread. It returns with the registry locked; the world
// stays stopped until StartTheWorld.
func (rt *Runtime) StopTheWorld(self *Thread) {
	start := time.Now()

	// Another coordinator may want to stop us while we wait for the lock.
	if self != nil {
		self.EnterBlocking()
	}
	rt.registry.mu.Lock()
	if self != nil {
		self.ExitBlocking()
	}
	rt.stopStart = start

	n := 0
	rt.registry.each(func(t *Thread) {
		if t == self {
			return
		}
		t.mu.Lock()
		if t.state == Running {
			if t.blocking {
				t.setStateLocked(Stopped)
			} else {
				t.deliverLocked()
			}
			n++
		}
		t.mu.Unlock()
	})
	rt.registry.each(func(t *Thread) {
		if t == self {
			return
		}
		if st := t.WaitUntilNot(Running); st != Stopped && st != Dead {
			lose.Lose("thread %d: in state %v after stop", t.id, st)
		}
	})
	rt.gcStart = time.Now()
	rt.logf("stopped %d threads in %v", n, rt.gcStart.Sub(start))
}

// StartTheWorld resumes every stopped thread and unlocks the registry. Only
// the coordinator that stopped the world may call it.
func (rt *Runtime) StartTheWorld(self *Thread) {
	end := time.Now()
	rt.recordPause(rt.gcStart.Sub(rt.stopStart), end.Sub(rt.gcStart))

	rt.registry.each(func(t *Thread) {
		if t == self {
			return
		}
		t.mu.Lock()
		switch t.state {
		case Stopped:
			t.setStateLocked(Running)
		case Dead:
		default:
			st := t.state
			t.mu.Unlock()
			lose.Lose("thread %d: in state %v while the world is stopped", t.id, st)
			return
		}
		t.mu.Unlock()
	})
	rt.registry.mu.Unlock()
	rt.logf("world started after %v", end.Sub(rt.gcStart))
}

// EachStopped calls fn for every registered thread. It may only be called
// between StopTheWorld and StartTheWorld by the coordinator.
func (rt *Runtime) EachStopped(fn func(t *Thread)) {
	rt.registry.each(fn)
}
