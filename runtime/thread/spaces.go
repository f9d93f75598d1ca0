package thread

import (
	"sync"

	"github.com/tinygo-org/gencgc/runtime/heap"
)

// Spaces is the backing memory of a thread: its control stack. The stack
// grows down from the end of the slice.
type Spaces struct {
	stack []heap.Ref
	next  *Spaces
}

func newSpaces(words int) *Spaces {
	return &Spaces{stack: make([]heap.Ref, words)}
}

// scrub zeroes the top n words of the control stack, where a new thread
// starts pushing.
func (s *Spaces) scrub(n int) {
	if n > len(s.stack) {
		n = len(s.stack)
	}
	top := s.stack[len(s.stack)-n:]
	for i := range top {
		top[i] = 0
	}
}

// recycleBin holds the backing memory of dead threads for reuse. It has its own
// lock so that detaching threads never wait for a stop-the-world pause.
type recycleBin struct {
	mu   sync.Mutex
	head *Spaces
	n    int
}

func (b *recycleBin) put(s *Spaces) {
	b.mu.Lock()
	s.next = b.head
	b.head = s
	b.n++
	b.mu.Unlock()
}

// get returns recycled memory, or nil if the bin is empty.
func (b *recycleBin) get() *Spaces {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.head
	if s == nil {
		return nil
	}
	b.head = s.next
	s.next = nil
	b.n--
	return s
}

// empty drops everything in the bin unless the bin is busy, in which case it
// returns -1 and leaves it alone.
func (b *recycleBin) empty() int {
	if !b.mu.TryLock() {
		return -1
	}
	n := b.n
	b.head = nil
	b.n = 0
	b.mu.Unlock()
	return n
}

func (b *recycleBin) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}
