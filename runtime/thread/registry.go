package thread

import (
	"sync"
)

// Registry is the list of live threads. Its lock is held by a coordinator for
// the whole of a stop-the-world pause, so while the world is stopped no thread
// can join or leave.
type Registry struct {
	mu   sync.Mutex
	head *Thread
	n    int
}

// link puts t at the front of the list. The caller holds r.mu.
func (r *Registry) link(t *Thread) {
	t.prev = nil
	t.next = r.head
	if r.head != nil {
		r.head.prev = t
	}
	r.head = t
	r.n++
}

// unlink removes t. The caller holds r.mu.
func (r *Registry) unlink(t *Thread) {
	if t.prev != nil {
		t.prev.next = t.next
	} else {
		r.head = t.next
	}
	if t.next != nil {
		t.next.prev = t.prev
	}
	t.prev, t.next = nil, nil
	r.n--
}

// each calls fn for every thread. The caller holds r.mu.
func (r *Registry) each(fn func(t *Thread)) {
	for t := r.head; t != nil; {
		next := t.next
		fn(t)
		t = next
	}
}

// Len returns the number of registered threads.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Threads returns a snapshot of the registered threads.
func (r *Registry) Threads() []*Thread {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.threadsLocked()
}

func (r *Registry) threadsLocked() []*Thread {
	ts := make([]*Thread, 0, r.n)
	r.each(func(t *Thread) { ts = append(ts, t) })
	return ts
}
