package thread

import (
	"fmt"

	"github.com/tinygo-org/gencgc/internal/lose"
)

// State is the collector's view of a thread.
type State uint32

const (
	// Running threads may touch the heap.
	Running State = iota + 1

	// Stopped threads are parked for a collection.
	Stopped

	// Dead threads are about to leave the registry. Dead is terminal.
	Dead
)

func (s State) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Stopped:
		return "STOPPED"
	case Dead:
		return "DEAD"
	}
	return fmt.Sprintf("State(%d)", uint32(s))
}

// State returns the current state of t.
func (t *Thread) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetState moves t to state s and wakes whoever waits for t to leave its old
// state. Setting the current state does nothing.
func (t *Thread) SetState(s State) {
	t.mu.Lock()
	t.setStateLocked(s)
	t.mu.Unlock()
}

func (t *Thread) setStateLocked(s State) {
	if t.state == s {
		return
	}
	if t.state == Dead {
		lose.Lose("thread %d: state change %v -> %v after death", t.id, t.state, s)
	}
	if s == Stopped || s == Dead {
		t.notRunning.Broadcast()
	}
	if s == Running || s == Dead {
		t.notStopped.Broadcast()
	}
	t.state = s
}

// WaitUntilNot blocks until t's state is something other than s and returns
// the state it found. Only Running and Stopped can be waited out.
func (t *Thread) WaitUntilNot(s State) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.state == s {
		switch s {
		case Running:
			t.notRunning.Wait()
		case Stopped:
			t.notStopped.Wait()
		default:
			lose.Lose("thread %d: can't wait for a thread to leave %v", t.id, s)
		}
	}
	return t.state
}
