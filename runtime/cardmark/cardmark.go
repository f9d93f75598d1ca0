// Package cardmark implements the card table and the write barrier in front of
// it.
//
// A card records that a page received a pointer store since the collector last
// rescanned it, which bounds the cost of a partial collection to the dirty
// cards of the older generations. There are two ways to keep the marks:
//
//   - The software barrier checks and marks the card inline before every
//     pointer store. No signal handler is involved.
//   - The hardware barrier write-protects clean pages. The first store to such
//     a page faults, and the fault handler unprotects the page and marks it.
//     Later stores to the same page run at full speed.
//
// Both present the same Barrier interface to the collector. A dirty card never
// becomes clean again except through Protect, which the collector calls only
// after a rescan found no reference from the page to a younger generation.
package cardmark

import (
	"fmt"
	"sync/atomic"

	"github.com/tinygo-org/gencgc/runtime/heap"
)

// Kind selects a barrier implementation.
type Kind uint8

const (
	Software Kind = iota
	Hardware
)

func (k Kind) String() string {
	switch k {
	case Software:
		return "soft"
	case Hardware:
		return "hard"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind accepts the names printed by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "soft", "software":
		return Software, nil
	case "hard", "hardware":
		return Hardware, nil
	}
	return 0, fmt.Errorf("cardmark: unknown barrier kind %q", s)
}

// Barrier is the write barrier as seen by mutators and the collector.
type Barrier interface {
	Kind() Kind

	// Table returns the card marks.
	Table() *Table

	// Store performs a mutator pointer store of v at a.
	Store(a heap.Addr, v uint64)

	// EnsureWritable prepares a collector-side store to a: the page is made
	// writable and its card marked, without going through a fault.
	EnsureWritable(a heap.Addr)

	// Unprotect removes write protection from a page and marks its card.
	Unprotect(page int)

	// Protect clears the card of a page that a rescan found to hold no
	// old-to-young references and, for the hardware barrier, write-protects
	// it again. It must not race with a fault on the same page.
	Protect(page int)

	// Release resets the page's card and protection state before the page
	// goes back to the free pool.
	Release(page int)

	// Faults returns how many protection faults unprotected a page.
	Faults() uint64
}

// New returns a barrier of the given kind for space.
func New(kind Kind, space *heap.Space) (Barrier, error) {
	switch kind {
	case Software:
		return NewSoftware(space), nil
	case Hardware:
		b, err := NewHardware(space)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("cardmark: unknown barrier kind %v", kind)
}

// Table holds one mark per card. Each card is touched either by a mutator's
// barrier or by the collector while the world is stopped, so marks need no
// lock; they are atomic so that two mutators marking the same card don't race.
type Table struct {
	marks []atomic.Uint32
}

const (
	cardClean uint32 = iota
	cardDirty
)

// NewTable returns a table of n clean cards.
func NewTable(n int) *Table {
	return &Table{marks: make([]atomic.Uint32, n)}
}

func (t *Table) Len() int {
	return len(t.marks)
}

// MarkDirty marks card i. Marking a dirty card does nothing.
func (t *Table) MarkDirty(i int) {
	m := &t.marks[i]
	if m.Load() != cardDirty {
		m.Store(cardDirty)
	}
}

func (t *Table) IsDirty(i int) bool {
	return t.marks[i].Load() == cardDirty
}

// Dirty returns the indices of every dirty card.
func (t *Table) Dirty() []int {
	var out []int
	for i := range t.marks {
		if t.marks[i].Load() == cardDirty {
			out = append(out, i)
		}
	}
	return out
}

func (t *Table) clear(i int) {
	t.marks[i].Store(cardClean)
}
