// Package heap describes the dynamic space the collector runs on: a single
// arena carved into fixed-size pages, a page table recording which generation
// owns each page and how much of it is in use, tagged references into the
// arena, and the bump-pointer regions threads allocate from.
//
// A page is also the write-barrier granularity, so a page index doubles as a
// card index everywhere in the collector.
//
// The heap is word addressed. Every object occupies an even number of words, so
// objects are 16-byte aligned and the low four bits of a reference are free to
// hold a lowtag:
//
//	 63                                   4 3  0
//	+--------------------------------------+----+
//	|          address of the object        |tag |
//	+--------------------------------------+----+
//
// A lowtag with both low bits set is a heap pointer. Fixnums have a clear low
// bit. Anything else is an immediate, such as Unbound.
package heap

import "fmt"

// WordBytes is the size of a heap word.
const WordBytes = 8

// Addr is an untagged address inside the arena.
type Addr uintptr

// Gen is a generation number.
type Gen int8

const (
	// NumNormalGenerations is the number of generations objects age through.
	NumNormalGenerations = 6

	// PseudoStatic is the long-lived generation. It is never condemned.
	PseudoStatic Gen = 6

	// Scratch is the target of a collection of the oldest normal generation.
	// Its pages are relabelled back to that generation when the cycle ends.
	Scratch Gen = 7

	// NumGenerations counts every generation including PseudoStatic and Scratch.
	NumGenerations = 8

	// FreeGen marks a page that belongs to no generation.
	FreeGen Gen = -1

	// NoGen is the condemned generation while no collection is running.
	NoGen Gen = -2
)

func (g Gen) String() string {
	switch g {
	case PseudoStatic:
		return "pseudo-static"
	case Scratch:
		return "scratch"
	case FreeGen:
		return "free"
	case NoGen:
		return "none"
	}
	return fmt.Sprintf("gen%d", int(g))
}

// PageType classifies what kind of objects a page holds. Objects of different
// types never share a page, which is what lets the collector skip unboxed
// pages when it scans cards.
type PageType uint8

const (
	PageBoxed PageType = iota + 1
	PageMixed
	PageUnboxed
	PageCode
)

// NumPageTypes is the number of page types, and so the number of allocation
// regions a thread keeps open.
const NumPageTypes = 4

func (t PageType) String() string {
	switch t {
	case PageBoxed:
		return "boxed"
	case PageMixed:
		return "mixed"
	case PageUnboxed:
		return "unboxed"
	case PageCode:
		return "code"
	}
	return fmt.Sprintf("PageType(%d)", uint8(t))
}

// Index returns a dense 0-based index usable for per-type arrays.
func (t PageType) Index() int {
	return int(t) - 1
}

// Ref is a tagged word. It may be a heap pointer, a fixnum, or an immediate.
type Ref uint64

const (
	lowtagMask = 0xf

	// Pointer lowtags. All of them have the two low bits set.
	InstanceLowtag = 0x3
	ListLowtag     = 0x7
	FunLowtag      = 0xb
	OtherLowtag    = 0xf
)

// Unbound is the value stored into a weak pointer whose referent died. It is
// not a pointer, so a broken weak pointer is never breakable again.
const Unbound Ref = 0x09

// MakeRef tags a (16-byte aligned) address.
func MakeRef(a Addr, lowtag uint8) Ref {
	return Ref(uint64(a) | uint64(lowtag&lowtagMask))
}

// Fixnum returns the fixnum representation of n.
func Fixnum(n int64) Ref {
	return Ref(uint64(n) << 1)
}

// IsPointer reports whether r refers to a heap object.
func (r Ref) IsPointer() bool {
	return r&3 == 3
}

// IsFixnum reports whether r is a fixnum.
func (r Ref) IsFixnum() bool {
	return r&1 == 0
}

// FixnumValue returns the integer a fixnum holds.
func (r Ref) FixnumValue() int64 {
	return int64(r) >> 1
}

// Lowtag returns the low four tag bits.
func (r Ref) Lowtag() uint8 {
	return uint8(r & lowtagMask)
}

// Addr returns the untagged address of a pointer.
func (r Ref) Addr() Addr {
	return Addr(r &^ lowtagMask)
}

func (r Ref) String() string {
	switch {
	case r == Unbound:
		return "#<unbound>"
	case r.IsPointer():
		return fmt.Sprintf("#<ptr %#x/%x>", uintptr(r.Addr()), r.Lowtag())
	case r.IsFixnum():
		return fmt.Sprintf("%d", r.FixnumValue())
	}
	return fmt.Sprintf("#<imm %#x>", uint64(r))
}

// AlignWords rounds a word count up to the even number every object occupies.
func AlignWords(n int) int {
	return (n + 1) &^ 1
}
