package heap

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Page protection bits, kept in Page.wp.
const (
	// WPProtected is set while the page is write protected.
	WPProtected uint32 = 1 << iota

	// WPCleared records that protection was lifted since the page was last
	// freed. It is never reset by re-protecting, so a thread whose fault lost
	// the race to unprotect the page can still conclude the fault was valid.
	WPCleared
)

// Page is one entry of the page table.
type Page struct {
	Gen  Gen
	Type PageType

	// Used is the number of bytes in use, counted from the page start.
	Used uintptr

	// ScanStart is the start of the large object that covers this page, or 0
	// when the first object on the page starts at the page boundary.
	ScanStart Addr

	// Open is set while the page belongs to an allocation region, during
	// which Used is not yet known.
	Open bool

	// Large is set on every page of a large object.
	Large bool

	wp atomic.Uint32
}

// Free reports whether the page belongs to no generation.
func (p *Page) Free() bool {
	return p.Gen == FreeGen
}

// Space is the dynamic space: the arena plus its page table.
type Space struct {
	mem       []byte
	base      Addr
	end       Addr
	cardBytes uintptr
	cardShift uint
	pages     []Page
	condemned atomic.Int32

	Pool Pool
}

// NewSpace maps an arena of size bytes divided into pages of cardBytes. Both
// must be powers of two and size a multiple of cardBytes.
func NewSpace(size, cardBytes uintptr) (*Space, error) {
	if cardBytes == 0 || cardBytes&(cardBytes-1) != 0 {
		return nil, fmt.Errorf("heap: card size %d is not a power of two", cardBytes)
	}
	if cardBytes < 16*WordBytes {
		return nil, fmt.Errorf("heap: card size %d too small", cardBytes)
	}
	if size == 0 || size%cardBytes != 0 {
		return nil, fmt.Errorf("heap: size %d is not a multiple of the card size %d", size, cardBytes)
	}
	mem, err := mapArena(size)
	if err != nil {
		return nil, fmt.Errorf("heap: mapping %d bytes: %w", size, err)
	}
	s := &Space{
		mem:       mem,
		base:      Addr(unsafe.Pointer(&mem[0])),
		cardBytes: cardBytes,
		pages:     make([]Page, size/cardBytes),
	}
	if uintptr(s.base)%cardBytes != 0 {
		unmapArena(mem)
		return nil, errors.New("heap: arena is not aligned to the card size")
	}
	s.end = s.base + Addr(size)
	for cardBytes > 1 {
		cardBytes >>= 1
		s.cardShift++
	}
	for i := range s.pages {
		s.pages[i].Gen = FreeGen
	}
	s.condemned.Store(int32(NoGen))
	s.Pool.init(s)
	return s, nil
}

// Close unmaps the arena. The space must not be used afterwards.
func (s *Space) Close() error {
	if s.mem == nil {
		return nil
	}
	err := unmapArena(s.mem)
	s.mem = nil
	return err
}

func (s *Space) CardBytes() uintptr {
	return s.cardBytes
}

func (s *Space) NumPages() int {
	return len(s.pages)
}

func (s *Space) Base() Addr {
	return s.base
}

func (s *Space) End() Addr {
	return s.end
}

// Page returns the page table entry of page i.
func (s *Space) Page(i int) *Page {
	return &s.pages[i]
}

// PageIndex returns the page containing a, or -1 if a is outside the arena.
func (s *Space) PageIndex(a Addr) int {
	if a < s.base || a >= s.end {
		return -1
	}
	return int(uintptr(a-s.base) >> s.cardShift)
}

// PageAddr returns the address of the first byte of page i.
func (s *Space) PageAddr(i int) Addr {
	return s.base + Addr(uintptr(i)<<s.cardShift)
}

// PageBytes returns the memory of page i, for changing its protection.
func (s *Space) PageBytes(i int) []byte {
	off := uintptr(i) << s.cardShift
	return s.mem[off : off+s.cardBytes : off+s.cardBytes]
}

// Contains reports whether r points into the arena.
func (s *Space) Contains(r Ref) bool {
	return r.IsPointer() && s.PageIndex(r.Addr()) >= 0
}

// GenOf returns the generation owning the page r points into.
func (s *Space) GenOf(r Ref) Gen {
	i := s.PageIndex(r.Addr())
	if i < 0 {
		return FreeGen
	}
	return s.pages[i].Gen
}

// Load reads the word at a.
func (s *Space) Load(a Addr) uint64 {
	return *(*uint64)(unsafe.Pointer(a))
}

// Store writes the word at a with no write barrier.
func (s *Space) Store(a Addr, v uint64) {
	*(*uint64)(unsafe.Pointer(a)) = v
}

// Words returns the n words starting at a.
func (s *Space) Words(a Addr, n int) []uint64 {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*uint64)(unsafe.Pointer(a)), n)
}

// Header returns the header of the object r points to.
func (s *Space) Header(r Ref) Header {
	return Header(s.Load(r.Addr()))
}

// Slot returns the address of payload word i of the object r points to.
func Slot(r Ref, i int) Addr {
	return r.Addr() + Addr((1+i)*WordBytes)
}

// SetCondemned records which generation the running collection evacuates.
// Pass NoGen when the collection ends.
func (s *Space) SetCondemned(g Gen) {
	s.condemned.Store(int32(g))
}

func (s *Space) Condemned() Gen {
	return Gen(s.condemned.Load())
}

// FromSpace reports whether r points into the condemned generation.
func (s *Space) FromSpace(r Ref) bool {
	if !r.IsPointer() {
		return false
	}
	i := s.PageIndex(r.Addr())
	if i < 0 {
		return false
	}
	g := s.Condemned()
	return g != NoGen && s.pages[i].Gen == g
}

// Protection returns the protection bits of page i.
func (s *Space) Protection(i int) uint32 {
	return s.pages[i].wp.Load()
}

// MarkProtected sets WPProtected, leaving WPCleared alone.
func (s *Space) MarkProtected(i int) {
	wp := &s.pages[i].wp
	for {
		old := wp.Load()
		if wp.CompareAndSwap(old, old|WPProtected) {
			return
		}
	}
}

// ClaimUnprotect atomically turns a protected page into an unprotected one
// with WPCleared set. Exactly one of several racing callers gets true.
func (s *Space) ClaimUnprotect(i int) bool {
	wp := &s.pages[i].wp
	for {
		old := wp.Load()
		if old&WPProtected == 0 {
			return false
		}
		if wp.CompareAndSwap(old, (old&^WPProtected)|WPCleared) {
			return true
		}
	}
}

// ResetProtection clears both bits. Only freed pages are reset.
func (s *Space) ResetProtection(i int) {
	s.pages[i].wp.Store(0)
}

// Walk calls fn for every object that starts on page i or, for a page in the
// middle of a large object, for that object. It stops early if fn returns
// false. The page must not belong to an open region.
func (s *Space) Walk(i int, fn func(obj Addr, h Header) bool) {
	p := &s.pages[i]
	if p.Free() || p.Used == 0 {
		return
	}
	if p.ScanStart != 0 {
		fn(p.ScanStart, Header(s.Load(p.ScanStart)))
		return
	}
	a := s.PageAddr(i)
	end := a + Addr(p.Used)
	for a < end {
		h := Header(s.Load(a))
		if h == 0 {
			return
		}
		if !fn(a, h) {
			return
		}
		a += Addr(h.Words() * WordBytes)
	}
}
