package heap

import "testing"

func newTestSpace(t *testing.T, pages int) *Space {
	t.Helper()
	cb := uintptr(OSPageSize())
	s, err := NewSpace(uintptr(pages)*cb, cb)
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSpaceRejectsBadSizes(t *testing.T) {
	tests := []struct {
		name     string
		size, cb uintptr
	}{
		{"card not power of two", 3 * 4096, 3000},
		{"card too small", 4096, 64},
		{"size not multiple", 4096 + 1, 4096},
		{"zero size", 0, 4096},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewSpace(tc.size, tc.cb); err == nil {
				t.Errorf("NewSpace(%d, %d) succeeded", tc.size, tc.cb)
			}
		})
	}
}

func TestHeaderFields(t *testing.T) {
	h := MakeHeader(InstanceWidetag, 5, 3, 0b10110)
	if h.Widetag() != InstanceWidetag {
		t.Errorf("widetag = %#x", h.Widetag())
	}
	if h.Length() != 5 || h.Words() != 6 {
		t.Errorf("length = %d, words = %d", h.Length(), h.Words())
	}
	if h.Gen() != 3 {
		t.Errorf("gen = %v", h.Gen())
	}
	for i, want := range []bool{false, true, true, false, true} {
		if got := h.PointerAt(i); got != want {
			t.Errorf("PointerAt(%d) = %v, want %v", i, got, want)
		}
	}

	h = h.WithVisited().WithWritten()
	if !h.Visited() || !h.Written() {
		t.Fatalf("flags not set: %#x", uint64(h))
	}
	h = h.WithGen(4)
	if h.Gen() != 4 || h.Visited() || !h.Written() {
		t.Errorf("WithGen: gen=%v visited=%v written=%v", h.Gen(), h.Visited(), h.Written())
	}
	if h.Length() != 5 || h.Bitmap() != 0b10110 {
		t.Errorf("WithGen clobbered other fields: %#x", uint64(h))
	}
}

func TestRefTags(t *testing.T) {
	r := MakeRef(0x1000, OtherLowtag)
	if !r.IsPointer() || r.Addr() != 0x1000 || r.Lowtag() != OtherLowtag {
		t.Errorf("bad pointer ref %v", r)
	}
	if Unbound.IsPointer() {
		t.Error("Unbound must not be a pointer")
	}
	f := Fixnum(-42)
	if !f.IsFixnum() || f.IsPointer() || f.FixnumValue() != -42 {
		t.Errorf("bad fixnum %v", f)
	}
}

func TestPoolRefillAndClose(t *testing.T) {
	s := newTestSpace(t, 8)
	r := NewRegion()
	first := s.Pool.Alloc(&r, 32, 0, PageBoxed)
	if !r.Open() || s.PageIndex(first) < 0 {
		t.Fatalf("region not opened")
	}
	page := s.PageIndex(first)
	if s.Page(page).Gen != 0 || !s.Page(page).Open {
		t.Errorf("page %d not owned by gen0", page)
	}

	// Fill the first page, the next allocation moves to another page.
	per := int(s.CardBytes() / 32)
	var last Addr
	for i := 1; i <= per; i++ {
		last = s.Pool.Alloc(&r, 32, 0, PageBoxed)
	}
	if s.PageIndex(last) == page {
		t.Fatalf("allocation did not move to a new page")
	}
	if s.Page(page).Open || s.Page(page).Used != s.CardBytes() {
		t.Errorf("old page: open=%v used=%d", s.Page(page).Open, s.Page(page).Used)
	}
	if got := s.Pool.FreePages(); got != 6 {
		t.Errorf("free pages = %d, want 6", got)
	}

	s.Pool.Close(&r)
	if r.Open() {
		t.Error("region still open after Close")
	}
	if got := s.Page(s.PageIndex(last)).Used; got != 32 {
		t.Errorf("used = %d, want 32", got)
	}
}

func TestPoolCloseEmptyRegionReleasesPage(t *testing.T) {
	s := newTestSpace(t, 4)
	r := NewRegion()
	s.Pool.Alloc(&r, s.CardBytes()-16, 0, PageUnboxed)
	// Doesn't fit: a new page is opened and the full one closed.
	a := s.Pool.Alloc(&r, 32, 0, PageUnboxed)
	s.Pool.Close(&r)
	if s.Page(s.PageIndex(a)).Free() {
		t.Fatal("page with data released")
	}

	r2 := NewRegion()
	s.Pool.Alloc(&r2, 16, 1, PageBoxed)
	p := r2.page
	r2.free = r2.start
	s.Pool.Close(&r2)
	if !s.Page(p).Free() {
		t.Error("empty region kept its page")
	}
}

func TestLargeObjectAndWalk(t *testing.T) {
	s := newTestSpace(t, 8)
	cb := s.CardBytes()
	nbytes := 2*cb + 64
	a := s.Pool.Alloc(new(Region), nbytes, 1, PageUnboxed)
	first := s.PageIndex(a)
	length := int(nbytes/WordBytes) - 2
	s.Store(a, uint64(MakeHeader(UnboxedVectorWidetag, length, 1, 0)))

	for i := first; i < first+3; i++ {
		pg := s.Page(i)
		if !pg.Large || pg.Gen != 1 {
			t.Fatalf("page %d: large=%v gen=%v", i, pg.Large, pg.Gen)
		}
		var seen []Addr
		s.Walk(i, func(obj Addr, h Header) bool {
			seen = append(seen, obj)
			return true
		})
		if len(seen) != 1 || seen[0] != a {
			t.Errorf("page %d walk = %v, want [%#x]", i, seen, a)
		}
	}
	if got := s.Page(first + 2).Used; got != 64 {
		t.Errorf("last page used = %d, want 64", got)
	}

	if n := s.Pool.Promote(first, 2); n != 3 {
		t.Errorf("Promote moved %d pages, want 3", n)
	}
	if s.Page(first+1).Gen != 2 {
		t.Error("continuation page not promoted")
	}
}

func TestReleaseZeroesPage(t *testing.T) {
	s := newTestSpace(t, 2)
	r := NewRegion()
	a := s.Pool.Alloc(&r, 16, 0, PageBoxed)
	s.Store(a, 0xdeadbeef)
	s.Pool.Close(&r)
	s.Pool.Release(s.PageIndex(a))
	if v := s.Load(a); v != 0 {
		t.Errorf("released page not zeroed: %#x", v)
	}
	if s.Pool.FreePages() != 2 {
		t.Errorf("free pages = %d", s.Pool.FreePages())
	}
}

func TestFromSpace(t *testing.T) {
	s := newTestSpace(t, 4)
	young := s.Pool.Alloc(new(Region), 16, 0, PageBoxed)
	old := s.Pool.Alloc(new(Region), 16, 2, PageBoxed)
	y := MakeRef(young, OtherLowtag)
	o := MakeRef(old, OtherLowtag)

	if s.FromSpace(y) {
		t.Error("FromSpace true with nothing condemned")
	}
	s.SetCondemned(0)
	if !s.FromSpace(y) || s.FromSpace(o) || s.FromSpace(Fixnum(3)) {
		t.Error("FromSpace misclassified")
	}
	s.SetCondemned(NoGen)
}

func TestProtectionBits(t *testing.T) {
	s := newTestSpace(t, 1)
	s.MarkProtected(0)
	if !s.ClaimUnprotect(0) {
		t.Fatal("first claim failed")
	}
	if s.ClaimUnprotect(0) {
		t.Fatal("second claim succeeded")
	}
	if got := s.Protection(0); got != WPCleared {
		t.Errorf("bits = %b, want cleared only", got)
	}
	s.MarkProtected(0)
	if got := s.Protection(0); got != WPProtected|WPCleared {
		t.Errorf("re-protect lost the cleared bit: %b", got)
	}
	s.ResetProtection(0)
	if s.Protection(0) != 0 {
		t.Error("reset left bits set")
	}
}
