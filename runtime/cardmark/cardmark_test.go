package cardmark

import (
	"testing"

	"github.com/tinygo-org/gencgc/runtime/heap"
)

func newSpace(t *testing.T, pages int) *heap.Space {
	t.Helper()
	cb := uintptr(heap.OSPageSize())
	s, err := heap.NewSpace(uintptr(pages)*cb, cb)
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestParseKind(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Kind
	}{
		{"soft", Software},
		{"software", Software},
		{"hard", Hardware},
		{"hardware", Hardware},
	} {
		got, err := ParseKind(tc.in)
		if err != nil || got != tc.want {
			t.Errorf("ParseKind(%q) = %v, %v", tc.in, got, err)
		}
	}
	if _, err := ParseKind("mmu"); err == nil {
		t.Error("ParseKind accepted an unknown kind")
	}
}

func TestTableMarks(t *testing.T) {
	tab := NewTable(4)
	if len(tab.Dirty()) != 0 {
		t.Fatal("new table has dirty cards")
	}
	tab.MarkDirty(1)
	tab.MarkDirty(1)
	tab.MarkDirty(3)
	if got := tab.Dirty(); len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("Dirty() = %v, want [1 3]", got)
	}
	if tab.IsDirty(0) || !tab.IsDirty(1) {
		t.Error("IsDirty wrong")
	}
}

// touch stores a few words to each of the given pages through b.
func touch(s *heap.Space, b Barrier, pages []int) {
	for n := 0; n < 3; n++ {
		for _, p := range pages {
			a := s.PageAddr(p) + heap.Addr(n*heap.WordBytes*2)
			b.Store(a, uint64(heap.Fixnum(int64(p*10+n))))
		}
	}
}

func TestSoftwareBarrierMarksWithoutFaults(t *testing.T) {
	s := newSpace(t, 8)
	b := NewSoftware(s)
	for i := 0; i < s.NumPages(); i++ {
		b.Protect(i)
	}
	touched := []int{0, 2, 5}
	touch(s, b, touched)
	if b.Faults() != 0 {
		t.Errorf("software barrier took %d faults", b.Faults())
	}
	for _, p := range touched {
		if !b.Table().IsDirty(p) {
			t.Errorf("card %d not dirty", p)
		}
	}
	if got := len(b.Table().Dirty()); got != len(touched) {
		t.Errorf("%d dirty cards, want %d", got, len(touched))
	}
	if v := heap.Ref(s.Load(s.PageAddr(5) + 2*heap.WordBytes)); v.FixnumValue() != 51 {
		t.Errorf("stored value = %v", v)
	}
}

func TestCardStaysDirtyUntilProtect(t *testing.T) {
	s := newSpace(t, 2)
	b := NewSoftware(s)
	b.Store(s.PageAddr(1), 1)
	for i := 0; i < 10; i++ {
		b.Store(s.PageAddr(1)+heap.WordBytes, uint64(i))
		b.Unprotect(1)
		b.EnsureWritable(s.PageAddr(1))
		if !b.Table().IsDirty(1) {
			t.Fatalf("card cleared by a write (iteration %d)", i)
		}
	}
	b.Protect(1)
	if b.Table().IsDirty(1) {
		t.Error("Protect did not clear the card")
	}
}
