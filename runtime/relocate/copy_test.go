package relocate

import (
	"testing"

	"github.com/tinygo-org/gencgc/internal/lose"
	"github.com/tinygo-org/gencgc/runtime/heap"
)

type fatal string

func mustLose(t *testing.T, fn func()) (msg string) {
	t.Helper()
	old := lose.SetHandler(func(m string) { panic(fatal(m)) })
	defer func() {
		lose.SetHandler(old)
		r := recover()
		f, ok := r.(fatal)
		if !ok {
			if r != nil {
				panic(r)
			}
			t.Fatal("expected a fatal error")
		}
		msg = string(f)
	}()
	fn()
	return ""
}

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

// newInstance allocates an instance in gen whose payload words are 100, 101, ...
func newInstance(s *heap.Space, r *heap.Region, gen heap.Gen, length int) heap.Ref {
	nwords := heap.AlignWords(1 + length)
	a := s.Pool.Alloc(r, uintptr(nwords*heap.WordBytes), gen, heap.PageMixed)
	s.Store(a, uint64(heap.MakeHeader(heap.InstanceWidetag, length, gen, 0)))
	for i := 0; i < length; i++ {
		s.Store(a+heap.Addr((1+i)*heap.WordBytes), uint64(heap.Fixnum(int64(100+i))))
	}
	return heap.MakeRef(a, heap.InstanceLowtag)
}

func TestCopyIsIdempotentWithinCycle(t *testing.T) {
	s := newSpace(t, 8)
	var r heap.Region
	obj := newInstance(s, &r, 0, 3)
	s.Pool.Close(&r)

	s.SetCondemned(0)
	defer s.SetCondemned(heap.NoGen)
	c := NewCopier(s, NewForwarding(), nil)
	c.Begin(1, 1)
	first := c.Copy(obj, 4, heap.PageMixed)
	second := c.Copy(obj, 4, heap.PageMixed)
	c.Finish()

	if first != second {
		t.Fatalf("copied twice: %v then %v", first, second)
	}
	if first == obj {
		t.Fatal("object not moved")
	}
	if first.Lowtag() != heap.InstanceLowtag {
		t.Errorf("lowtag %x not preserved", first.Lowtag())
	}
	if g := s.GenOf(first); g != 1 {
		t.Errorf("copy lives in %v", g)
	}
	if h := s.Header(first); h.Gen() != 1 || h.Length() != 3 {
		t.Errorf("copy header gen=%v length=%d", h.Gen(), h.Length())
	}
	for i := 0; i < 3; i++ {
		if v := heap.Ref(s.Load(heap.Slot(first, i))); v.FixnumValue() != int64(100+i) {
			t.Errorf("slot %d = %v", i, v)
		}
	}
	if c.Forwarding().Len() != 1 {
		t.Errorf("%d forwardings, want 1", c.Forwarding().Len())
	}
	if got := c.CopiedWords(); got != 4 {
		t.Errorf("copied %d words, want 4", got)
	}
	if q, ok := c.Next(); !ok || q != first {
		t.Errorf("scan queue head = %v, %v", q, ok)
	}
	if _, ok := c.Next(); ok {
		t.Error("object queued twice")
	}
}

func TestCopyResizingAdvancesByAllocatedSize(t *testing.T) {
	s := newSpace(t, 8)
	var r heap.Region
	big := newInstance(s, &r, 0, 7)
	small := newInstance(s, &r, 0, 1)
	s.Pool.Close(&r)

	s.SetCondemned(0)
	defer s.SetCondemned(heap.NoGen)
	c := NewCopier(s, NewForwarding(), nil)
	c.Begin(1, 1)
	a := c.CopyResizing(big, 8, heap.PageMixed, 4)
	b := c.Copy(small, 2, heap.PageMixed)
	c.Finish()

	if got := b.Addr() - a.Addr(); got != 8*heap.WordBytes {
		t.Errorf("next copy %d bytes after the resized one, want %d", got, 8*heap.WordBytes)
	}
	if h := s.Header(a); h.Words() != 8 {
		t.Errorf("resized header describes %d words", h.Words())
	}
	if v := heap.Ref(s.Load(heap.Slot(a, 2))); v.FixnumValue() != 102 {
		t.Errorf("live word lost: %v", v)
	}
	for i := 3; i < 7; i++ {
		if v := s.Load(heap.Slot(a, i)); v != 0 {
			t.Errorf("slot %d past the live part = %#x", i, v)
		}
	}
	if got := c.CopiedWords(); got != 6 {
		t.Errorf("copied %d words, want 6", got)
	}
}

func TestForwardTwiceIsFatal(t *testing.T) {
	f := NewForwarding()
	old := heap.MakeRef(0x1000, heap.OtherLowtag)
	f.Forward(old, heap.MakeRef(0x2000, heap.OtherLowtag))
	mustLose(t, func() {
		f.Forward(old, heap.MakeRef(0x3000, heap.OtherLowtag))
	})
	if n, _ := f.Lookup(old); n.Addr() != 0x2000 {
		t.Errorf("first forwarding replaced by %v", n)
	}
	f.Reset()
	if _, ok := f.Lookup(old); ok || f.Len() != 0 {
		t.Error("Reset kept forwardings")
	}
}

func TestCopyPossiblyLargePromotesPages(t *testing.T) {
	s := newSpace(t, 8)
	nwords := int(2*s.CardBytes()/heap.WordBytes) + 2
	a := s.Pool.Alloc(new(heap.Region), uintptr(nwords*heap.WordBytes), 0, heap.PageUnboxed)
	s.Store(a, uint64(heap.MakeHeader(heap.UnboxedVectorWidetag, nwords-1, 0, 0)))
	obj := heap.MakeRef(a, heap.OtherLowtag)

	s.SetCondemned(0)
	defer s.SetCondemned(heap.NoGen)
	c := NewCopier(s, NewForwarding(), nil)
	c.Begin(2, 2)
	moved := c.CopyPossiblyLarge(obj, nwords, heap.PageUnboxed)
	again := c.CopyPossiblyLarge(obj, nwords, heap.PageUnboxed)
	c.Finish()

	if moved != obj || again != obj {
		t.Fatalf("large object copied: %v, %v", moved, again)
	}
	first := s.PageIndex(a)
	for i := first; i < first+3; i++ {
		if g := s.Page(i).Gen; g != 2 {
			t.Errorf("page %d in %v", i, g)
		}
	}
	if s.FromSpace(obj) {
		t.Error("promoted object still in from-space")
	}
	if s.Header(obj).Gen() != 2 {
		t.Error("header generation not updated")
	}
	if c.CopiedWords() != 0 {
		t.Errorf("promotion copied %d words", c.CopiedWords())
	}
}

func TestCopyPossiblyLargeCopiesSmallObjects(t *testing.T) {
	s := newSpace(t, 4)
	var r heap.Region
	obj := newInstance(s, &r, 0, 1)
	s.Pool.Close(&r)
	s.SetCondemned(0)
	defer s.SetCondemned(heap.NoGen)
	c := NewCopier(s, NewForwarding(), nil)
	c.Begin(1, 1)
	if moved := c.CopyPossiblyLarge(obj, 2, heap.PageMixed); moved == obj {
		t.Error("small object promoted in place")
	}
	c.Finish()
}
