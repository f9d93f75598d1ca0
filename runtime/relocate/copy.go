package relocate

import (
	"github.com/tinygo-org/gencgc/internal/lose"
	"github.com/tinygo-org/gencgc/runtime/heap"
)

// Copier evacuates objects into the target generation. It keeps one
// allocation region per page type, private to the collecting thread, and a
// queue of copies whose contents still have to be scavenged.
type Copier struct {
	space   *heap.Space
	fwd     *Forwarding
	wb      writeBarrier
	target  heap.Gen
	label   heap.Gen
	regions [heap.NumPageTypes]heap.Region
	queue   []heap.Ref
	copied  uint64
}

// writeBarrier is the part of the card table the copier needs when it updates
// an object in place.
type writeBarrier interface {
	EnsureWritable(a heap.Addr)
}

// NewCopier returns a copier recording moves in fwd. wb may be nil if pages
// are never write protected.
func NewCopier(space *heap.Space, fwd *Forwarding, wb writeBarrier) *Copier {
	return &Copier{space: space, fwd: fwd, wb: wb, target: heap.NoGen}
}

// Begin starts a cycle. Copies are placed on pages of generation target; their
// headers record generation label. The two differ only when target is the
// scratch generation.
func (c *Copier) Begin(target, label heap.Gen) {
	c.target = target
	c.label = label
	c.queue = c.queue[:0]
}

// Finish closes the copy regions.
func (c *Copier) Finish() {
	for i := range c.regions {
		c.space.Pool.Close(&c.regions[i])
	}
	c.target = heap.NoGen
}

func (c *Copier) Forwarding() *Forwarding {
	return c.fwd
}

// CopiedWords returns how many words were copied since the copier was made.
func (c *Copier) CopiedWords() uint64 {
	return c.copied
}

// Next pops an object whose payload still has to be scavenged.
func (c *Copier) Next() (heap.Ref, bool) {
	n := len(c.queue)
	if n == 0 {
		return 0, false
	}
	r := c.queue[n-1]
	c.queue = c.queue[:n-1]
	return r, true
}

func (c *Copier) checkPreconditions(obj heap.Ref, nwords int) {
	if !obj.IsPointer() {
		lose.Lose("relocate: %v is not a heap pointer", obj)
	}
	if !c.space.FromSpace(obj) {
		lose.Lose("relocate: %v is not in from-space (%v)", obj, c.space.GenOf(obj))
	}
	if nwords&1 != 0 {
		lose.Lose("relocate: odd word count %d for %v", nwords, obj)
	}
}

func (c *Copier) checkPostconditions(obj, moved heap.Ref) {
	if moved.Lowtag() != obj.Lowtag() {
		lose.Lose("relocate: copy %v lost the lowtag of %v", moved, obj)
	}
	if c.space.FromSpace(moved) {
		lose.Lose("relocate: copy %v is in from-space", moved)
	}
}

// Copy moves the nwords-long object obj onto a page of type typ and returns
// the new reference, with the same lowtag. If obj was already moved in this
// cycle the existing copy is returned.
func (c *Copier) Copy(obj heap.Ref, nwords int, typ heap.PageType) heap.Ref {
	return c.CopyResizing(obj, nwords, typ, nwords)
}

// CopyResizing allocates nwords but copies only the first oldWords words of
// obj, shrinking the live part of a variable-length object. The allocation
// pointer still advances by nwords, and the header of the copy describes the
// allocated size so that a page walk stays in step.
func (c *Copier) CopyResizing(obj heap.Ref, nwords int, typ heap.PageType, oldWords int) heap.Ref {
	if moved, ok := c.fwd.Lookup(obj); ok {
		return moved
	}
	if heap.Asserts {
		c.checkPreconditions(obj, nwords)
	}
	if oldWords > nwords {
		oldWords = nwords
	}
	a := c.space.Pool.Alloc(&c.regions[typ.Index()], uintptr(nwords*heap.WordBytes), c.target, typ)
	dst := c.space.Words(a, oldWords)
	copy(dst, c.space.Words(obj.Addr(), oldWords))
	h := heap.Header(dst[0]).WithGen(c.label)
	if oldWords != nwords {
		h = heap.MakeHeader(h.Widetag(), nwords-1, c.label, h.Bitmap())
	}
	dst[0] = uint64(h)
	c.copied += uint64(oldWords)

	n := heap.MakeRef(a, obj.Lowtag())
	if heap.Asserts {
		c.checkPostconditions(obj, n)
	}
	c.fwd.Forward(obj, n)
	c.queue = append(c.queue, n)
	return n
}

// CopyPossiblyLarge promotes a large object by moving its pages into the
// target generation instead of copying it. Smaller objects are copied.
func (c *Copier) CopyPossiblyLarge(obj heap.Ref, nwords int, typ heap.PageType) heap.Ref {
	if moved, ok := c.fwd.Lookup(obj); ok {
		return moved
	}
	i := c.space.PageIndex(obj.Addr())
	if i < 0 || !c.space.Page(i).Large || c.space.PageAddr(i) != obj.Addr() {
		return c.Copy(obj, nwords, typ)
	}
	if heap.Asserts {
		c.checkPreconditions(obj, nwords)
	}
	c.space.Pool.Promote(i, c.target)
	if c.wb != nil {
		c.wb.EnsureWritable(obj.Addr())
	}
	c.space.Store(obj.Addr(), uint64(heap.Header(c.space.Load(obj.Addr())).WithGen(c.label)))
	c.fwd.Forward(obj, obj)
	c.queue = append(c.queue, obj)
	return obj
}
