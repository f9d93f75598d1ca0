package heap

import (
	"sync"

	"github.com/tinygo-org/gencgc/internal/lose"
)

// Region is a bump-pointer allocation region. A region is private to the
// thread (or collector) that owns it; allocating from an open region takes no
// lock. Only refilling an exhausted region goes through the shared Pool.
type Region struct {
	start Addr
	free  Addr
	end   Addr
	page  int
	open  bool
	gen   Gen
	typ   PageType
}

// NewRegion returns a closed region. The zero Region is closed too.
func NewRegion() Region {
	return Region{}
}

// Open reports whether the region currently owns a page.
func (r *Region) Open() bool {
	return r.open
}

// FreePointer returns the bump pointer.
func (r *Region) FreePointer() Addr {
	return r.free
}

func (r *Region) Gen() Gen {
	return r.gen
}

func (r *Region) Type() PageType {
	return r.typ
}

func (r *Region) alloc(nbytes uintptr) (Addr, bool) {
	if !r.open {
		return 0, false
	}
	a := r.free
	if uintptr(r.end-a) < nbytes {
		return 0, false
	}
	r.free = a + Addr(nbytes)
	return a, true
}

// Pool hands out free pages. Its lock is the only lock on the allocation
// path, and it is only taken when a region needs a new page.
type Pool struct {
	mu    sync.Mutex
	space *Space
	hint  int
	free  int
}

func (p *Pool) init(s *Space) {
	p.space = s
	p.free = len(s.pages)
}

// FreePages returns the number of pages that belong to no generation.
func (p *Pool) FreePages() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free
}

// Alloc returns nbytes of zeroed memory from r. If r is closed, exhausted, or
// belongs to another generation or page type, it is closed and refilled with
// a fresh page of the requested kind. Requests of a page or more get their
// own run of pages and leave r alone.
func (p *Pool) Alloc(r *Region, nbytes uintptr, gen Gen, typ PageType) Addr {
	if r.open && r.gen == gen && r.typ == typ {
		if a, ok := r.alloc(nbytes); ok {
			return a
		}
	}
	if nbytes >= p.space.cardBytes {
		return p.allocLarge(nbytes, gen, typ)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked(r)
	p.openLocked(r, gen, typ)
	a, ok := r.alloc(nbytes)
	if !ok {
		lose.Lose("heap: %d bytes do not fit in a fresh page", nbytes)
	}
	return a
}

// Close records how much of the region's page is used and gives it back. A
// region that allocated nothing returns its page to the pool.
func (p *Pool) Close(r *Region) {
	if !r.open {
		return
	}
	p.mu.Lock()
	p.closeLocked(r)
	p.mu.Unlock()
}

func (p *Pool) closeLocked(r *Region) {
	if !r.open {
		return
	}
	pg := &p.space.pages[r.page]
	pg.Open = false
	pg.Used = uintptr(r.free - r.start)
	if pg.Used == 0 {
		p.releaseLocked(r.page)
	}
	*r = Region{}
}

func (p *Pool) openLocked(r *Region, gen Gen, typ PageType) {
	i := p.findLocked(1)
	pg := &p.space.pages[i]
	pg.Gen = gen
	pg.Type = typ
	pg.Open = true
	pg.Used = 0
	pg.ScanStart = 0
	pg.Large = false
	p.free--
	a := p.space.PageAddr(i)
	*r = Region{start: a, free: a, end: a + Addr(p.space.cardBytes), page: i, open: true, gen: gen, typ: typ}
}

func (p *Pool) allocLarge(nbytes uintptr, gen Gen, typ PageType) Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	cb := p.space.cardBytes
	n := int((nbytes + cb - 1) / cb)
	first := p.findLocked(n)
	start := p.space.PageAddr(first)
	remain := nbytes
	for i := first; i < first+n; i++ {
		pg := &p.space.pages[i]
		pg.Gen = gen
		pg.Type = typ
		pg.Open = false
		pg.Large = true
		pg.ScanStart = 0
		if i != first {
			pg.ScanStart = start
		}
		pg.Used = cb
		if remain < cb {
			pg.Used = remain
		}
		remain -= pg.Used
	}
	p.free -= n
	return start
}

// findLocked returns the first page of a run of n free pages.
func (p *Pool) findLocked(n int) int {
	pages := p.space.pages
	run := 0
	for i := p.hint; i < len(pages); i++ {
		if !pages[i].Free() {
			run = 0
			continue
		}
		run++
		if run == n {
			first := i - n + 1
			if first == p.hint {
				p.hint = i + 1
			}
			return first
		}
	}
	lose.Lose("Heap exhausted: no run of %d free pages (%d pages free of %d)", n, p.free, len(pages))
	return -1
}

// Release returns page i to the pool, zeroing its memory. The page must be
// writable; the barrier resets its protection before releasing it.
func (p *Pool) Release(i int) {
	p.mu.Lock()
	p.releaseLocked(i)
	p.mu.Unlock()
}

func (p *Pool) releaseLocked(i int) {
	pg := &p.space.pages[i]
	if pg.Free() {
		return
	}
	b := p.space.PageBytes(i)
	for j := range b {
		b[j] = 0
	}
	pg.Gen = FreeGen
	pg.Type = 0
	pg.Used = 0
	pg.ScanStart = 0
	pg.Open = false
	pg.Large = false
	p.free++
	if i < p.hint {
		p.hint = i
	}
}

// Relabel moves every page of generation from into generation to.
func (p *Pool) Relabel(from, to Gen) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.space.pages {
		if p.space.pages[i].Gen == from {
			p.space.pages[i].Gen = to
		}
	}
}

// PagesOf returns the indices of every page owned by gen.
func (p *Pool) PagesOf(gen Gen) []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []int
	for i := range p.space.pages {
		if p.space.pages[i].Gen == gen {
			out = append(out, i)
		}
	}
	return out
}

// Promote moves the pages of the large object starting at page first into gen.
func (p *Pool) Promote(first int, gen Gen) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	pages := p.space.pages
	start := p.space.PageAddr(first)
	n := 0
	for i := first; i < len(pages); i++ {
		if i != first && pages[i].ScanStart != start {
			break
		}
		pages[i].Gen = gen
		n++
	}
	return n
}
