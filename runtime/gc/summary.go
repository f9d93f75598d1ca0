package gc

import (
	"fmt"
	"io"

	"github.com/inhies/go-bytesize"
	"github.com/tinygo-org/gencgc/runtime/heap"
)

// Summarize writes the pause statistics and the work done by c to w.
func (c *Collector) Summarize(w io.Writer) {
	fmt.Fprintln(w, c.rt.Stats())
	s := c.Stats()
	copied := bytesize.New(float64(s.CopiedWords * heap.WordBytes))
	fmt.Fprintf(w, "GC: %d collections copied %s and freed %d pages\n", s.Collections, copied, s.FreedPages)
	if s.Redirected+s.Broken > 0 {
		fmt.Fprintf(w, "GC: weak references: %d redirected, %d broken\n", s.Redirected, s.Broken)
	}
	if f := c.barrier.Faults(); f > 0 {
		fmt.Fprintf(w, "GC: %d write faults\n", f)
	}
}
