// Command gencgc exercises the collector: a number of mutator threads build
// linked lists on a shared heap, store young objects into old ones and keep
// weak pointers, while the nursery is collected every few allocations.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/tinygo-org/gencgc/gcopts"
	"github.com/tinygo-org/gencgc/internal/lose"
	"github.com/tinygo-org/gencgc/runtime/cardmark"
	"github.com/tinygo-org/gencgc/runtime/gc"
	"github.com/tinygo-org/gencgc/runtime/heap"
	"github.com/tinygo-org/gencgc/runtime/thread"
	"github.com/tinygo-org/gencgc/runtime/weak"
)

// workload describes what each mutator does.
type workload struct {
	threads int
	allocs  int
	every   int
}

// Slots of the anchor vector every mutator keeps at the bottom of its stack.
const (
	anchorLength = 8
	anchorWeak   = anchorLength - 1
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: gencgc [-config file] [-threads n] [-allocs n] [-every n] [-barrier soft|hard] [-stats]")
	flag.PrintDefaults()
}

func handleError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func main() {
	flag.Usage = usage
	config := flag.String("config", "", "YAML options file")
	threads := flag.Int("threads", 8, "number of mutator threads")
	allocs := flag.Int("allocs", 100000, "allocations per thread")
	every := flag.Int("every", 1000, "collect the nursery every n allocations")
	barrier := flag.String("barrier", "", "write barrier: soft or hard")
	stats := flag.Bool("stats", false, "print a collector summary at exit")
	verbose := flag.Bool("v", false, "trace collections")
	flag.Parse()
	if flag.NArg() != 0 {
		usage()
		os.Exit(1)
	}

	opts := gcopts.Default()
	if *config != "" {
		handleError(opts.Load(*config))
	}
	handleError(opts.FromEnv())
	if *barrier != "" {
		opts.Barrier = *barrier
	}
	if *stats {
		opts.Stats = true
	}
	if *verbose {
		opts.Verbose = true
	}
	cfg, err := opts.Verify()
	handleError(err)

	w := workload{threads: *threads, allocs: *allocs, every: *every}
	if w.threads <= 0 || w.allocs < 0 || w.every <= 0 {
		handleError(fmt.Errorf("invalid workload: %d threads, %d allocations, collect every %d", w.threads, w.allocs, w.every))
	}
	handleError(run(cfg, w, os.Stdout))
}

func newLogger(cfg gcopts.Config) *log.Logger {
	if !cfg.Verbose {
		return nil
	}
	prefix := "gc: "
	if lose.Colored() {
		prefix = "\x1b[36mgc:\x1b[0m "
	}
	return log.New(lose.Stderr(), prefix, log.Lmicroseconds)
}

// run sets up a heap as described by cfg, runs the workload on it and checks
// the heap afterwards.
func run(cfg gcopts.Config, w workload, out io.Writer) error {
	space, err := heap.NewSpace(cfg.HeapBytes, cfg.CardBytes)
	if err != nil {
		return err
	}
	defer space.Close()
	barrier, err := cardmark.New(cfg.Barrier, space)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	rt := thread.NewRuntime(space, barrier, thread.Config{
		StackWords: cfg.StackWords,
		ScrubBytes: cfg.ScrubBytes,
		Logger:     logger,
	})
	collector := gc.New(rt, logger)

	var (
		count  atomic.Int64
		wg     sync.WaitGroup
		errsMu sync.Mutex
		errs   []error
	)
	wg.Add(w.threads)
	for i := 0; i < w.threads; i++ {
		go func() {
			defer wg.Done()
			if err := mutate(rt, collector, w, &count); err != nil {
				errsMu.Lock()
				errs = append(errs, err)
				errsMu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(errs) != 0 {
		return errs[0]
	}
	if err := collector.Verify(); err != nil {
		return err
	}
	if cfg.Stats {
		collector.Summarize(out)
	}
	return nil
}

// mutate runs one mutator thread. Its stack holds an anchor vector and the
// head of a list of numbered nodes that is dropped every 100 nodes. Every
// 50th node is also stored into the anchor, which soon lives in an older
// generation, and every 200th gets a weak pointer.
func mutate(rt *thread.Runtime, collector *gc.Collector, w workload, count *atomic.Int64) error {
	th := rt.Attach()
	defer th.Detach()

	th.Alloc(heap.BoxedVectorWidetag, anchorLength, 0)
	th.Push(heap.Fixnum(-1))
	for i := 0; i < w.allocs; i++ {
		if i%100 == 0 {
			th.Poke(0, heap.Fixnum(-1))
		}
		th.Alloc(heap.InstanceWidetag, 2, 0b01)
		th.StoreRef(th.Peek(0), 0, th.Peek(1))
		th.StoreRef(th.Peek(0), 1, heap.Fixnum(int64(i)))
		th.Poke(0, th.Pop())

		if i%50 == 0 {
			th.StoreRef(th.Peek(1), (i/50)%anchorWeak, th.Peek(0))
		}
		if i%200 == 0 {
			th.NewWeakPointer(th.Peek(0))
			th.StoreRef(th.Peek(2), anchorWeak, th.Peek(0))
			th.Pop()
		}

		switch n := count.Add(1); {
		case n%int64(w.every*20) == 0:
			collector.CollectGenerations(th, 2)
		case n%int64(w.every) == 0:
			collector.Collect(th, 0)
		}
	}
	return check(th, w.allocs)
}

// check walks the thread's list and the weak pointer in its anchor.
func check(th *thread.Thread, n int) error {
	want := int64(n - 1)
	for r := th.Peek(0); r.IsPointer(); r = th.LoadRef(r, 0) {
		if v := th.LoadRef(r, 1).FixnumValue(); v != want {
			return fmt.Errorf("thread %d: list node %d, want %d", th.ID(), v, want)
		}
		want--
	}
	if n > 0 && want != int64((n-1)/100*100-1) {
		return fmt.Errorf("thread %d: list ends before node %d", th.ID(), want)
	}

	wp := th.LoadRef(th.Peek(1), anchorWeak)
	if !wp.IsPointer() {
		return nil
	}
	v := th.LoadRef(wp, weak.ValueSlot)
	if v != heap.Unbound && !v.IsPointer() {
		return fmt.Errorf("thread %d: weak pointer holds %v", th.ID(), v)
	}
	return nil
}
