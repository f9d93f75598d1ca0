// Package lose implements the fatal error path of the collector.
//
// Everything reported through Lose is a broken invariant: a thread state that
// can't exist, a suspend request that could not be delivered, a protection
// fault on a page that was never protected, a forwarding marker recorded twice.
// Continuing after any of these risks silent heap corruption, so the default
// handler prints the message and exits without unwinding.
package lose

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Handler receives the formatted message of a fatal error. It must not return
// normally; the default handler exits the process.
type Handler func(msg string)

var (
	mu      sync.Mutex
	handler Handler = abort
)

// Lose reports a fatal error. It never returns.
func Lose(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	mu.Lock()
	h := handler
	mu.Unlock()
	h(msg)
	// A handler that returns is treated like the default one.
	abort(msg)
}

// SetHandler installs h and returns the previous handler. Tests use this to
// turn fatal errors into panics they can observe.
func SetHandler(h Handler) Handler {
	mu.Lock()
	defer mu.Unlock()
	old := handler
	if h == nil {
		h = abort
	}
	handler = h
	return old
}

// Stderr returns the stream fatal errors and diagnostics are written to.
func Stderr() io.Writer {
	return colorable.NewColorableStderr()
}

// Colored reports whether stderr is a terminal that accepts escape sequences.
func Colored() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func abort(msg string) {
	w := Stderr()
	if Colored() {
		fmt.Fprintf(w, "\x1b[1;31mfatal error:\x1b[0m %s\n", msg)
	} else {
		fmt.Fprintf(w, "fatal error: %s\n", msg)
	}
	os.Exit(2)
}
