package gc

import (
	"github.com/tinygo-org/gencgc/internal/lose"
	"github.com/tinygo-org/gencgc/runtime/heap"
)

// objectScanner walks the payload of one object and tells which words hold
// references. For most objects it is known exactly which words are pointers,
// so words that merely look like pointers are skipped.
type objectScanner struct {
	index  int
	bitmap uint32
	all    bool
}

func newObjectScanner(h heap.Header, l *layout) objectScanner {
	var scanner objectScanner
	switch l.words {
	case layoutNone:
	case layoutAll:
		// Unknown layout. Assume all words in the object could be pointers.
		scanner.all = true
	case layoutBitmap:
		scanner.bitmap = h.Bitmap()
	default:
		lose.Lose("gc: bad layout for widetag %#x", h.Widetag())
	}
	return scanner
}

// seek moves the scanner to payload word i.
func (scanner *objectScanner) seek(i int) {
	scanner.index = i
}

func (scanner *objectScanner) pointerFree() bool {
	return !scanner.all && scanner.bitmap == 0
}

func (scanner *objectScanner) nextIsPointer(word heap.Ref) bool {
	index := scanner.index
	scanner.index++

	if !word.IsPointer() {
		// Definitely isn't a pointer.
		return false
	}
	if scanner.all {
		return true
	}
	if index >= 32 {
		index = 31
	}
	return (scanner.bitmap>>index)&1 != 0
}
