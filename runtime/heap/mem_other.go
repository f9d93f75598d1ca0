//go:build !unix

package heap

import "unsafe"

// OSPageSize returns the page size assumed where the OS has no mmap.
func OSPageSize() int {
	return 4096
}

// Without mmap the arena comes from the Go heap, which never moves objects.
// It is over-allocated so the start can be aligned to a page.
func mapArena(size uintptr) ([]byte, error) {
	buf := make([]byte, size+uintptr(OSPageSize()))
	off := uintptr(0)
	if rem := uintptr(unsafe.Pointer(&buf[0])) % uintptr(OSPageSize()); rem != 0 {
		off = uintptr(OSPageSize()) - rem
	}
	return buf[off : off+size : off+size], nil
}

func unmapArena(mem []byte) error {
	return nil
}
