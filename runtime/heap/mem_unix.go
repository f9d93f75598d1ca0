//go:build unix

package heap

import "golang.org/x/sys/unix"

// OSPageSize is the granularity page protection works at.
func OSPageSize() int {
	return unix.Getpagesize()
}

func mapArena(size uintptr) ([]byte, error) {
	return unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func unmapArena(mem []byte) error {
	return unix.Munmap(mem)
}
