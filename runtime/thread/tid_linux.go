//go:build linux

package thread

import "golang.org/x/sys/unix"

func gettid() int {
	return unix.Gettid()
}
