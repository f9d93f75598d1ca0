//go:build !linux

package thread

func gettid() int {
	return 0
}
