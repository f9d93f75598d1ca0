//go:build !gc.asserts

package heap

const Asserts = false
