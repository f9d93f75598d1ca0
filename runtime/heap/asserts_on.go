//go:build gc.asserts

package heap

// Asserts enables the precondition checks of the collector. Build with
// -tags=gc.asserts to turn them on.
const Asserts = true
