// Package supervisor names the narrow interface the main-program supervisor
// (out of scope for this module) consumes from the store. The supervisor's
// own scheduling policy, and anything else about it, lives elsewhere; this
// package exists only so the store's read_by_hash path has something
// concrete to call.
package supervisor

// FailureCounter lets the store report that a file resolved by hash turned
// out to be bad at the consumer's layer (e.g. a WASM guest that crashed on
// load), and lets the store ask whether that file should be skipped in
// favour of a fallback.
type FailureCounter interface {
	RecordFailure(hash [32]byte)
	ShouldFallBack(hash [32]byte) bool
}
