// Package handle implements the dual-strength (strong/weak) reference
// counter over a file's bytes (C3). A strong handle keeps the content alive
// and forbids its destructor from firing; a weak handle is bookkeeping
// only and can be upgraded back to strong while a strong reference still
// exists and the file has not been marked for deletion.
package handle

import (
	"errors"
	"sync"
)

// ErrDeleted is returned by Upgrade when the file has been marked for
// deletion: no new strong handles may be created even if the old ones
// haven't dropped yet.
var ErrDeleted = errors.New("handle: file marked for deletion")

// ErrNoStrongReferencesLeft is returned by Upgrade when strong_count has
// already reached zero: the destructor may have already run.
var ErrNoStrongReferencesLeft = errors.New("handle: no strong references left")

// Destructor is invoked exactly once, when the last strong handle drops. It
// receives the marked-for-deletion state at the moment of the drop and is
// responsible for erasing the file's blocks and flipping the on-flash
// DELETED flag. It must not be called while the header lock is held: a
// destructor that touches the device must be free to block without
// deadlocking a concurrent downgrade/upgrade on the same header.
type Destructor func(markedForDeletion bool)

// header is the shared reference-counted state behind every Strong/Weak
// pair created from the same file.
type header struct {
	mu                 sync.Mutex
	strongCount        int
	weakCount          int
	markedForDeletion  bool
	destructor         Destructor
	destructorHasFired bool
	bytes              []byte
}

// Strong keeps a file's bytes alive. It is a single-owner value: Go cannot
// forbid copying it, but callers must treat Close as consuming it, the way
// the original's non-Copy strong handle cannot be dropped twice.
type Strong struct {
	h      *header
	closed bool
}

// Weak is bookkeeping only; it does not keep the bytes alive.
type Weak struct {
	h *header
}

// New creates the first strong handle over bytes, with strong_count == 1
// and weak_count == 0. destructor is supplied by the store.
func New(bytes []byte, destructor Destructor) *Strong {
	h := &header{
		strongCount: 1,
		destructor:  destructor,
		bytes:       bytes,
	}
	return &Strong{h: h}
}

// Bytes returns the file's content. Valid for as long as this handle has
// not been closed.
func (s *Strong) Bytes() []byte {
	return s.h.bytes
}

// Clone returns a new strong handle sharing the same header. Cloning from a
// strong handle is always allowed, regardless of marked-for-deletion state.
func (s *Strong) Clone() *Strong {
	s.h.mu.Lock()
	s.h.strongCount++
	s.h.mu.Unlock()
	return &Strong{h: s.h}
}

// Downgrade creates a weak handle sharing this strong handle's header.
// Always succeeds.
func (s *Strong) Downgrade() *Weak {
	s.h.mu.Lock()
	s.h.weakCount++
	s.h.mu.Unlock()
	return &Weak{h: s.h}
}

// MarkForDeletion flips the header's marked-for-deletion flag. Idempotent;
// existing strong handles remain valid.
func (s *Strong) MarkForDeletion() {
	s.h.mu.Lock()
	s.h.markedForDeletion = true
	s.h.mu.Unlock()
}

// MarkForDeletion flips the header's marked-for-deletion flag via a weak
// handle. Idempotent.
func (w *Weak) MarkForDeletion() {
	w.h.mu.Lock()
	w.h.markedForDeletion = true
	w.h.mu.Unlock()
}

// Close decrements strong_count. On reaching zero it invokes the
// destructor, outside the header lock, exactly once. Closing an
// already-closed handle is a no-op; it does not double-decrement.
func (s *Strong) Close() {
	if s.closed {
		return
	}
	s.closed = true

	h := s.h
	h.mu.Lock()
	h.strongCount--
	fireNow := h.strongCount == 0 && !h.destructorHasFired
	if fireNow {
		h.destructorHasFired = true
	}
	markedForDeletion := h.markedForDeletion
	destructor := h.destructor
	h.mu.Unlock()

	if fireNow && destructor != nil {
		destructor(markedForDeletion)
	}
}

// Upgrade returns a new strong handle, or ErrDeleted / ErrNoStrongReferencesLeft
// if the file can no longer be strongly referenced.
func (w *Weak) Upgrade() (*Strong, error) {
	h := w.h
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.markedForDeletion {
		return nil, ErrDeleted
	}
	if h.strongCount == 0 {
		return nil, ErrNoStrongReferencesLeft
	}
	h.strongCount++
	return &Strong{h: h}, nil
}

// IsMarkedForDeletion reports the header's current flag, for diagnostics.
func (s *Strong) IsMarkedForDeletion() bool {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	return s.h.markedForDeletion
}

// StrongCount and WeakCount are diagnostic only; weak_count must never
// influence liveness decisions.
func (s *Strong) StrongCount() int {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	return s.h.strongCount
}

func (s *Strong) WeakCount() int {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	return s.h.weakCount
}
