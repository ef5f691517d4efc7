package store

import "errors"

// ErrInsufficientSpace is returned by BeginWrite when no free range is
// large enough for the requested content.
var ErrInsufficientSpace = errors.New("store: insufficient space")

// ErrCorruptedWrite is returned when a checked write's readback does not
// match what was written.
var ErrCorruptedWrite = errors.New("store: corrupted write")

// ErrNotFound is returned by reads and deletes that name a file that does
// not exist, or no longer exists, in the index.
var ErrNotFound = errors.New("store: not found")

// ErrNameTooLong is returned by BeginWrite when name exceeds 16 bytes.
var ErrNameTooLong = errors.New("store: name exceeds 16 bytes")

// ErrContentTooLarge is returned by BeginWrite when length leaves no room
// for the 64-byte metadata record within the partition. BeginWrite wraps it
// together with ErrInsufficientSpace, so the error matches both.
var ErrContentTooLarge = errors.New("store: content too large for partition")

// ErrHashMismatch is returned by a session finalise whose committed bytes
// do not hash to the expected value; the file is deleted before this is
// returned to the caller.
var ErrHashMismatch = errors.New("store: hash mismatch on finalise")
