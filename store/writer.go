package store

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/zebreus/rudelblinken-filestore/device"
	"github.com/zebreus/rudelblinken-filestore/handle"
	"github.com/zebreus/rudelblinken-filestore/metadata"
)

// Writer is the append-only handle for a file reservation's content region,
// returned by BeginWrite (C5). Its content starts metadata.Size bytes past
// the entry's metadata record.
type Writer struct {
	store     *Store
	entry     *entry
	dev       device.Device
	cursor    int64
	committed bool
	dropped   bool
}

// Seek moves the write cursor to an absolute offset, bounded to
// [0, length].
func (w *Writer) Seek(offset int64) error {
	if offset < 0 || offset > int64(w.entry.length) {
		return fmt.Errorf("store: seek %d out of [0, %d]", offset, w.entry.length)
	}
	w.cursor = offset
	return nil
}

// Write performs a monotonic write at the current cursor and advances it by
// the number of bytes accepted, min(remaining, len(buf)). The caller must
// not rewrite an offset with different bytes after its first successful
// write; that is a caller bug this layer does not detect.
func (w *Writer) Write(buf []byte) (int, error) {
	remaining := int64(w.entry.length) - w.cursor
	n := int64(len(buf))
	if n > remaining {
		n = remaining
	}
	if n <= 0 {
		return 0, nil
	}
	contentAddr := w.entry.addr + int64(metadata.Size) + w.cursor
	if err := w.dev.Write(contentAddr, buf[:n]); err != nil {
		return 0, fmt.Errorf("store: write: %w", err)
	}
	w.cursor += n
	return int(n), nil
}

// Commit sets the READY flag and transitions the entry to Ready, making it
// visible to ReadByName/ReadByHash. It returns the committed content bytes,
// for callers (the upload session's finalise) that need to verify a hash.
func (w *Writer) Commit() ([]byte, error) {
	if w.committed || w.dropped {
		return nil, fmt.Errorf("store: commit: writer already closed")
	}
	content, err := w.store.commitWrite(w.entry)
	if err != nil {
		w.store.log.WithError(err).WithField("name", w.entry.name).Warn("writer: commit failed")
		return nil, err
	}
	w.committed = true
	return content, nil
}

// EntryStrong returns the strong handle created by Commit. Valid only after
// a successful Commit.
func (w *Writer) EntryStrong() *handle.Strong {
	return w.entry.strong
}

// Name reports the reserved entry's name, for callers that built the writer
// from an expected hash and need the name back (e.g. to delete on a failed
// finalise).
func (w *Writer) Name() string { return w.entry.name }

// Close releases the writer. If it was never committed, this is the "drop
// without commit" path: the store erases the reservation's blocks and
// removes it from the index, so the next mount scan has nothing to skip.
// Closing an already-committed or already-closed writer is a no-op.
func (w *Writer) Close() {
	if w.committed || w.dropped {
		return
	}
	w.dropped = true
	w.store.log.WithFields(logrus.Fields{"name": w.entry.name, "blocks": w.entry.blocks}).Debug("writer: rolled back without commit")
	w.store.rollbackWrite(w.entry)
}
