package upload

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/zebreus/rudelblinken-filestore/metadata"
	"github.com/zebreus/rudelblinken-filestore/store"
)

// maxProgressMissing bounds how many missing indices UPLOAD_PROGRESS
// reports, per §6.
const maxProgressMissing = 100

// Session-level errors, mapped to LAST_ERROR codes by the endpoint.
var (
	ErrChunkTooShort       = errors.New("upload: chunk frame shorter than index field")
	ErrChunkInvalidLength  = errors.New("upload: chunk index or payload length invalid")
	ErrChunkBadChecksum    = errors.New("upload: chunk checksum mismatch")
	ErrChecksumFileMissing = errors.New("upload: indirect checksum file not found")
)

// Session is one in-flight upload (C6): at most one exists per store at a
// time, owned by the Endpoint.
type Session struct {
	store        *store.Store
	writer       *store.Writer
	log          *logrus.Entry
	name         string
	expectedHash [metadata.HashSize]byte
	chunkSize    int
	length       uint32
	checksums    []byte
	received     []bool
	// chunkAttempts counts every receive attempt per chunk, successful or
	// not, for diagnosing flaky links. There's no original_source precedent
	// for this field; it's added here because nothing upstream of the
	// endpoint can otherwise tell a slow link from a lossy one.
	chunkAttempts []int
	finalised     bool
}

// NewSession resolves the checksum table (inline or indirect), reserves a
// writer via BeginWrite, and returns the new session.
func NewSession(s *store.Store, req *UploadRequest) (*Session, error) {
	chunkCount := req.ChunkCount()

	checksums, err := resolveChecksums(s, req, chunkCount)
	if err != nil {
		return nil, err
	}

	_, writer, err := s.BeginWrite(req.FileName, req.FileSize, req.Hash)
	if err != nil {
		return nil, err
	}

	return &Session{
		store:         s,
		writer:        writer,
		log:           s.Log(),
		name:          req.FileName,
		expectedHash:  req.Hash,
		chunkSize:     int(req.ChunkSize),
		length:        req.FileSize,
		checksums:     checksums,
		received:      make([]bool, chunkCount),
		chunkAttempts: make([]int, chunkCount),
	}, nil
}

func resolveChecksums(s *store.Store, req *UploadRequest, chunkCount int) ([]byte, error) {
	if !req.IsIndirectChecksums() {
		table := make([]byte, chunkCount)
		copy(table, req.Checksums[:chunkCount])
		return table, nil
	}

	weak, err := s.ReadByHash(req.Checksums)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChecksumFileMissing, err)
	}
	strong, err := weak.Upgrade()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChecksumFileMissing, err)
	}
	defer strong.Close()

	content := strong.Bytes()
	if len(content) < chunkCount {
		return nil, fmt.Errorf("%w: checksum file too short", ErrChecksumFileMissing)
	}
	table := make([]byte, chunkCount)
	copy(table, content[:chunkCount])
	return table, nil
}

// Abort rolls back the writer without committing, used when the session is
// cancelled by a new UPLOAD_REQUEST or the endpoint is torn down.
func (sess *Session) Abort() {
	if !sess.finalised {
		sess.log.WithField("name", sess.name).Debug("session: aborted")
		sess.writer.Close()
	}
}

// ReceiveChunk validates and applies one DATA frame. If it completes the
// file, finalise runs automatically as part of this call.
func (sess *Session) ReceiveChunk(frame []byte) error {
	index, payload, err := DecodeDataFrame(frame)
	if err != nil {
		return ErrChunkTooShort
	}
	if int(index) >= len(sess.checksums) {
		return ErrChunkInvalidLength
	}

	expectedLen := sess.chunkSize
	if int(index) == len(sess.checksums)-1 {
		if rem := int(sess.length) % sess.chunkSize; rem != 0 {
			expectedLen = rem
		}
	}

	sess.chunkAttempts[index]++

	if len(payload) != expectedLen {
		sess.log.WithFields(logrus.Fields{"name": sess.name, "index": index}).Warn("session: chunk length invalid")
		return ErrChunkInvalidLength
	}
	if crc8(payload) != sess.checksums[index] {
		sess.log.WithFields(logrus.Fields{"name": sess.name, "index": index}).Warn("session: chunk checksum mismatch")
		return ErrChunkBadChecksum
	}

	if err := sess.writer.Seek(int64(index) * int64(sess.chunkSize)); err != nil {
		return err
	}
	if _, err := sess.writer.Write(payload); err != nil {
		return err
	}
	sess.received[index] = true

	if sess.allReceived() {
		return sess.finalise()
	}
	return nil
}

func (sess *Session) allReceived() bool {
	for _, r := range sess.received {
		if !r {
			return false
		}
	}
	return true
}

// finalise commits the writer, then verifies the committed bytes hash to
// the expected value. On mismatch the file is deleted and ErrHashMismatch
// is returned.
func (sess *Session) finalise() error {
	content, err := sess.writer.Commit()
	if err != nil {
		return err
	}
	sess.finalised = true

	computed := metadata.ComputeHash(content)
	if computed != sess.expectedHash {
		sess.log.WithField("name", sess.name).Warn("session: finalise hash mismatch, deleting")
		if derr := sess.store.DeleteByName(sess.name); derr != nil {
			return fmt.Errorf("%w (and cleanup failed: %v)", store.ErrHashMismatch, derr)
		}
		return store.ErrHashMismatch
	}
	sess.log.WithField("name", sess.name).Debug("session: finalised")
	return nil
}

// Finalised reports whether this session has committed (successfully or
// not) and should be retired by the endpoint.
func (sess *Session) Finalised() bool { return sess.finalised }

// Progress returns the received chunk count and up to 100 ascending
// missing indices.
func (sess *Session) Progress() (receivedCount int, missing []uint16) {
	for i, r := range sess.received {
		if r {
			receivedCount++
		} else if len(missing) < maxProgressMissing {
			missing = append(missing, uint16(i))
		}
	}
	return receivedCount, missing
}

// CurrentHash returns the session's expected hash.
func (sess *Session) CurrentHash() [metadata.HashSize]byte { return sess.expectedHash }

// ChunkAttempts reports how many times a given chunk index has been
// received (successfully or not), for diagnostics.
func (sess *Session) ChunkAttempts(index uint16) int {
	if int(index) >= len(sess.chunkAttempts) {
		return 0
	}
	return sess.chunkAttempts[index]
}
