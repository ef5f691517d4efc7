package upload

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/zebreus/rudelblinken-filestore/internal/metrics"
	"github.com/zebreus/rudelblinken-filestore/metadata"
	"github.com/zebreus/rudelblinken-filestore/store"
)

// DefaultMaxFramePayload bounds chunk_size when an endpoint isn't given an
// explicit device_max_frame_payload: the ESP-IDF BLE stack's own default
// preferred MTU negotiates well below this, so it never rejects a
// sensibly-sized chunk while still catching a clearly malformed request.
const DefaultMaxFramePayload = 512

// Endpoint is the wire-attribute state machine (C7): Idle, or Receiving a
// session for a given hash. It serialises every attribute access behind a
// single mutex, consistent with the store's own single-task model — the
// endpoint suspends only between frames, never mid-operation.
type Endpoint struct {
	mu              sync.Mutex
	store           *store.Store
	metrics         *metrics.Collectors
	log             *logrus.Entry
	maxFramePayload int
	session         *Session
	lastError       ErrorCode
}

// NewEndpoint creates an idle upload endpoint over s.
func NewEndpoint(s *store.Store) *Endpoint {
	return &Endpoint{store: s, log: s.Log(), maxFramePayload: DefaultMaxFramePayload}
}

// NewEndpointWithMetrics creates an idle upload endpoint that also updates
// the given prometheus collectors on every accepted/rejected chunk.
func NewEndpointWithMetrics(s *store.Store, m *metrics.Collectors) *Endpoint {
	return &Endpoint{store: s, metrics: m, log: s.Log(), maxFramePayload: DefaultMaxFramePayload}
}

// WithMaxFramePayload overrides the device's maximum attribute write size,
// used to validate UPLOAD_REQUEST's chunk_size against §6's
// `1 ≤ chunk_size ≤ device_max_frame_payload − 2`.
func (e *Endpoint) WithMaxFramePayload(max int) *Endpoint {
	e.maxFramePayload = max
	return e
}

// WriteUploadRequest handles a write to the UPLOAD_REQUEST attribute. A
// request for the same hash as the active session is a no-op; a request
// for a different hash cancels the old session (rolling back its writer,
// without committing) and begins a new one.
func (e *Endpoint) WriteUploadRequest(raw []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	req, err := DecodeUploadRequest(raw)
	if err != nil {
		e.lastError = ErrorMalformedRequest
		return err
	}
	if int(req.ChunkSize) > e.maxFramePayload-2 {
		e.lastError = ErrorMalformedRequest
		err := fmt.Errorf("%w: chunk_size %d exceeds device_max_frame_payload-2 (%d)",
			ErrMalformedRequest, req.ChunkSize, e.maxFramePayload-2)
		e.log.WithError(err).Warn("upload_request: rejected")
		return err
	}

	if e.session != nil && !e.session.Finalised() && e.session.CurrentHash() == req.Hash {
		return nil
	}

	if e.session != nil {
		e.log.WithField("hash", fmt.Sprintf("%x", e.session.CurrentHash())).
			Debug("upload_request: aborting in-flight session for new request")
		e.session.Abort()
		e.session = nil
	}

	sess, err := NewSession(e.store, req)
	if err != nil {
		e.lastError = classifyError(err)
		e.log.WithError(err).WithField("name", req.FileName).Warn("upload_request: rejected")
		return err
	}
	e.session = sess
	e.lastError = ErrorNone
	return nil
}

// WriteData handles a write to the DATA attribute: one chunk frame.
func (e *Endpoint) WriteData(frame []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		e.lastError = ErrorNoUploadActive
		return ErrNoUploadActive
	}

	err := e.session.ReceiveChunk(frame)
	e.lastError = classifyError(err)
	if e.metrics != nil {
		if err == nil {
			e.metrics.UploadChunksAccepted.Inc()
		} else {
			e.metrics.UploadChunksRejected.Inc()
		}
	}
	if err != nil {
		e.log.WithError(err).Debug("data: chunk rejected")
	}
	if e.session.Finalised() {
		e.session = nil
	}
	return err
}

// ReadCurrentHash returns the active session's expected hash, or 32 zeroes
// if idle.
func (e *Endpoint) ReadCurrentHash() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return EncodeCurrentHash([metadata.HashSize]byte{})
	}
	return EncodeCurrentHash(e.session.CurrentHash())
}

// ReadProgress returns the UPLOAD_PROGRESS attribute contents, empty when
// idle.
func (e *Endpoint) ReadProgress() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	received, missing := e.session.Progress()
	return EncodeProgress(received, missing, maxProgressMissing)
}

// ReadLastError returns the LAST_ERROR attribute contents.
func (e *Endpoint) ReadLastError() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EncodeLastError(e.lastError)
}

// ErrNoUploadActive is returned by WriteData when no session is active.
var ErrNoUploadActive = errors.New("upload: no session active")

// classifyError maps a session/store error to the LAST_ERROR code the
// endpoint exposes.
func classifyError(err error) ErrorCode {
	switch {
	case err == nil:
		return ErrorNone
	case errors.Is(err, ErrNoUploadActive):
		return ErrorNoUploadActive
	case errors.Is(err, ErrChunkTooShort):
		return ErrorChunkTooShort
	case errors.Is(err, ErrChunkInvalidLength):
		return ErrorChunkInvalidLength
	case errors.Is(err, ErrChunkBadChecksum):
		return ErrorChunkBadChecksum
	case errors.Is(err, ErrMalformedRequest):
		return ErrorMalformedRequest
	case errors.Is(err, ErrChecksumFileMissing):
		return ErrorChecksumFileMissing
	case errors.Is(err, store.ErrHashMismatch):
		return ErrorHashMismatch
	case errors.Is(err, store.ErrInsufficientSpace):
		return ErrorInsufficientSpace
	case errors.Is(err, store.ErrNameTooLong):
		return ErrorNameTooLong
	case errors.Is(err, store.ErrCorruptedWrite):
		return ErrorReadbackMismatch
	default:
		return ErrorMalformedRequest
	}
}
