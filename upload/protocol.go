package upload

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zebreus/rudelblinken-filestore/metadata"
)

// UploadRequestSize is the fixed wire size of the UPLOAD_REQUEST attribute.
const UploadRequestSize = 88

const (
	reqOffsetFileSize   = 0
	reqOffsetHash       = 4
	reqOffsetChecksums  = 36
	reqOffsetFileName   = 68
	reqOffsetChunkSize  = 84
	reqOffsetPadding    = 86
	checksumsFieldSize  = 32
	inlineChecksumLimit = 32 // checksums field holds one byte per chunk, up to this many chunks inline
)

// ErrMalformedRequest is returned when an UPLOAD_REQUEST frame isn't
// exactly UploadRequestSize bytes or carries a non-zero padding field.
var ErrMalformedRequest = errors.New("upload: malformed request")

// UploadRequest is the decoded form of the 88-byte UPLOAD_REQUEST
// attribute.
type UploadRequest struct {
	FileSize  uint32
	Hash      [metadata.HashSize]byte
	Checksums [checksumsFieldSize]byte
	FileName  string
	ChunkSize uint16
}

// DecodeUploadRequest parses the wire representation of an UPLOAD_REQUEST
// write.
func DecodeUploadRequest(buf []byte) (*UploadRequest, error) {
	if len(buf) != UploadRequestSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedRequest, len(buf), UploadRequestSize)
	}
	if binary.LittleEndian.Uint16(buf[reqOffsetPadding:]) != 0 {
		return nil, fmt.Errorf("%w: non-zero padding", ErrMalformedRequest)
	}

	req := &UploadRequest{
		FileSize:  binary.LittleEndian.Uint32(buf[reqOffsetFileSize:]),
		ChunkSize: binary.LittleEndian.Uint16(buf[reqOffsetChunkSize:]),
	}
	copy(req.Hash[:], buf[reqOffsetHash:reqOffsetHash+metadata.HashSize])
	copy(req.Checksums[:], buf[reqOffsetChecksums:reqOffsetChecksums+checksumsFieldSize])

	nameEnd := reqOffsetFileName + metadata.NameSize
	name := buf[reqOffsetFileName:nameEnd]
	nullAt := len(name)
	for i, b := range name {
		if b == 0 {
			nullAt = i
			break
		}
	}
	req.FileName = string(name[:nullAt])

	if req.ChunkSize == 0 {
		return nil, fmt.Errorf("%w: chunk_size must be at least 1", ErrMalformedRequest)
	}
	return req, nil
}

// Encode serialises the request back to its 88-byte wire form.
func (r *UploadRequest) Encode() []byte {
	buf := make([]byte, UploadRequestSize)
	binary.LittleEndian.PutUint32(buf[reqOffsetFileSize:], r.FileSize)
	copy(buf[reqOffsetHash:reqOffsetHash+metadata.HashSize], r.Hash[:])
	copy(buf[reqOffsetChecksums:reqOffsetChecksums+checksumsFieldSize], r.Checksums[:])
	nameField := make([]byte, metadata.NameSize)
	copy(nameField, r.FileName)
	copy(buf[reqOffsetFileName:reqOffsetFileName+metadata.NameSize], nameField)
	binary.LittleEndian.PutUint16(buf[reqOffsetChunkSize:], r.ChunkSize)
	return buf
}

// ChunkCount returns ceil(file_size / chunk_size).
func (r *UploadRequest) ChunkCount() int {
	return int((uint64(r.FileSize) + uint64(r.ChunkSize) - 1) / uint64(r.ChunkSize))
}

// IsIndirectChecksums reports whether Checksums holds a content hash
// referencing a previously uploaded checksum-table file, rather than the
// inline per-chunk table.
func (r *UploadRequest) IsIndirectChecksums() bool {
	return r.ChunkCount() > inlineChecksumLimit
}

// DecodeDataFrame splits a DATA attribute write into its chunk index and
// payload.
func DecodeDataFrame(frame []byte) (index uint16, payload []byte, err error) {
	if len(frame) < 2 {
		return 0, nil, fmt.Errorf("upload: data frame shorter than index field")
	}
	return binary.LittleEndian.Uint16(frame[:2]), frame[2:], nil
}

// EncodeDataFrame builds a DATA attribute write for the given chunk.
func EncodeDataFrame(index uint16, payload []byte) []byte {
	buf := make([]byte, 2+len(payload))
	binary.LittleEndian.PutUint16(buf, index)
	copy(buf[2:], payload)
	return buf
}

// EncodeProgress builds the UPLOAD_PROGRESS attribute contents: a received
// count followed by up to maxMissing ascending missing indices.
func EncodeProgress(receivedCount int, missing []uint16, maxMissing int) []byte {
	if len(missing) > maxMissing {
		missing = missing[:maxMissing]
	}
	buf := make([]byte, 2+2*len(missing))
	binary.LittleEndian.PutUint16(buf, uint16(receivedCount))
	for i, idx := range missing {
		binary.LittleEndian.PutUint16(buf[2+2*i:], idx)
	}
	return buf
}

// ErrorCode is the small enumerated code exposed via LAST_ERROR.
type ErrorCode uint16

const (
	ErrorNone ErrorCode = iota
	ErrorNoUploadActive
	ErrorChunkTooShort
	ErrorChunkInvalidLength
	ErrorChunkBadChecksum
	ErrorMalformedRequest
	ErrorLengthMismatch
	ErrorChecksumFileMissing
	ErrorHashMismatch
	ErrorInsufficientSpace
	ErrorNameTooLong
	ErrorAlreadyExists
	ErrorReadbackMismatch
)

// EncodeLastError builds the 2-byte LAST_ERROR attribute contents.
func EncodeLastError(code ErrorCode) []byte {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, uint16(code))
	return buf
}

// EncodeCurrentHash builds the 32-byte CURRENT_HASH attribute contents:
// the active session's expected hash, or all zeroes if idle.
func EncodeCurrentHash(hash [metadata.HashSize]byte) []byte {
	out := make([]byte, metadata.HashSize)
	copy(out, hash[:])
	return out
}
