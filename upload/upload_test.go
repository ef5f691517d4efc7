package upload

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zebreus/rudelblinken-filestore/device"
	"github.com/zebreus/rudelblinken-filestore/metadata"
	"github.com/zebreus/rudelblinken-filestore/store"
)

const testBlocks = 16
const testBlockSize = 4096

func newTestEndpoint(t *testing.T) (*Endpoint, *store.Store) {
	t.Helper()
	dev := device.NewMemory(testBlocks, testBlockSize)
	s, err := store.Mount(dev, nil)
	require.NoError(t, err)
	return NewEndpoint(s), s
}

func buildRequest(name string, content []byte, chunkSize uint16) *UploadRequest {
	chunkCount := (len(content) + int(chunkSize) - 1) / int(chunkSize)
	req := &UploadRequest{
		FileSize:  uint32(len(content)),
		Hash:      metadata.ComputeHash(content),
		FileName:  name,
		ChunkSize: chunkSize,
	}
	for i := 0; i < chunkCount; i++ {
		start := i * int(chunkSize)
		end := start + int(chunkSize)
		if end > len(content) {
			end = len(content)
		}
		if i < inlineChecksumLimit {
			req.Checksums[i] = crc8(content[start:end])
		}
	}
	return req
}

func sendAllChunks(t *testing.T, e *Endpoint, content []byte, chunkSize uint16, order []int) {
	t.Helper()
	chunkCount := (len(content) + int(chunkSize) - 1) / int(chunkSize)
	if order == nil {
		order = make([]int, chunkCount)
		for i := range order {
			order[i] = i
		}
	}
	for _, i := range order {
		start := i * int(chunkSize)
		end := start + int(chunkSize)
		if end > len(content) {
			end = len(content)
		}
		frame := EncodeDataFrame(uint16(i), content[start:end])
		require.NoError(t, e.WriteData(frame))
	}
}

func TestUploadHappyPath(t *testing.T) {
	e, s := newTestEndpoint(t)
	content := []byte("the quick brown fox jumps over the lazy dog")
	req := buildRequest("fox", content, 10)

	require.NoError(t, e.WriteUploadRequest(req.Encode()))
	sendAllChunks(t, e, content, 10, nil)

	weak, err := s.ReadByName("fox")
	require.NoError(t, err)
	strong, err := weak.Upgrade()
	require.NoError(t, err)
	require.Equal(t, content, strong.Bytes())
	strong.Close()
}

// P9: a chunk with a bad CRC is rejected; session state unchanged.
func TestBadChecksumRejected(t *testing.T) {
	e, _ := newTestEndpoint(t)
	content := []byte("the quick brown fox jumps over the lazy dog")
	req := buildRequest("fox", content, 10)
	require.NoError(t, e.WriteUploadRequest(req.Encode()))

	frame := EncodeDataFrame(0, []byte("XXXXXXXXXX")) // wrong bytes, bad CRC
	err := e.WriteData(frame)
	require.ErrorIs(t, err, ErrChunkBadChecksum)

	received, missing := e.session.Progress()
	require.Equal(t, 0, received)
	require.Contains(t, missing, uint16(0))
}

// P10: replaying a correctly-delivered chunk is idempotent.
func TestReplayingChunkIsIdempotent(t *testing.T) {
	e, _ := newTestEndpoint(t)
	content := []byte("the quick brown fox jumps over the lazy dog")
	req := buildRequest("fox", content, 10)
	require.NoError(t, e.WriteUploadRequest(req.Encode()))

	frame := EncodeDataFrame(0, content[0:10])
	require.NoError(t, e.WriteData(frame))
	require.NoError(t, e.WriteData(frame))

	received, _ := e.session.Progress()
	require.Equal(t, 1, received)
}

// P11: a new UPLOAD_REQUEST with a different hash during an active session
// discards the old session without corrupting a prior committed file of
// the same name.
func TestNewRequestDiscardsOldSession(t *testing.T) {
	e, s := newTestEndpoint(t)

	original := []byte("0123456789")
	writeDirectly(t, s, "dup", original)

	content := []byte("the quick brown fox jumps over the lazy dog")
	req := buildRequest("dup", content, 10)
	require.NoError(t, e.WriteUploadRequest(req.Encode()))
	// Receive one chunk of the new (doomed) session, then cancel it.
	require.NoError(t, e.WriteData(EncodeDataFrame(0, content[0:10])))

	otherContent := []byte("completely different content, same name!!")
	req2 := buildRequest("dup", otherContent, 10)
	require.NotEqual(t, req.Hash, req2.Hash)
	require.NoError(t, e.WriteUploadRequest(req2.Encode()))

	weak, err := s.ReadByName("dup")
	require.NoError(t, err)
	strong, err := weak.Upgrade()
	require.NoError(t, err)
	require.Equal(t, original, strong.Bytes())
	strong.Close()
}

func writeDirectly(t *testing.T, s *store.Store, name string, content []byte) {
	t.Helper()
	_, w, err := s.BeginWrite(name, uint32(len(content)), metadata.ComputeHash(content))
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	_, err = w.Commit()
	require.NoError(t, err)
}

// S5: indirect checksum table, delivered out of order.
func TestIndirectChecksumTableOutOfOrder(t *testing.T) {
	e, s := newTestEndpoint(t)

	content := make([]byte, 10000)
	for i := range content {
		content[i] = byte(i % 251)
	}
	const chunkSize = 200
	chunkCount := len(content) / chunkSize // 50, > 32 so indirect

	table := make([]byte, chunkCount)
	for i := 0; i < chunkCount; i++ {
		table[i] = crc8(content[i*chunkSize : (i+1)*chunkSize])
	}
	writeDirectly(t, s, "checksums", table)

	req := &UploadRequest{
		FileSize:  uint32(len(content)),
		Hash:      metadata.ComputeHash(content),
		FileName:  "big",
		ChunkSize: chunkSize,
	}
	copy(req.Checksums[:], metadata.ComputeHash(table)[:])

	require.NoError(t, e.WriteUploadRequest(req.Encode()))

	order := make([]int, chunkCount)
	for i := range order {
		order[i] = chunkCount - 1 - i // reverse order
	}
	sendAllChunks(t, e, content, chunkSize, order)

	weak, err := s.ReadByName("big")
	require.NoError(t, err)
	strong, err := weak.Upgrade()
	require.NoError(t, err)
	require.Equal(t, content, strong.Bytes())
	strong.Close()
}

// S6: a chunk with a flipped bit in its payload sets LAST_ERROR, leaves
// progress unchanged, and other chunks remain acceptable.
func TestFlippedBitChunkReportsErrorWithoutLosingProgress(t *testing.T) {
	e, _ := newTestEndpoint(t)
	content := []byte("the quick brown fox jumps over the lazy dog")
	req := buildRequest("fox", content, 10)
	require.NoError(t, e.WriteUploadRequest(req.Encode()))

	require.NoError(t, e.WriteData(EncodeDataFrame(0, content[0:10])))

	corrupted := make([]byte, 10)
	copy(corrupted, content[10:20])
	corrupted[0] ^= 0x01

	err := e.WriteData(EncodeDataFrame(1, corrupted))
	require.ErrorIs(t, err, ErrChunkBadChecksum)
	require.Equal(t, EncodeLastError(ErrorChunkBadChecksum), e.ReadLastError())

	received, missing := e.session.Progress()
	require.Equal(t, 1, received)
	require.Contains(t, missing, uint16(1))

	require.NoError(t, e.WriteData(EncodeDataFrame(1, content[10:20])))
	received, _ = e.session.Progress()
	require.Equal(t, 2, received)
}

func TestReadCurrentHashIsZeroWhenIdle(t *testing.T) {
	e, _ := newTestEndpoint(t)
	require.Equal(t, make([]byte, metadata.HashSize), e.ReadCurrentHash())
}

func TestWriteDataWithNoActiveSession(t *testing.T) {
	e, _ := newTestEndpoint(t)
	err := e.WriteData(EncodeDataFrame(0, []byte("x")))
	require.ErrorIs(t, err, ErrNoUploadActive)
}

// §6: chunk_size must not exceed device_max_frame_payload-2.
func TestChunkSizeAboveMaxFramePayloadRejected(t *testing.T) {
	e, _ := newTestEndpoint(t)
	e.WithMaxFramePayload(12) // allows chunk_size up to 10

	content := []byte("the quick brown fox jumps over the lazy dog")
	req := buildRequest("fox", content, 11)
	err := e.WriteUploadRequest(req.Encode())
	require.Error(t, err)
	require.Equal(t, EncodeLastError(ErrorMalformedRequest), e.ReadLastError())
}

func TestChunkSizeAtMaxFramePayloadAccepted(t *testing.T) {
	e, _ := newTestEndpoint(t)
	e.WithMaxFramePayload(12) // allows chunk_size up to 10

	content := []byte("the quick brown fox jumps over the lazy dog")
	req := buildRequest("fox", content, 10)
	require.NoError(t, e.WriteUploadRequest(req.Encode()))
}
