package metadata

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zebreus/rudelblinken-filestore/device"
)

func testHash(b byte) [HashSize]byte {
	var h [HashSize]byte
	for i := range h {
		h[i] = b
	}
	return h
}

func TestCreateAndRead(t *testing.T) {
	dev := device.NewMemory(16, 64)
	r, err := Create("fancy", 123, testHash(0xAB))
	require.NoError(t, err)
	require.NoError(t, WriteNew(dev, 0, r))

	got, err := Read(dev, 0)
	require.NoError(t, err)
	require.Equal(t, "fancy", got.Name)
	require.Equal(t, uint32(123), got.Length)
	require.Equal(t, testHash(0xAB), got.Hash)
	require.False(t, got.IsReady())
	require.False(t, got.IsMarkedForDeletion())
	require.False(t, got.IsDeleted())
}

func TestCreateRejectsLongName(t *testing.T) {
	_, err := Create("this-name-is-way-too-long", 1, testHash(0))
	require.ErrorIs(t, err, ErrNameTooLong)
}

func TestReadRejectsUnwrittenRegion(t *testing.T) {
	dev := device.NewMemory(16, 64)
	_, err := Read(dev, 0)
	require.ErrorIs(t, err, ErrInvalidMarker)
}

func TestReadRejectsGarbage(t *testing.T) {
	dev := device.NewMemory(16, 64)
	require.NoError(t, dev.Write(0, []byte{0x00, 0x00, 0x00, 0x00}))
	_, err := Read(dev, 0)
	require.ErrorIs(t, err, ErrInvalidMarker)
}

// TestFlagOrdersPreserveMarker is the exhaustive property from the design
// notes: setting READY, MARKED_FOR_DELETION and DELETED in any of the 3! =
// 6 possible orders must never disturb the marker bits.
func TestFlagOrdersPreserveMarker(t *testing.T) {
	type step func(device.Device, int64) error
	steps := map[string]step{
		"ready":   SetReady,
		"marked":  SetMarkedForDeletion,
		"deleted": SetDeleted,
	}
	orders := [][]string{
		{"ready", "marked", "deleted"},
		{"ready", "deleted", "marked"},
		{"marked", "ready", "deleted"},
		{"marked", "deleted", "ready"},
		{"deleted", "ready", "marked"},
		{"deleted", "marked", "ready"},
	}

	for _, order := range orders {
		dev := device.NewMemory(16, 64)
		r, err := Create("f", 10, testHash(1))
		require.NoError(t, err)
		require.NoError(t, WriteNew(dev, 0, r))

		for _, name := range order {
			require.NoError(t, steps[name](dev, 0))
		}

		got, err := Read(dev, 0)
		require.NoError(t, err, "order %v", order)
		require.True(t, got.IsReady(), "order %v", order)
		require.True(t, got.IsMarkedForDeletion(), "order %v", order)
		require.True(t, got.IsDeleted(), "order %v", order)
	}
}

func TestSetFlagsAreIdempotent(t *testing.T) {
	dev := device.NewMemory(16, 64)
	r, err := Create("f", 1, testHash(2))
	require.NoError(t, err)
	require.NoError(t, WriteNew(dev, 0, r))

	require.NoError(t, SetReady(dev, 0))
	require.NoError(t, SetReady(dev, 0))

	got, err := Read(dev, 0)
	require.NoError(t, err)
	require.True(t, got.IsReady())
	require.False(t, got.IsMarkedForDeletion())
	require.False(t, got.IsDeleted())
}

func TestBlocksRoundsUp(t *testing.T) {
	require.Equal(t, 1, Blocks(0, 64))
	require.Equal(t, 1, Blocks(64-Size, 64))
	require.Equal(t, 2, Blocks(64-Size+1, 64))
}
