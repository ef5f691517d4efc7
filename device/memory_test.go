package device

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemory_ReadWrapAround(t *testing.T) {
	m := NewMemory(4, 16) // 64 bytes total
	require.NoError(t, m.Write(60, []byte{0, 1, 2, 3, 4, 5, 6, 7}))

	got, err := m.Read(60, 8)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6, 7}, got)

	// The tail of the write wrapped onto the front of the device.
	front, err := m.Read(0, 4)
	require.NoError(t, err)
	require.Equal(t, []byte{4, 5, 6, 7}, front)
}

func TestMemory_MonotonicWrite(t *testing.T) {
	m := NewMemory(4, 16)
	require.NoError(t, m.Write(0, []byte{0b1111_0000}))
	got, err := m.Read(0, 1)
	require.NoError(t, err)
	require.Equal(t, byte(0b1111_0000), got[0])

	// Writing the erased value (all ones) over it must not widen any bit.
	require.NoError(t, m.Write(0, []byte{Erased}))
	got, err = m.Read(0, 1)
	require.NoError(t, err)
	require.Equal(t, byte(0b1111_0000), got[0])

	// A further write can only clear more bits.
	require.NoError(t, m.Write(0, []byte{0b1100_0000}))
	got, err = m.Read(0, 1)
	require.NoError(t, err)
	require.Equal(t, byte(0b1100_0000), got[0])
}

func TestMemory_EraseRestoresErasedState(t *testing.T) {
	m := NewMemory(4, 16)
	require.NoError(t, m.Write(0, []byte{0x00, 0x00}))
	require.NoError(t, m.Erase(0, 16))

	got, err := m.Read(0, 16)
	require.NoError(t, err)
	for _, b := range got {
		require.Equal(t, Erased, b)
	}
}

func TestMemory_EraseRequiresBlockAlignment(t *testing.T) {
	m := NewMemory(4, 16)
	require.ErrorIs(t, m.Erase(1, 16), ErrEraseNotBlockAligned)
	require.ErrorIs(t, m.Erase(0, 15), ErrEraseNotBlockAligned)
	require.ErrorIs(t, m.Erase(0, 128), ErrEraseNotBlockAligned)
}

func TestMemory_AddressOutOfRange(t *testing.T) {
	m := NewMemory(4, 16)
	_, err := m.Read(64, 1)
	require.ErrorIs(t, err, ErrAddressOutOfRange)
	_, err = m.Read(0, 65)
	require.ErrorIs(t, err, ErrAddressOutOfRange)
}

func TestMemory_WriteCheckedSucceedsOnFreshRegion(t *testing.T) {
	m := NewMemory(4, 16)
	out, err := m.WriteChecked(0, []byte{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, out)
}

func TestMemory_KVRoundTrip(t *testing.T) {
	m := NewMemory(4, 16)
	_, ok, err := m.KV().Get("first_block")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.KV().Put("first_block", []byte{0, 0}))
	v, ok, err := m.KV().Get("first_block")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{0, 0}, v)
}
