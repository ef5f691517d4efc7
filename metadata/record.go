// Package metadata implements the 64-byte file metadata record (C2): the
// fixed-size header placed immediately before every file's bytes in flash.
// The encoding follows the fixed-offset binary.LittleEndian style used
// throughout the ext4 package this module grew out of (see inode.go), but
// the layout itself, and the monotonic marker/flag scheme, belong to this
// store's own on-flash format.
package metadata

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/zebreus/rudelblinken-filestore/device"
)

// Size is the fixed on-flash size of a metadata record, in bytes.
const Size = 64

const (
	offsetFlags    = 0
	offsetReserved = 2
	offsetLength   = 4
	offsetHash     = 8
	offsetName     = 40
	offsetPadding  = 56

	// HashSize is the width of the content-hash field (SHA3-256 digest).
	HashSize = 32
	// NameSize is the width of the NUL-padded name field.
	NameSize = 16
)

// Monotonic state bits, occupying the low three bits of the flags word.
// Setting a flag clears its bit; an accessor reports whether the bit has
// been cleared.
const (
	bitReady             uint16 = 1 << 0
	bitMarkedForDeletion uint16 = 1 << 1
	bitDeleted           uint16 = 1 << 2
	erasedWord           uint16 = 0xFFFF
)

// markerMask covers the thirteen flag bits not used by the three monotonic
// state bits. markerPattern is the fixed value those bits are cleared to at
// creation time; a record whose flags don't match it is not a file (I1).
const (
	markerMask    uint16 = 0xFFF8
	markerPattern uint16 = 0xA948 & markerMask
)

// ErrInvalidMarker is returned by Read when the bytes at addr do not carry
// the fixed marker pattern: the slot is not a metadata record, whether
// because it is still erased or because it holds unrelated data.
var ErrInvalidMarker = errors.New("metadata: invalid marker")

// ErrNameTooLong is returned by Create when name exceeds NameSize bytes.
var ErrNameTooLong = errors.New("metadata: name exceeds 16 bytes")

// Record is the in-memory view of a 64-byte on-flash metadata record.
type Record struct {
	flags  uint16
	Length uint32
	Hash   [HashSize]byte
	Name   string
}

// Create builds the in-RAM record for a new file. The returned record's
// flags equal the erased word with exactly the marker bits cleared; READY,
// MARKED_FOR_DELETION and DELETED remain in their erased (unset) state.
func Create(name string, length uint32, hash [HashSize]byte) (*Record, error) {
	if len(name) > NameSize {
		return nil, fmt.Errorf("%w: %q is %d bytes", ErrNameTooLong, name, len(name))
	}
	return &Record{
		flags:  erasedWord&^markerMask | markerPattern,
		Length: length,
		Hash:   hash,
		Name:   name,
	}, nil
}

// bytes encodes the record into its fixed 64-byte on-flash representation.
func (r *Record) bytes() []byte {
	b := make([]byte, Size)
	for i := range b {
		b[i] = device.Erased
	}
	binary.LittleEndian.PutUint16(b[offsetFlags:], r.flags)
	binary.LittleEndian.PutUint16(b[offsetReserved:], erasedWord)
	binary.LittleEndian.PutUint32(b[offsetLength:], r.Length)
	copy(b[offsetHash:offsetHash+HashSize], r.Hash[:])
	nameField := make([]byte, NameSize)
	copy(nameField, r.Name)
	copy(b[offsetName:offsetName+NameSize], nameField)
	return b
}

// WriteNew writes a freshly created record to addr using the device's
// checked write path, the only path the store uses to place metadata
// records, since it guarantees the marker pattern landed intact.
func WriteNew(dev device.Device, addr int64, r *Record) error {
	_, err := dev.WriteChecked(addr, r.bytes())
	if err != nil {
		return fmt.Errorf("metadata: write record at %d: %w", addr, err)
	}
	return nil
}

// Read loads and validates the metadata record at addr. A record whose
// marker bits don't match is reported as ErrInvalidMarker; the caller (the
// store's mount scan) treats that as "not a file" and advances one block.
func Read(dev device.Device, addr int64) (*Record, error) {
	raw, err := dev.Read(addr, Size)
	if err != nil {
		return nil, fmt.Errorf("metadata: read record at %d: %w", addr, err)
	}

	flags := binary.LittleEndian.Uint16(raw[offsetFlags:])
	if flags&markerMask != markerPattern {
		return nil, ErrInvalidMarker
	}

	length := binary.LittleEndian.Uint32(raw[offsetLength:])
	var hash [HashSize]byte
	copy(hash[:], raw[offsetHash:offsetHash+HashSize])
	name := string(bytes.TrimRight(raw[offsetName:offsetName+NameSize], "\x00"))

	return &Record{
		flags:  flags,
		Length: length,
		Hash:   hash,
		Name:   name,
	}, nil
}

// clearBit performs the monotonic "set flag" write: AND a single bit to
// zero, leaving every other bit in the flags word untouched. It is
// idempotent — writing the erased value (all ones) over an already-cleared
// bit is a no-op.
func clearBit(dev device.Device, addr int64, bit uint16) error {
	writeWord := erasedWord &^ bit
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, writeWord)
	if err := dev.Write(addr+offsetFlags, buf); err != nil {
		return fmt.Errorf("metadata: clear flag bit %#x at %d: %w", bit, addr, err)
	}
	return nil
}

// SetReady flips the READY bit, transitioning the record from Writer to
// Ready. Idempotent.
func SetReady(dev device.Device, addr int64) error {
	return clearBit(dev, addr, bitReady)
}

// SetMarkedForDeletion flips the MARKED_FOR_DELETION bit. Idempotent.
func SetMarkedForDeletion(dev device.Device, addr int64) error {
	return clearBit(dev, addr, bitMarkedForDeletion)
}

// SetDeleted flips the DELETED bit. Callers erase the file's blocks before
// calling this, so that the slot is distinguishable from random flash noise
// on a future scan without being mistaken for a live file. Idempotent.
func SetDeleted(dev device.Device, addr int64) error {
	return clearBit(dev, addr, bitDeleted)
}

// IsReady reports whether the READY bit has been cleared.
func (r *Record) IsReady() bool { return r.flags&bitReady == 0 }

// IsMarkedForDeletion reports whether the MARKED_FOR_DELETION bit has been
// cleared.
func (r *Record) IsMarkedForDeletion() bool { return r.flags&bitMarkedForDeletion == 0 }

// IsDeleted reports whether the DELETED bit has been cleared.
func (r *Record) IsDeleted() bool { return r.flags&bitDeleted == 0 }

// ComputeHash returns the content hash used throughout this store: SHA3-256,
// via golang.org/x/crypto/sha3. Its 32-byte digest matches HashSize exactly.
func ComputeHash(content []byte) [HashSize]byte {
	return sha3.Sum256(content)
}

// Blocks returns the number of blockSize-sized blocks this record's extent
// (header + content) occupies, rounded up.
func Blocks(length uint32, blockSize int) int {
	total := Size + int(length)
	return (total + blockSize - 1) / blockSize
}
