//go:build unix

package device

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MmapFile is a host-file-backed block device. The file is memory-mapped
// read/write, so reads that do not cross the end of the partition are
// genuine zero-copy slices into the mapping. Reads that wrap around the end
// of the ring fall back to a small allocated copy, the "cheap splice"
// strategy the spec allows for targets without an MMU double-mapping trick.
type MmapFile struct {
	size      int64
	blockSize int
	blocks    int
	file      *os.File
	data      []byte
	kv        KV
}

// OpenMmapFile opens (creating it and padding it with erased bytes if
// necessary) a flash-image file at path and memory-maps it. kvDir overrides
// where the key/value metadata side-store lives; an empty kvDir defaults to
// path+".kv", next to the image.
func OpenMmapFile(path string, blocks, blockSize int, kvDir string) (*MmapFile, error) {
	size := int64(blocks) * int64(blockSize)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("device: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("device: stat %s: %w", path, err)
	}
	if info.Size() < size {
		if err := initializeErased(f, info.Size(), size); err != nil {
			f.Close()
			return nil, err
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("device: mmap %s: %w", path, err)
	}

	if kvDir == "" {
		kvDir = path + ".kv"
	}
	if err := os.MkdirAll(kvDir, 0o755); err != nil {
		unix.Munmap(data)
		f.Close()
		return nil, fmt.Errorf("device: create kv dir %s: %w", kvDir, err)
	}
	kv, err := NewBadgerKV(kvDir)
	if err != nil {
		unix.Munmap(data)
		f.Close()
		return nil, err
	}

	return &MmapFile{
		size:      size,
		blockSize: blockSize,
		blocks:    blocks,
		file:      f,
		data:      data,
		kv:        kv,
	}, nil
}

// initializeErased grows the file to size, filling the new bytes with the
// erased polarity.
func initializeErased(f *os.File, from, to int64) error {
	if err := f.Truncate(to); err != nil {
		return fmt.Errorf("device: truncate: %w", err)
	}
	const chunk = 1 << 16
	buf := make([]byte, chunk)
	for i := range buf {
		buf[i] = Erased
	}
	for off := from; off < to; off += chunk {
		n := chunk
		if remaining := to - off; remaining < int64(n) {
			n = int(remaining)
		}
		if _, err := f.WriteAt(buf[:n], off); err != nil {
			return fmt.Errorf("device: initialize erased region: %w", err)
		}
	}
	return nil
}

func (d *MmapFile) Size() int64    { return d.size }
func (d *MmapFile) BlockSize() int { return d.blockSize }
func (d *MmapFile) Blocks() int    { return d.blocks }
func (d *MmapFile) KV() KV         { return d.kv }

func (d *MmapFile) Close() error {
	if err := d.kv.Close(); err != nil {
		return err
	}
	if err := unix.Munmap(d.data); err != nil {
		return err
	}
	return d.file.Close()
}

func (d *MmapFile) Read(addr, length int64) ([]byte, error) {
	if err := checkRange(d.size, addr, length); err != nil {
		return nil, err
	}
	start := wrapIndex(addr, d.size)
	if start+length <= d.size {
		return d.data[start : start+length], nil
	}
	// Wraps around the end of the ring: splice the two halves into a copy.
	out := make([]byte, length)
	firstLen := d.size - start
	copy(out, d.data[start:d.size])
	copy(out[firstLen:], d.data[:length-firstLen])
	return out, nil
}

func (d *MmapFile) Write(addr int64, data []byte) error {
	if err := checkRange(d.size, addr, int64(len(data))); err != nil {
		return err
	}
	for i, b := range data {
		pos := wrapIndex(addr+int64(i), d.size)
		d.data[pos] &= b
	}
	return nil
}

func (d *MmapFile) Erase(addr, length int64) error {
	if err := checkBlockAligned(d.blockSize, d.size, addr, length); err != nil {
		return err
	}
	for i := int64(0); i < length; i++ {
		pos := wrapIndex(addr+i, d.size)
		d.data[pos] = Erased
	}
	return nil
}

func (d *MmapFile) WriteChecked(addr int64, data []byte) ([]byte, error) {
	if err := d.Write(addr, data); err != nil {
		return nil, err
	}
	readBack, err := d.Read(addr, int64(len(data)))
	if err != nil {
		return nil, err
	}
	for i := range data {
		if readBack[i] != data[i] {
			return nil, ErrReadbackMismatch
		}
	}
	return readBack, nil
}

var _ Device = (*MmapFile)(nil)
