package device

// Memory is an in-RAM block device. It simulates a flash partition by
// keeping a doubled backing buffer: data[size:2*size] always mirrors
// data[0:size], so a wrap-around read can be served as a single contiguous
// slice without copying, the way a double-mapped MMU region would behave on
// real hardware.
type Memory struct {
	size      int64
	blockSize int
	blocks    int
	data      []byte
	kv        KV
}

// NewMemory creates an erased (all Erased-polarity bytes) in-RAM device of
// blocks * blockSize bytes.
func NewMemory(blocks, blockSize int) *Memory {
	size := int64(blocks) * int64(blockSize)
	data := make([]byte, 2*size)
	for i := range data {
		data[i] = Erased
	}
	return &Memory{
		size:      size,
		blockSize: blockSize,
		blocks:    blocks,
		data:      data,
		kv:        NewMemoryKV(),
	}
}

func (m *Memory) Size() int64    { return m.size }
func (m *Memory) BlockSize() int { return m.blockSize }
func (m *Memory) Blocks() int    { return m.blocks }
func (m *Memory) KV() KV         { return m.kv }
func (m *Memory) Close() error   { return nil }

func (m *Memory) Read(addr, length int64) ([]byte, error) {
	if err := checkRange(m.size, addr, length); err != nil {
		return nil, err
	}
	start := wrapIndex(addr, m.size)
	return m.data[start : start+length], nil
}

func (m *Memory) Write(addr int64, data []byte) error {
	if err := checkRange(m.size, addr, int64(len(data))); err != nil {
		return err
	}
	for i, b := range data {
		pos := wrapIndex(addr+int64(i), m.size)
		written := m.data[pos] & b
		m.data[pos] = written
		m.data[pos+m.size] = written
	}
	return nil
}

func (m *Memory) Erase(addr, length int64) error {
	if err := checkBlockAligned(m.blockSize, m.size, addr, length); err != nil {
		return err
	}
	for i := int64(0); i < length; i++ {
		pos := wrapIndex(addr+i, m.size)
		m.data[pos] = Erased
		m.data[pos+m.size] = Erased
	}
	return nil
}

func (m *Memory) WriteChecked(addr int64, data []byte) ([]byte, error) {
	if err := m.Write(addr, data); err != nil {
		return nil, err
	}
	readBack, err := m.Read(addr, int64(len(data)))
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

var _ Device = (*Memory)(nil)
