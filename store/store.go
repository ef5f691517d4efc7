// Package store implements the file store (C4): the in-RAM index over a
// block device's metadata records, the free-space allocator's consumer,
// and the entry point for readers and the upload endpoint alike.
package store

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	satoriuuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"

	"github.com/zebreus/rudelblinken-filestore/allocator"
	"github.com/zebreus/rudelblinken-filestore/device"
	"github.com/zebreus/rudelblinken-filestore/handle"
	"github.com/zebreus/rudelblinken-filestore/internal/metrics"
	"github.com/zebreus/rudelblinken-filestore/metadata"
	"github.com/zebreus/rudelblinken-filestore/supervisor"
)

const firstBlockKey = "first_block"
const deviceIDKey = "device_id"
const deviceNameKey = "device_name"

// state mirrors the conceptual file states from §3 of the design notes:
// Writer, Ready and MarkedForDeletion. There is no Deleted value: deleted
// entries are never kept in the index, since the destructor removes an entry
// from it once its blocks are erased.
type state int

const (
	stateWriter state = iota
	stateReady
	stateMarkedForDeletion
)

type entry struct {
	id     uuid.UUID
	name   string
	hash   [metadata.HashSize]byte
	length uint32
	addr   int64
	blocks int
	state  state
	strong *handle.Strong
}

// Store is the in-RAM index and owning handle over a single block device.
// Per §5, exactly one Store owns a given device; mutating operations are
// serialised on mu the way the original serialises them on its single
// owning task.
type Store struct {
	mu         sync.Mutex
	dev        device.Device
	blockSize  int
	blocks     int
	entries    map[uuid.UUID]*entry
	firstBlock int
	failures   supervisor.FailureCounter
	metrics    *metrics.Collectors
	log        *logrus.Entry
}

// Option configures optional Store behaviour at Mount time.
type Option func(*Store)

// WithFailureCounter wires the supervisor's failure-reporting surface into
// ReadByHash.
func WithFailureCounter(fc supervisor.FailureCounter) Option {
	return func(s *Store) { s.failures = fc }
}

// WithMetrics wires a set of prometheus collectors, updated on every
// commit, delete, and allocation failure.
func WithMetrics(m *metrics.Collectors) Option {
	return func(s *Store) { s.metrics = m }
}

// Mount scans dev for existing files and builds the in-RAM index. It reads
// first_block from the device's key/value area (defaulting to 0), and
// ensures a persistent device identifier is stored there if one isn't
// already present.
func Mount(dev device.Device, log *logrus.Entry, opts ...Option) (*Store, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Store{
		dev:       dev,
		blockSize: dev.BlockSize(),
		blocks:    dev.Blocks(),
		entries:   make(map[uuid.UUID]*entry),
		log:       log,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.ensureDeviceID(); err != nil {
		return nil, err
	}

	firstBlock, err := s.loadFirstBlock()
	if err != nil {
		return nil, err
	}
	s.firstBlock = firstBlock

	if err := s.scan(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureDeviceID() error {
	_, ok, err := s.dev.KV().Get(deviceIDKey)
	if err != nil {
		return fmt.Errorf("store: read device id: %w", err)
	}
	if ok {
		return nil
	}
	id := satoriuuid.NewV4()
	if err := s.dev.KV().Put(deviceIDKey, id.Bytes()); err != nil {
		return fmt.Errorf("store: persist device id: %w", err)
	}
	return nil
}

func (s *Store) loadFirstBlock() (int, error) {
	raw, ok, err := s.dev.KV().Get(firstBlockKey)
	if err != nil {
		return 0, fmt.Errorf("store: read first_block: %w", err)
	}
	if !ok {
		return 0, nil
	}
	if len(raw) != 4 {
		return 0, nil
	}
	v := uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24
	return int(v) % s.blocks, nil
}

func (s *Store) saveFirstBlock() error {
	v := uint32(s.firstBlock)
	buf := []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	return s.dev.KV().Put(firstBlockKey, buf)
}

// scan walks the ring starting at firstBlock, mounting each valid Ready
// record into the index and reclaiming (erasing) anything left behind by a
// crash: a Writer-state record whose READY write never landed, or a
// MarkedForDeletion record whose erase-then-flip-DELETED sequence was
// interrupted. Either case has no outstanding handles (the process just
// restarted), so it is safe to finish the reclaim synchronously here.
func (s *Store) scan() error {
	pos := s.firstBlock
	visited := 0
	for visited < s.blocks {
		addr := int64(pos) * int64(s.blockSize)
		rec, err := metadata.Read(s.dev, addr)
		if err != nil {
			pos = (pos + 1) % s.blocks
			visited++
			continue
		}

		blocksUsed := metadata.Blocks(rec.Length, s.blockSize)

		switch {
		case rec.IsDeleted():
			// Already reclaimed; nothing to do.
		case rec.IsReady() && rec.IsMarkedForDeletion():
			if err := s.eraseExtent(addr, blocksUsed); err != nil {
				return err
			}
			if err := metadata.SetDeleted(s.dev, addr); err != nil {
				return err
			}
		case rec.IsReady():
			content, err := s.dev.Read(addr+metadata.Size, int64(rec.Length))
			if err != nil {
				return fmt.Errorf("store: mount: read content at %d: %w", addr, err)
			}
			e := &entry{
				id:     uuid.New(),
				name:   rec.Name,
				hash:   rec.Hash,
				length: rec.Length,
				addr:   addr,
				blocks: blocksUsed,
				state:  stateReady,
			}
			e.strong = handle.New(content, s.destructorFor(e))
			s.entries[e.id] = e
			if s.metrics != nil {
				s.metrics.FilesLive.Inc()
				s.metrics.BytesAllocated.Add(float64(e.blocks) * float64(s.blockSize))
			}
		default:
			// Writer state survived a crash without READY ever landing.
			// Left untracked, its space is implicitly reclaimed: the
			// allocator doesn't see it, and the AND-write semantics mean a
			// future metadata write here would corrupt unless erased
			// first, so erase it now while nothing can reference it.
			if err := s.eraseExtent(addr, blocksUsed); err != nil {
				return err
			}
		}

		pos = (pos + blocksUsed) % s.blocks
		visited += blocksUsed
	}
	return nil
}

func (s *Store) eraseExtent(addr int64, blocks int) error {
	return s.dev.Erase(addr, int64(blocks)*int64(s.blockSize))
}

// destructorFor builds the handle.Destructor for e: erase its blocks and
// flip DELETED, then drop it from the index. Runs outside the handle
// package's header lock, but still needs the store's own lock since it
// touches the device and the index.
func (s *Store) destructorFor(e *entry) handle.Destructor {
	return func(markedForDeletion bool) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !markedForDeletion {
			// Transient zero: every reader closed their strong handle but
			// nobody asked to delete the file. Nothing to reclaim.
			return
		}
		if err := s.eraseExtent(e.addr, e.blocks); err != nil {
			s.log.WithError(err).WithField("name", e.name).Warn("failed to erase deleted file's blocks")
			return
		}
		if err := metadata.SetDeleted(s.dev, e.addr); err != nil {
			s.log.WithError(err).WithField("name", e.name).Warn("failed to flip DELETED flag")
			return
		}
		delete(s.entries, e.id)
		if s.metrics != nil {
			s.metrics.FilesLive.Dec()
			s.metrics.BytesAllocated.Sub(float64(e.blocks) * float64(s.blockSize))
		}
		s.log.WithFields(logrus.Fields{"name": e.name, "blocks": e.blocks}).Debug("file erased and reclaimed")
	}
}

// ReadByName returns a weak handle to a Ready entry with a matching name.
// The index is a map, so when several Ready entries share the name, which
// one is returned is not defined.
func (s *Store) ReadByName(name string) (*handle.Weak, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.state == stateReady && e.name == name {
			return e.strong.Downgrade(), nil
		}
	}
	return nil, ErrNotFound
}

// ReadByHash returns a weak handle to the Ready entry with a matching
// content hash. If a FailureCounter is wired and reports this hash should
// fall back, the lookup is skipped as if the file were absent.
func (s *Store) ReadByHash(hash [metadata.HashSize]byte) (*handle.Weak, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures != nil && s.failures.ShouldFallBack(hash) {
		return nil, ErrNotFound
	}
	for _, e := range s.entries {
		if e.state == stateReady && e.hash == hash {
			return e.strong.Downgrade(), nil
		}
	}
	return nil, ErrNotFound
}

// RecordReadFailure forwards to the wired supervisor.FailureCounter, if
// any, so repeated bad reads of the same hash can eventually fall back.
func (s *Store) RecordReadFailure(hash [metadata.HashSize]byte) {
	if s.failures != nil {
		s.failures.RecordFailure(hash)
	}
}

// BeginWrite reserves space for a new file and returns its entry id and an
// open Writer. It calls Cleanup first, matching the original's sweep of
// fully-dropped entries before every new allocation.
func (s *Store) BeginWrite(name string, length uint32, expectedHash [metadata.HashSize]byte) (uuid.UUID, *Writer, error) {
	s.Cleanup()

	if len(name) > metadata.NameSize {
		return uuid.Nil, nil, ErrNameTooLong
	}
	maxContent := int64(s.blocks)*int64(s.blockSize) - metadata.Size
	if int64(length) > maxContent {
		return uuid.Nil, nil, fmt.Errorf("%w: %w", ErrInsufficientSpace, ErrContentTooLarge)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	occupied := make([]allocator.Extent, 0, len(s.entries))
	for _, e := range s.entries {
		occupied = append(occupied, allocator.Extent{
			StartBlock: int(e.addr / int64(s.blockSize)),
			Blocks:     e.blocks,
		})
	}

	addr, err := allocator.Allocate(s.blocks, s.blockSize, occupied, length)
	if err != nil {
		if s.metrics != nil {
			s.metrics.AllocatorFailures.Inc()
		}
		s.log.WithFields(logrus.Fields{"name": name, "length": length}).Warn("begin_write: insufficient space")
		return uuid.Nil, nil, fmt.Errorf("%w", ErrInsufficientSpace)
	}

	// Erase the reserved blocks before placing the record: a deleted file
	// leaves its cleared DELETED bit behind, and a monotonic write cannot
	// set it again.
	startBlock := int(addr / int64(s.blockSize))
	for i := 0; i < metadata.Blocks(length, s.blockSize); i++ {
		blockAddr := int64((startBlock+i)%s.blocks) * int64(s.blockSize)
		if err := s.dev.Erase(blockAddr, int64(s.blockSize)); err != nil {
			return uuid.Nil, nil, fmt.Errorf("%w: %v", ErrCorruptedWrite, err)
		}
	}

	rec, err := metadata.Create(name, length, expectedHash)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("%w: %v", ErrNameTooLong, err)
	}
	if err := metadata.WriteNew(s.dev, addr, rec); err != nil {
		return uuid.Nil, nil, fmt.Errorf("%w: %v", ErrCorruptedWrite, err)
	}

	blocksUsed := metadata.Blocks(length, s.blockSize)
	e := &entry{
		id:     uuid.New(),
		name:   name,
		hash:   expectedHash,
		length: length,
		addr:   addr,
		blocks: blocksUsed,
		state:  stateWriter,
	}
	s.entries[e.id] = e

	s.firstBlock = int(addr/int64(s.blockSize)+int64(blocksUsed)) % s.blocks
	if err := s.saveFirstBlock(); err != nil {
		s.log.WithError(err).Warn("failed to persist first_block cursor")
	}

	s.log.WithFields(logrus.Fields{"name": name, "length": length, "addr": addr}).Debug("begin_write reserved extent")

	w := &Writer{
		store:  s,
		entry:  e,
		dev:    s.dev,
		cursor: 0,
	}
	return e.id, w, nil
}

// commitWrite is called by Writer.Commit. It sets the READY flag, wires up
// the entry's strong handle and flips its index state to Ready.
func (s *Store) commitWrite(e *entry) ([]byte, error) {
	if err := metadata.SetReady(s.dev, e.addr); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}

	content, err := s.dev.Read(e.addr+metadata.Size, int64(e.length))
	if err != nil {
		return nil, fmt.Errorf("store: commit: read content: %w", err)
	}

	s.mu.Lock()
	e.state = stateReady
	e.strong = handle.New(content, s.destructorFor(e))
	if s.metrics != nil {
		s.metrics.FilesLive.Inc()
		s.metrics.BytesAllocated.Add(float64(e.blocks) * float64(s.blockSize))
	}
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"name": e.name, "length": e.length}).Debug("file committed")
	return content, nil
}

// rollbackWrite is called by Writer.Close when a writer is dropped without
// being committed. The metadata record never had READY set, so it is
// already invisible to read_by_name/read_by_hash; erasing it here just
// frees the space immediately instead of waiting for the next mount scan
// to reclaim it.
func (s *Store) rollbackWrite(e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.id]; !ok {
		return
	}
	if err := s.eraseExtent(e.addr, e.blocks); err != nil {
		s.log.WithError(err).WithField("name", e.name).Warn("failed to erase rolled-back writer")
	}
	delete(s.entries, e.id)
}

// DeleteByName marks a Ready entry with the given name for deletion; when
// several Ready entries share the name, which one is marked is not defined.
// MARKED_FOR_DELETION is flipped on flash synchronously with this
// call; actual block erasure happens now if no strong handle is
// outstanding, or later when the last one drops.
func (s *Store) DeleteByName(name string) error {
	s.mu.Lock()
	var target *entry
	for _, e := range s.entries {
		if e.state == stateReady && e.name == name {
			target = e
			break
		}
	}
	if target == nil {
		s.mu.Unlock()
		return ErrNotFound
	}
	target.state = stateMarkedForDeletion
	s.mu.Unlock()

	if err := metadata.SetMarkedForDeletion(s.dev, target.addr); err != nil {
		return fmt.Errorf("store: delete_by_name: %w", err)
	}

	target.strong.MarkForDeletion()
	// This is the store's own grip on the file. Dropping it here is what
	// lets strong_count reach zero (and the destructor fire synchronously)
	// when no reader currently holds the file open.
	target.strong.Close()
	return nil
}

// Cleanup removes index entries whose content handle has reached zero
// strong and zero weak references. In normal operation the destructor
// already removes an entry from the index the moment it fires; this sweep
// is a defensive backstop for any entry that slipped past that path.
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if e.state != stateMarkedForDeletion {
			continue
		}
		if e.strong.StrongCount() == 0 && e.strong.WeakCount() == 0 {
			delete(s.entries, id)
		}
	}
}

// DeviceName returns the device's persistent label, if one has been set.
func (s *Store) DeviceName() (string, bool, error) {
	raw, ok, err := s.dev.KV().Get(deviceNameKey)
	if err != nil || !ok {
		return "", ok, err
	}
	return string(raw), true, nil
}

// SetDeviceName sets the device's persistent label, independent of any
// individual file's name.
func (s *Store) SetDeviceName(name string) error {
	return s.dev.KV().Put(deviceNameKey, []byte(name))
}

// BlockSize and Blocks expose the underlying device's geometry, for the
// CLI's mount and status commands.
func (s *Store) BlockSize() int { return s.blockSize }
func (s *Store) Blocks() int    { return s.blocks }

// Log exposes the store's logger, so that collaborating packages (the
// upload endpoint and session) can log their own state transitions with the
// same structured logger the store itself uses, instead of each holding a
// second, unrelated logging dependency.
func (s *Store) Log() *logrus.Entry { return s.log }

// FileInfo summarises one index entry for callers that need to enumerate
// the store's contents, such as the CLI's ls and status commands.
type FileInfo struct {
	Name              string
	Hash              [metadata.HashSize]byte
	Length            uint32
	Blocks            int
	MarkedForDeletion bool
}

// List returns a snapshot of every Ready or MarkedForDeletion entry. It
// takes no reference on the returned entries; callers that need to read
// content should still go through ReadByName or ReadByHash.
func (s *Store) List() []FileInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]FileInfo, 0, len(s.entries))
	for _, e := range s.entries {
		if e.state == stateWriter {
			continue
		}
		out = append(out, FileInfo{
			Name:              e.name,
			Hash:              e.hash,
			Length:            e.length,
			Blocks:            e.blocks,
			MarkedForDeletion: e.state == stateMarkedForDeletion,
		})
	}
	return out
}
