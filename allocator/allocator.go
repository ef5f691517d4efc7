// Package allocator implements the longest-free-range-first block allocator
// (§4.2): given the store's current index, find a span of blocks big enough
// for a new file's metadata record and content, wrapping around the end of
// the partition the same way the block device addresses it.
package allocator

import (
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/zebreus/rudelblinken-filestore/metadata"
)

// ErrInsufficientSpace is returned when no free range is large enough to
// hold the requested length plus a metadata record.
var ErrInsufficientSpace = errors.New("allocator: insufficient space")

// Extent is a live file's block range, in the same terms the store's index
// already tracks: a starting block and a block count.
type Extent struct {
	StartBlock int
	Blocks     int
}

// freeRange is a maximal run of unoccupied blocks. For a range that wraps
// around block 0, Start is the block right after the last occupied prefix,
// and the run is understood to continue past the end of the partition back
// to the beginning.
type freeRange struct {
	start  int
	length int
}

// Allocate finds a starting byte offset for a file of contentLength bytes,
// given the partition's total block count, its block size, and the extents
// already occupied by live files. It returns ErrInsufficientSpace if no
// free range is long enough.
func Allocate(blocks, blockSize int, occupied []Extent, contentLength uint32) (int64, error) {
	needBlocks := metadata.Blocks(contentLength, blockSize)

	occ := bitset.New(uint(blocks))
	for _, e := range occupied {
		for i := 0; i < e.Blocks; i++ {
			occ.Set(uint((e.StartBlock + i) % blocks))
		}
	}

	ranges := freeRanges(occ, blocks)
	if len(ranges) == 0 {
		return 0, fmt.Errorf("%w: no free blocks", ErrInsufficientSpace)
	}

	best := ranges[0]
	for _, r := range ranges[1:] {
		if r.length > best.length || (r.length == best.length && r.start < best.start) {
			best = r
		}
	}

	if best.length < needBlocks {
		return 0, fmt.Errorf("%w: longest free range is %d blocks, need %d", ErrInsufficientSpace, best.length, needBlocks)
	}

	return int64(best.start) * int64(blockSize), nil
}

// freeRanges computes the maximal runs of unoccupied blocks in occ, treating
// the block space as a ring of the given size.
func freeRanges(occ *bitset.BitSet, blocks int) []freeRange {
	var runs []freeRange
	i := 0
	for i < blocks {
		if occ.Test(uint(i)) {
			i++
			continue
		}
		start := i
		for i < blocks && !occ.Test(uint(i)) {
			i++
		}
		runs = append(runs, freeRange{start: start, length: i - start})
	}

	if len(runs) == 0 {
		return nil
	}
	// A single run covering every block is already maximal; nothing to wrap.
	if len(runs) == 1 && runs[0].length == blocks {
		return runs
	}

	first, last := runs[0], runs[len(runs)-1]
	wraps := first.start == 0 && last.start+last.length == blocks
	if wraps && len(runs) > 1 {
		merged := freeRange{start: last.start, length: last.length + first.length}
		runs = append(runs[1:len(runs)-1], merged)
	}
	return runs
}
