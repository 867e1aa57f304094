package device

import (
	"github.com/neko940709/mapd-core-stream/common"
)

// Bitmap tracks which pages of a device arena are in use. Scans work a word
// at a time to skip fully used blocks.
type Bitmap struct {
	words   []uint64
	numBits int
}

// NewBitmap returns a bitmap of numBits cleared bits.
func NewBitmap(numBits int) *Bitmap {
	common.Assert(numBits >= 0, "negative bitmap size %d", numBits)
	return &Bitmap{
		words:   make([]uint64, (numBits+63)/64),
		numBits: numBits,
	}
}

// Len returns the number of bits.
func (b *Bitmap) Len() int {
	return b.numBits
}

// SetBit sets the bit at index i to the given value.
// Returns the previous value of the bit.
func (b *Bitmap) SetBit(i int, on bool) (originalValue bool) {
	common.Assert(i >= 0 && i < b.numBits, "indexing out of bounds")
	mask := uint64(1) << uint(i%64)
	ptr := &b.words[i/64]
	originalValue = (*ptr & mask) != 0
	if on {
		*ptr |= mask
	} else {
		*ptr &^= mask
	}
	return originalValue
}

// LoadBit returns the value of the bit at index i.
func (b *Bitmap) LoadBit(i int) bool {
	common.Assert(i >= 0 && i < b.numBits, "indexing out of bounds")
	return (b.words[i/64] & (1 << uint(i%64))) != 0
}

// FindFirstZero searches for the first cleared bit at or after startHint,
// wrapping around to the beginning. Returns -1 if every bit is set.
func (b *Bitmap) FindFirstZero(startHint int) int {
	if startHint < 0 || startHint > b.numBits {
		startHint = 0
	}
	if r := b.findFirstZeroInRange(startHint, b.numBits); r != -1 {
		return r
	}
	return b.findFirstZeroInRange(0, startHint)
}

func (b *Bitmap) findFirstZeroInRange(start, end int) int {
	common.Assert(start >= 0 && start <= end && end <= b.numBits, "invalid Bitmap range")
	if start == end {
		return -1
	}
	startWord := start / 64
	endWord := (end - 1) / 64

	for i := startWord; i <= endWord; i++ {
		word := b.words[i]
		if word == ^uint64(0) {
			continue
		}

		bitStart, bitEnd := 0, 64
		if i == startWord {
			bitStart = start % 64
		}
		if i == endWord {
			if limit := end % 64; limit != 0 {
				bitEnd = limit
			}
		}
		for j := bitStart; j < bitEnd; j++ {
			if (word & (1 << j)) == 0 {
				return i*64 + j
			}
		}
	}
	return -1
}
