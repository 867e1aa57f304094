package device

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func verifyBitmap(t *testing.T, bm *Bitmap, shadow []bool) {
	for i := 0; i < len(shadow); i++ {
		assert.Equal(t, shadow[i], bm.LoadBit(i), "Mismatch at bit %d", i)
	}
}

func checkFindFirstZero(t *testing.T, bm *Bitmap, startIndex int, expected int) {
	actual := bm.FindFirstZero(startIndex)
	assert.Equal(t, expected, actual, "FindFirstZero mismatch starting at index %d", startIndex)
	if expected != -1 {
		assert.False(t, bm.LoadBit(actual), "FindFirstZero returned a set bit")
	}
}

func expectedFirstZero(shadow []bool, startIndex int) int {
	for i := startIndex; i < len(shadow); i++ {
		if !shadow[i] {
			return i
		}
	}
	for i := 0; i < startIndex; i++ {
		if !shadow[i] {
			return i
		}
	}
	return -1
}

// runRandomizedTest drives the bitmap the way the page allocator does: claim
// the first free page after a hint, release random pages, and toggle runs,
// checking every step against a []bool shadow.
func runRandomizedTest(t *testing.T, numBits int, seed int64) {
	r := rand.New(rand.NewSource(seed))
	bm := NewBitmap(numBits)
	shadow := make([]bool, numBits)

	for i := 0; i < 50000; i++ {
		switch r.Intn(4) {
		case 0:
			idx := r.Intn(numBits)
			on := r.Intn(2) == 0
			assert.Equal(t, shadow[idx], bm.SetBit(idx, on), "SetBit return value mismatch at iter %d", i)
			shadow[idx] = on
		case 1:
			idx := r.Intn(numBits)
			assert.Equal(t, shadow[idx], bm.LoadBit(idx), "LoadBit mismatch at iter %d", i)
		case 2:
			hint := r.Intn(numBits)
			idx := bm.FindFirstZero(hint)
			assert.Equal(t, expectedFirstZero(shadow, hint), idx, "FindFirstZero mismatch at iter %d", i)
			if idx != -1 {
				bm.SetBit(idx, true)
				shadow[idx] = true
			}
		case 3:
			start := r.Intn(numBits)
			for j := 0; j < r.Intn(20)+1 && start+j < numBits; j++ {
				val := r.Intn(2) == 0
				bm.SetBit(start+j, val)
				shadow[start+j] = val
			}
		}
	}
	verifyBitmap(t, bm, shadow)
}

func TestBitmapSimpleSetLoad(t *testing.T) {
	numBits := 100
	bm := NewBitmap(numBits)
	shadow := make([]bool, numBits)

	verifyBitmap(t, bm, shadow)
	for _, idx := range []int{0, 1, 63, 64, 99} {
		assert.Equal(t, shadow[idx], bm.SetBit(idx, true), "Unexpected previous value at %d", idx)
		shadow[idx] = true
	}
	verifyBitmap(t, bm, shadow)

	for _, idx := range []int{0, 2, 63, 60, 98} {
		assert.Equal(t, shadow[idx], bm.SetBit(idx, false), "Unexpected previous value at %d", idx)
		shadow[idx] = false
	}
	verifyBitmap(t, bm, shadow)
}

func TestBitmapSimpleFindFirstZero(t *testing.T) {
	numBits := 100
	bm := NewBitmap(numBits)

	checkFindFirstZero(t, bm, 0, 0)
	checkFindFirstZero(t, bm, 42, 42)

	for i := 0; i < 64; i++ {
		bm.SetBit(i, true)
	}
	checkFindFirstZero(t, bm, 0, 64)
	checkFindFirstZero(t, bm, 31, 64)

	for i := 64; i < numBits; i++ {
		bm.SetBit(i, true)
	}
	checkFindFirstZero(t, bm, 64, -1)
	checkFindFirstZero(t, bm, 0, -1)
	checkFindFirstZero(t, bm, numBits, -1)

	bm.SetBit(50, false)
	checkFindFirstZero(t, bm, 99, 50)
	bm.SetBit(98, false)
	checkFindFirstZero(t, bm, 63, 98)
}

func TestBitmapSmallFullWord(t *testing.T) {
	// Padding bits past numBits must never be handed out.
	bm := NewBitmap(3)
	for i := 0; i < 3; i++ {
		bm.SetBit(i, true)
	}
	checkFindFirstZero(t, bm, 0, -1)
	checkFindFirstZero(t, bm, 2, -1)

	empty := NewBitmap(0)
	checkFindFirstZero(t, empty, 0, -1)
}

func TestBitmapRandomizedSmall(t *testing.T) {
	runRandomizedTest(t, 43, 65830)
}

func TestBitmapRandomizedLarge(t *testing.T) {
	runRandomizedTest(t, 500, 65831)
}
