package execution

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"

	"github.com/dgryski/go-farm"
	"github.com/neko940709/mapd-core-stream/planner"
	"github.com/neko940709/mapd-core-stream/stats"
	"github.com/neko940709/mapd-core-stream/storage"
)

// KeyFingerprint identifies the hash table a join needs. Two joins with equal
// fingerprints can share one table, whatever plan node asked for it.
//
// ChunkKey is [table, column, fragment ids...] of the inner side, so tables
// built from different fragment subsets (one per device on a sharded table)
// never collide.
type KeyFingerprint struct {
	Range       stats.ExpressionRange
	Inner       planner.ColumnVar
	Outer       planner.ColumnVar
	NumElements int64
	ChunkKey    []int64
	Op          planner.ComparisonType
}

// NewKeyFingerprint builds the fingerprint of a build over the given inner
// fragments. The fragment list is copied into the chunk key.
func NewKeyFingerprint(rng stats.ExpressionRange, inner, outer planner.ColumnVar, frags []storage.FragmentInfo, op planner.ComparisonType) KeyFingerprint {
	chunkKey := make([]int64, 0, len(frags)+2)
	chunkKey = append(chunkKey, int64(inner.TableID), int64(inner.ColumnID))
	var numElements int64
	for _, f := range frags {
		chunkKey = append(chunkKey, int64(f.ID))
		numElements += int64(f.RowCount)
	}
	return KeyFingerprint{
		Range:       rng,
		Inner:       inner,
		Outer:       outer,
		NumElements: numElements,
		ChunkKey:    chunkKey,
		Op:          op,
	}
}

// Equal reports whether every field of the two fingerprints compares equal.
func (k KeyFingerprint) Equal(o KeyFingerprint) bool {
	return k.Range == o.Range &&
		k.Inner == o.Inner &&
		k.Outer == o.Outer &&
		k.NumElements == o.NumElements &&
		k.Op == o.Op &&
		slices.Equal(k.ChunkKey, o.ChunkKey)
}

// Hash returns a 64 bit hash consistent with Equal.
func (k KeyFingerprint) Hash() uint64 {
	return farm.Fingerprint64(k.encode())
}

func (k KeyFingerprint) encode() []byte {
	buf := make([]byte, 0, 128+8*len(k.ChunkKey))
	put := func(v uint64) {
		buf = binary.LittleEndian.AppendUint64(buf, v)
	}
	putCol := func(c planner.ColumnVar) {
		put(uint64(c.TableID))
		put(uint64(c.ColumnID))
		put(uint64(c.RteIdx))
		put(uint64(c.Type))
	}

	put(uint64(k.Range.Type))
	put(uint64(k.Range.IntMin))
	put(uint64(k.Range.IntMax))
	put(math.Float64bits(k.Range.FloatMin))
	put(math.Float64bits(k.Range.FloatMax))
	if k.Range.HasNulls {
		put(1)
	} else {
		put(0)
	}
	putCol(k.Inner)
	putCol(k.Outer)
	put(uint64(k.NumElements))
	put(uint64(k.Op))
	put(uint64(len(k.ChunkKey)))
	for _, c := range k.ChunkKey {
		put(uint64(c))
	}
	return buf
}

func (k KeyFingerprint) String() string {
	return fmt.Sprintf("{range: %s, inner: %s, outer: %s, rows: %d, chunks: %v, op: %s}",
		k.Range, &k.Inner, &k.Outer, k.NumElements, k.ChunkKey, k.Op)
}
