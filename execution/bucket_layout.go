package execution

import (
	"fmt"
	"math"

	"github.com/neko940709/mapd-core-stream/common"
	"github.com/neko940709/mapd-core-stream/planner"
	"github.com/neko940709/mapd-core-stream/stats"
)

// BucketLayout maps join keys to buckets of one table buffer.
//
// Unsharded, key k lands in bucket k-Min. Sharded, a buffer holds the shards
// owned by one device as consecutive sub-buffers of EntriesPerShard buckets;
// k lands in sub-buffer shard(k)/DeviceCount at slot (k-Min)/ShardCount.
//
// With NullBucket set, NULL is translated to Max+1 and hashed like a key when
// unsharded. Sharded, NULL lives in the shard storage files it under,
// ShardOf(NullBigInt), in a slot reserved at the end of every sub-buffer.
type BucketLayout struct {
	Min, Max        int64
	EntryCount      int64
	EntriesPerShard int64
	ShardCount      int64
	DeviceCount     int64
	NullBucket      bool
}

// ComputeEntryCount sizes the table for a value range. shardCount is 0 for an
// unsharded join; deviceCount only matters when sharded.
func ComputeEntryCount(rng stats.ExpressionRange, bwEq bool, shardCount, deviceCount int) (BucketLayout, error) {
	if rng.Type != stats.IntegerRange {
		return BucketLayout{}, common.NewJoinError(common.UnsupportedJoinShape,
			"perfect hash join needs an integer range, got %s", rng)
	}
	if bwEq && rng.IntMax == math.MaxInt64 {
		return BucketLayout{}, common.NewJoinError(common.UnsupportedJoinShape,
			"Cannot translate null value for %s", planner.BitwiseEqual)
	}

	l := BucketLayout{Min: rng.IntMin, Max: rng.IntMax, NullBucket: bwEq && rng.HasNulls}
	var keys uint64
	if rng.IsEmpty() {
		l.Min, l.Max = 0, -1
	} else {
		span := uint64(rng.IntMax) - uint64(rng.IntMin)
		if span >= uint64(common.MaxHashEntries) {
			return BucketLayout{}, tooManyEntries(rng)
		}
		keys = span + 1
	}
	total := keys
	if l.NullBucket {
		total++
	}
	if total > uint64(common.MaxHashEntries) {
		return BucketLayout{}, tooManyEntries(rng)
	}

	if shardCount <= 1 {
		l.EntryCount = int64(total)
		return l, nil
	}
	common.Assert(deviceCount > 0, "sharded layout needs at least one device")
	l.ShardCount = int64(shardCount)
	l.DeviceCount = int64(deviceCount)
	l.EntriesPerShard = common.CeilDiv(int64(keys), l.ShardCount)
	if l.NullBucket {
		l.EntriesPerShard++
	}
	l.EntryCount = l.EntriesPerShard * common.CeilDiv(l.ShardCount, l.DeviceCount)
	if l.EntryCount > common.MaxHashEntries {
		return BucketLayout{}, tooManyEntries(rng)
	}
	return l, nil
}

func tooManyEntries(rng stats.ExpressionRange) error {
	return common.NewJoinError(common.TooManyHashEntries,
		"Hash tables with more than %d entries not supported yet (range %s)", common.MaxHashEntries, rng)
}

// IsSharded reports whether the buffer is split into shard sub-buffers.
func (l BucketLayout) IsSharded() bool {
	return l.ShardCount > 1
}

// Bucket returns the bucket of key, or false if key cannot match anything in
// the table (NULL without a null bucket, or outside the range).
func (l BucketLayout) Bucket(key int64) (int64, bool) {
	if key == common.NullBigInt {
		if !l.NullBucket {
			return -1, false
		}
		if l.IsSharded() {
			return l.subBuffer(l.nullShard()) + l.EntriesPerShard - 1, true
		}
		key = l.Max + 1
	} else if key < l.Min || key > l.Max {
		return -1, false
	}
	offset := key - l.Min
	if !l.IsSharded() {
		return offset, true
	}
	return l.subBuffer(ShardOf(key, l.ShardCount)) + offset/l.ShardCount, true
}

// subBuffer returns the first bucket of shard within its device's buffer.
func (l BucketLayout) subBuffer(shard int64) int64 {
	return (shard / l.DeviceCount) * l.EntriesPerShard
}

func (l BucketLayout) nullShard() int64 {
	return ShardOf(common.NullBigInt, l.ShardCount)
}

// OwnedBy reports whether key belongs to a shard placed on device.
// Unsharded layouts own every key.
func (l BucketLayout) OwnedBy(key int64, device common.DeviceID) bool {
	if !l.IsSharded() {
		return true
	}
	return ShardOf(key, l.ShardCount)%l.DeviceCount == int64(device)
}

// ShardOf returns the shard of key for a table with shardCount shards.
func ShardOf(key, shardCount int64) int64 {
	s := key % shardCount
	if s < 0 {
		s += shardCount
	}
	return s
}

func (l BucketLayout) String() string {
	if l.IsSharded() {
		return fmt.Sprintf("[%d, %d] entries=%d shards=%d x %d", l.Min, l.Max, l.EntryCount, l.ShardCount, l.EntriesPerShard)
	}
	return fmt.Sprintf("[%d, %d] entries=%d", l.Min, l.Max, l.EntryCount)
}
