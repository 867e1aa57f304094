package storage

import (
	"math"

	"github.com/neko940709/mapd-core-stream/common"
)

// NoShard is the ShardID of fragments that belong to an unsharded table.
const NoShard = -1

// ChunkStats summarizes the values of one column chunk. Integer-domain columns
// fill IntMin/IntMax, float columns fill FloatMin/FloatMax. Nulls never
// contribute to the bounds.
type ChunkStats struct {
	IntMin, IntMax     int64
	FloatMin, FloatMax float64
	HasNulls           bool
	// Empty is set when the chunk has no non-null value, in which case the
	// bounds are meaningless.
	Empty bool
}

// FragmentInfo describes one horizontal fragment of a table as seen by a
// single column.
type FragmentInfo struct {
	ID       int32
	ShardID  int
	RowCount int
	Stats    ChunkStats
}

// Fragment is the column chunk backing a fragment. Integer-domain values are
// widened to int64 with common.NullBigInt marking NULL. Float chunks keep
// their values in Floats with NaN marking NULL.
type Fragment struct {
	FragmentInfo
	Type   common.Type
	Values []int64
	Floats []float64
}

func computeIntStats(values []int64) ChunkStats {
	stats := ChunkStats{Empty: true}
	for _, v := range values {
		if v == common.NullBigInt {
			stats.HasNulls = true
			continue
		}
		if stats.Empty {
			stats.IntMin, stats.IntMax = v, v
			stats.Empty = false
			continue
		}
		if v < stats.IntMin {
			stats.IntMin = v
		}
		if v > stats.IntMax {
			stats.IntMax = v
		}
	}
	return stats
}

// computeFloatStats treats NaN as NULL.
func computeFloatStats(values []float64) ChunkStats {
	stats := ChunkStats{Empty: true}
	for _, v := range values {
		if math.IsNaN(v) {
			stats.HasNulls = true
			continue
		}
		if stats.Empty {
			stats.FloatMin, stats.FloatMax = v, v
			stats.Empty = false
			continue
		}
		stats.FloatMin = math.Min(stats.FloatMin, v)
		stats.FloatMax = math.Max(stats.FloatMax, v)
	}
	return stats
}
