package stats

import (
	"context"
	"fmt"
	"math"

	"github.com/neko940709/mapd-core-stream/common"
	"github.com/neko940709/mapd-core-stream/storage"
)

type RangeType int8

const (
	// InvalidRange means no bound could be computed.
	InvalidRange RangeType = iota
	IntegerRange
	FloatRange
)

func (t RangeType) String() string {
	switch t {
	case IntegerRange:
		return "integer"
	case FloatRange:
		return "float"
	}
	return "invalid"
}

// ExpressionRange bounds the values of a column. For IntegerRange the bounds
// are inclusive. A provably empty integer column has IntMax < IntMin.
type ExpressionRange struct {
	Type     RangeType
	IntMin   int64
	IntMax   int64
	FloatMin float64
	FloatMax float64
	HasNulls bool
}

func NewIntRange(min, max int64, hasNulls bool) ExpressionRange {
	return ExpressionRange{Type: IntegerRange, IntMin: min, IntMax: max, HasNulls: hasNulls}
}

// IsEmpty reports whether an integer range provably contains no value.
func (r ExpressionRange) IsEmpty() bool {
	return r.Type == IntegerRange && r.IntMax < r.IntMin
}

func (r ExpressionRange) String() string {
	switch r.Type {
	case IntegerRange:
		return fmt.Sprintf("[%d, %d] nulls=%t", r.IntMin, r.IntMax, r.HasNulls)
	case FloatRange:
		return fmt.Sprintf("[%g, %g] nulls=%t", r.FloatMin, r.FloatMax, r.HasNulls)
	}
	return "invalid"
}

// Estimator computes the value range of a column.
type Estimator interface {
	EstimateRange(ctx context.Context, table, column common.ObjectID, typ common.Type) (ExpressionRange, error)
}

// ChunkStatsEstimator folds the per-fragment chunk stats the storage layer
// keeps into one range. It reads metadata only.
type ChunkStatsEstimator struct {
	fragments storage.FragmentManager
}

func NewChunkStatsEstimator(fragments storage.FragmentManager) *ChunkStatsEstimator {
	return &ChunkStatsEstimator{fragments: fragments}
}

func (e *ChunkStatsEstimator) EstimateRange(ctx context.Context, table, column common.ObjectID, typ common.Type) (ExpressionRange, error) {
	frags, err := e.fragments.FetchFragmentList(ctx, table, column)
	if err != nil {
		return ExpressionRange{}, err
	}
	return FoldChunkStats(frags, typ), nil
}

// FoldChunkStats merges chunk stats of a fragment list into one range. An
// integer column without non-null values folds to the empty range [0, -1].
func FoldChunkStats(frags []storage.FragmentInfo, typ common.Type) ExpressionRange {
	switch {
	case typ.IsInteger():
		r := ExpressionRange{Type: IntegerRange, IntMin: math.MaxInt64, IntMax: math.MinInt64}
		found := false
		for _, f := range frags {
			r.HasNulls = r.HasNulls || f.Stats.HasNulls
			if f.Stats.Empty {
				continue
			}
			found = true
			r.IntMin = min(r.IntMin, f.Stats.IntMin)
			r.IntMax = max(r.IntMax, f.Stats.IntMax)
		}
		if !found {
			r.IntMin, r.IntMax = 0, -1
		}
		return r
	case typ == common.FloatType:
		r := ExpressionRange{Type: FloatRange, FloatMin: math.Inf(1), FloatMax: math.Inf(-1)}
		for _, f := range frags {
			r.HasNulls = r.HasNulls || f.Stats.HasNulls
			if f.Stats.Empty {
				continue
			}
			r.FloatMin = math.Min(r.FloatMin, f.Stats.FloatMin)
			r.FloatMax = math.Max(r.FloatMax, f.Stats.FloatMax)
		}
		return r
	}
	return ExpressionRange{Type: InvalidRange}
}
