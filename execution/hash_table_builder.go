package execution

import (
	"slices"

	"github.com/neko940709/mapd-core-stream/common"
)

// BuildInput is one materialized inner column and the layout to hash it into.
// Row indices in the table are positions in Values. On a sharded layout
// Values holds the shards of Device only.
type BuildInput struct {
	Values []int64
	Layout BucketLayout
	Device common.DeviceID
}

type BuildStatus int8

const (
	BuildSucceeded BuildStatus = iota
	// BuildFellBack means the keys are not unique and the OneToOne attempt
	// was abandoned. The caller retries with OneToMany.
	BuildFellBack
	BuildFailed
)

func (s BuildStatus) String() string {
	switch s {
	case BuildSucceeded:
		return "succeeded"
	case BuildFellBack:
		return "fell_back"
	case BuildFailed:
		return "failed"
	}
	return "unknown"
}

// BuildOutcome is the result of one build attempt. Table is set only on
// success and Err only on failure.
type BuildOutcome struct {
	Status BuildStatus
	Table  *HashTable
	Err    error
}

// Kind returns the error kind of a failed outcome.
func (o BuildOutcome) Kind() common.ErrorKind {
	if code, ok := common.CodeOf(o.Err); ok {
		return code.Kind()
	}
	return common.KindOther
}

func failed(err error) BuildOutcome {
	return BuildOutcome{Status: BuildFailed, Err: err}
}

// bucketSink consumes the bucket of every hashable row in row order.
// Returning false stops the scan.
type bucketSink func(bucket int64, row int32) bool

// BuildHashTable builds a host table under the given discipline. A OneToOne
// build that meets a duplicate key returns BuildFellBack and no table.
func BuildHashTable(in BuildInput, hashType HashType) BuildOutcome {
	if int64(len(in.Values)) > common.MaxHashEntries {
		return failed(common.NewJoinError(common.TooManyHashEntries,
			"Hash tables with more than %d rows not supported yet", common.MaxHashEntries))
	}
	switch hashType {
	case OneToOne:
		return buildOneToOne(in)
	case OneToMany:
		return buildOneToMany(in)
	}
	panic("unknown hash type")
}

// scan feeds sink with the buckets of in. Rows whose key has no bucket
// (NULL without a null bucket) are skipped. A key outside the layout's range
// fails the build: the range estimate no longer covers the data. So does a
// key whose shard is placed on another device.
func scan(in BuildInput, sink bucketSink) (complete bool, err error) {
	for i, v := range in.Values {
		bucket, ok := in.Layout.Bucket(v)
		if !ok {
			if v == common.NullBigInt {
				continue
			}
			return false, common.NewJoinError(common.UnsupportedJoinShape,
				"join key %d at row %d outside of range %s", v, i, in.Layout)
		}
		if !in.Layout.OwnedBy(v, in.Device) {
			return false, common.NewJoinError(common.UnsupportedJoinShape,
				"join key %d at row %d is not in a shard of %s", v, i, in.Device)
		}
		common.Assert(bucket >= 0 && bucket < in.Layout.EntryCount, "bucket %d out of %d", bucket, in.Layout.EntryCount)
		if !sink(bucket, int32(i)) {
			return false, nil
		}
	}
	return true, nil
}

func buildOneToOne(in BuildInput) BuildOutcome {
	buf := make([]int32, in.Layout.EntryCount)
	for i := range buf {
		buf[i] = common.InvalidSlot
	}
	complete, err := scan(in, func(bucket int64, row int32) bool {
		if buf[bucket] != common.InvalidSlot {
			return false
		}
		buf[bucket] = row
		return true
	})
	if err != nil {
		return failed(err)
	}
	if !complete {
		return BuildOutcome{Status: BuildFellBack}
	}
	return BuildOutcome{Status: BuildSucceeded, Table: newHashTable(OneToOne, in.Layout, buf)}
}

func buildOneToMany(in BuildInput) BuildOutcome {
	n := in.Layout.EntryCount
	buf := make([]int32, 2*n)
	offsets, counts := buf[:n], buf[n:2*n]

	if _, err := scan(in, func(bucket int64, _ int32) bool {
		counts[bucket]++
		return true
	}); err != nil {
		return failed(err)
	}

	var total int32
	for i := range counts {
		offsets[i] = total
		total += counts[i]
	}

	buf = slices.Grow(buf, int(total))[:2*n+int64(total)]
	payload := buf[2*n:]
	cursor := slices.Clone(buf[:n])
	if _, err := scan(in, func(bucket int64, row int32) bool {
		payload[cursor[bucket]] = row
		cursor[bucket]++
		return true
	}); err != nil {
		return failed(err)
	}
	return BuildOutcome{Status: BuildSucceeded, Table: newHashTable(OneToMany, in.Layout, buf)}
}
