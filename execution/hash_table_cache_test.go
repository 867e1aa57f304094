package execution

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/neko940709/mapd-core-stream/common"
	"github.com/neko940709/mapd-core-stream/metrics"
	"github.com/neko940709/mapd-core-stream/planner"
	"github.com/neko940709/mapd-core-stream/stats"
	"github.com/neko940709/mapd-core-stream/storage"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func testFingerprint(fragIDs ...int32) KeyFingerprint {
	frags := make([]storage.FragmentInfo, len(fragIDs))
	for i, id := range fragIDs {
		frags[i] = storage.FragmentInfo{ID: id, RowCount: 10}
	}
	inner := planner.ColumnVar{TableID: 2, ColumnID: 3, RteIdx: 1, Type: common.IntType}
	outer := planner.ColumnVar{TableID: 4, ColumnID: 5, RteIdx: 0, Type: common.IntType}
	return NewKeyFingerprint(stats.NewIntRange(0, 9, false), inner, outer, frags, planner.Equal)
}

func testTable(t *testing.T, values ...int64) *HashTable {
	out := BuildHashTable(BuildInput{Values: values, Layout: mustLayout(t, stats.NewIntRange(0, 9, false), false)}, OneToMany)
	require.Equal(t, BuildSucceeded, out.Status)
	return out.Table
}

func TestKeyFingerprintEquality(t *testing.T) {
	a, b := testFingerprint(0, 1), testFingerprint(0, 1)
	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Hash(), b.Hash())
	assert.Equal(t, []int64{2, 3, 0, 1}, a.ChunkKey)
	assert.Equal(t, int64(20), a.NumElements)

	c := testFingerprint(0, 2)
	assert.False(t, a.Equal(c))
	assert.NotEqual(t, a.Hash(), c.Hash())

	d := testFingerprint(0, 1)
	d.Op = planner.BitwiseEqual
	assert.False(t, a.Equal(d))

	e := testFingerprint(0, 1)
	e.Range.HasNulls = true
	assert.False(t, a.Equal(e))

	f := testFingerprint(0, 1)
	f.Outer.RteIdx = 2
	assert.False(t, a.Equal(f))

	assert.Contains(t, a.String(), "chunks: [2 3 0 1]")
}

func TestCacheInsertIfAbsent(t *testing.T) {
	cache := NewHashTableCache(0, nil)
	fp := testFingerprint(0)

	_, ok := cache.Lookup(fp)
	assert.False(t, ok)

	first := testTable(t, 1, 2)
	winner, inserted := cache.Insert(fp, first)
	assert.True(t, inserted)
	assert.Same(t, first, winner)
	assert.Equal(t, int32(2), first.RefCount(), "cache and caller")

	second := testTable(t, 1, 2)
	winner, inserted = cache.Insert(testFingerprint(0), second)
	assert.False(t, inserted)
	assert.Same(t, first, winner, "the earlier table wins")
	assert.Equal(t, int32(0), second.RefCount(), "the losing table is dropped")
	assert.Equal(t, 1, cache.Len())

	got, ok := cache.Lookup(fp)
	require.True(t, ok)
	assert.Same(t, first, got)
	assert.Equal(t, int32(4), first.RefCount())

	cache.Clear()
	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, int32(3), first.RefCount())
	assert.NotNil(t, first.Buffer(), "holders keep a cleared table alive")
}

func TestCacheConcurrentGetOrBuild(t *testing.T) {
	cache := NewHashTableCache(0, nil)
	const workers = 8
	var builds atomic.Int32
	results := make([]*HashTable, workers)

	var start, done sync.WaitGroup
	start.Add(1)
	for i := 0; i < workers; i++ {
		i := i
		done.Add(1)
		go func() {
			defer done.Done()
			start.Wait()
			tbl, _, err := cache.GetOrBuild(testFingerprint(0, 1), func() (*HashTable, error) {
				builds.Add(1)
				return testTable(t, 3, 4, 3), nil
			})
			assert.NoError(t, err)
			results[i] = tbl
		}()
	}
	start.Done()
	done.Wait()

	assert.Equal(t, 1, cache.Len())
	assert.GreaterOrEqual(t, builds.Load(), int32(1))
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
	assert.Equal(t, int32(workers+1), results[0].RefCount())
}

func TestCacheGetOrBuildError(t *testing.T) {
	cache := NewHashTableCache(0, nil)
	_, _, err := cache.GetOrBuild(testFingerprint(0), func() (*HashTable, error) {
		return nil, common.NewJoinError(common.FailedToFetchColumn, "boom")
	})
	require.Error(t, err)
	assert.Equal(t, 0, cache.Len(), "failed builds are never cached")
}

func TestCacheEvictsUnpinnedFirst(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	cache := NewHashTableCache(2, zap.New(core))
	evictions := testutil.ToFloat64(metrics.CacheEvictions)

	pinned, _ := cache.Insert(testFingerprint(0), testTable(t, 1))
	idle, _ := cache.Insert(testFingerprint(1), testTable(t, 2))
	idle.Release()

	incoming, inserted := cache.Insert(testFingerprint(2), testTable(t, 3))
	require.True(t, inserted)
	assert.Equal(t, 2, cache.Len())
	assert.Equal(t, evictions+1, testutil.ToFloat64(metrics.CacheEvictions))

	_, ok := cache.Lookup(testFingerprint(1))
	assert.False(t, ok, "the idle table is evicted")
	got, ok := cache.Lookup(testFingerprint(0))
	require.True(t, ok)
	assert.Same(t, pinned, got)
	got.Release()

	assert.Equal(t, 1, logs.FilterMessage("evicting join hash table").Len())
	pinned.Release()
	incoming.Release()
}

func TestCacheEvictsPinnedWhenNothingElse(t *testing.T) {
	cache := NewHashTableCache(1, nil)
	held, _ := cache.Insert(testFingerprint(0), testTable(t, 1))

	next, inserted := cache.Insert(testFingerprint(1), testTable(t, 2))
	require.True(t, inserted)
	assert.Equal(t, 1, cache.Len())
	assert.Equal(t, int32(1), held.RefCount(), "the query still holds the evicted table")
	assert.NotNil(t, held.Buffer())
	held.Release()
	next.Release()
}
