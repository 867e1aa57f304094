package execution

import (
	"testing"

	"github.com/neko940709/mapd-core-stream/catalog"
	"github.com/neko940709/mapd-core-stream/common"
	"github.com/neko940709/mapd-core-stream/device"
	"github.com/neko940709/mapd-core-stream/planner"
	"github.com/neko940709/mapd-core-stream/stats"
	"github.com/neko940709/mapd-core-stream/storage"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testEnv is an engine wired by hand: the root package imports execution.
type testEnv struct {
	provider *catalog.MemCatalogManager
	cat      *catalog.Catalog
	store    *storage.MemFragmentStore
	dicts    *storage.DictionaryRegistry
	devices  *device.HostManager
	ectx     *ExecutorContext
}

type envOptions struct {
	devices          int
	memoryPerDevice  int64
	cacheCapacity    int
	allowTranslation bool
	logger           *zap.Logger
}

func defaultEnvOptions() envOptions {
	return envOptions{devices: 2, memoryPerDevice: 1 << 20, allowTranslation: true}
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	provider := &catalog.MemCatalogManager{}
	cat, err := catalog.NewCatalog(provider)
	require.NoError(t, err)
	logger := opts.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	store := storage.NewMemFragmentStore()
	dicts := storage.NewDictionaryRegistry()
	devices := device.NewHostManager(opts.devices, opts.memoryPerDevice, logger)
	ectx := NewExecutorContext(cat, store, stats.NewChunkStatsEstimator(store), devices,
		NewHashTableCache(opts.cacheCapacity, logger),
		NewColumnMaterializer(store, dicts, cat, opts.allowTranslation, logger),
		NewDeviceReplicator(devices, 0, logger),
		logger)
	return &testEnv{provider: provider, cat: cat, store: store, dicts: dicts, devices: devices, ectx: ectx}
}

func (e *testEnv) addTable(t *testing.T, name string, cols []catalog.Column, opts catalog.TableOptions) *catalog.Table {
	tbl, err := e.cat.AddTable(name, cols, opts, e.provider)
	require.NoError(t, err)
	return tbl
}

// column returns a ColumnVar for tbl.name bound at range table index rte.
func column(t *testing.T, tbl *catalog.Table, name string, rte int) *planner.ColumnVar {
	c, err := tbl.ColumnByName(name)
	require.NoError(t, err)
	return planner.NewColumnVar(tbl.Oid, c.Oid, rte, c.Type)
}

// putFragments stores one unsharded fragment per slice, with ids 0, 1, ...
func (e *testEnv) putFragments(t *testing.T, col *planner.ColumnVar, frags ...[]int64) {
	for i, vals := range frags {
		require.NoError(t, e.store.PutIntFragment(col.TableID, col.ColumnID, col.Type, int32(i), storage.NoShard, vals))
	}
}

// putSharded splits vals by shard and stores one fragment per shard.
func (e *testEnv) putSharded(t *testing.T, col *planner.ColumnVar, shardCount int, vals []int64) {
	byShard := make([][]int64, shardCount)
	for _, v := range vals {
		s := ShardOf(v, int64(shardCount))
		byShard[s] = append(byShard[s], v)
	}
	for s, shardVals := range byShard {
		require.NoError(t, e.store.PutIntFragment(col.TableID, col.ColumnID, col.Type, int32(s), s, shardVals))
	}
}

// twoTables creates outer(k) at rte 0 and inner(k) at rte 1 with key type typ.
func (e *testEnv) twoTables(t *testing.T, typ common.Type) (outer, inner *planner.ColumnVar) {
	o := e.addTable(t, "outer_t", []catalog.Column{{Name: "k", Type: typ}}, catalog.TableOptions{})
	i := e.addTable(t, "inner_t", []catalog.Column{{Name: "k", Type: typ}}, catalog.TableOptions{})
	return column(t, o, "k", 0), column(t, i, "k", 1)
}
