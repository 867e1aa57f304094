package mapd

import (
	"context"
	"testing"

	"github.com/neko940709/mapd-core-stream/catalog"
	"github.com/neko940709/mapd-core-stream/common"
	"github.com/neko940709/mapd-core-stream/config"
	"github.com/neko940709/mapd-core-stream/device"
	"github.com/neko940709/mapd-core-stream/execution"
	"github.com/neko940709/mapd-core-stream/planner"
	"github.com/neko940709/mapd-core-stream/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Device.Count = 2
	cfg.Device.MemoryPerDevice = 1 << 20
	cfg.Cache.Capacity = 4
	return cfg
}

func TestEngineJoin(t *testing.T) {
	reg := prometheus.NewRegistry()
	dir := t.TempDir()
	engine, err := NewEngine(testConfig(), Options{CatalogDir: dir, Registerer: reg, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	lineitem, err := engine.Catalog.AddTable("lineitem", []catalog.Column{{Name: "orderkey", Type: common.BigIntType}},
		catalog.TableOptions{}, catalog.NewDiskCatalogManager(dir))
	require.NoError(t, err)
	orders, err := engine.Catalog.AddTable("orders", []catalog.Column{{Name: "orderkey", Type: common.BigIntType}},
		catalog.TableOptions{}, catalog.NewDiskCatalogManager(dir))
	require.NoError(t, err)

	outerCol, err := lineitem.ColumnByName("orderkey")
	require.NoError(t, err)
	innerCol, err := orders.ColumnByName("orderkey")
	require.NoError(t, err)
	outer := planner.NewColumnVar(lineitem.Oid, outerCol.Oid, 0, common.BigIntType)
	inner := planner.NewColumnVar(orders.Oid, innerCol.Oid, 1, common.BigIntType)

	require.NoError(t, engine.Fragments.PutIntFragment(orders.Oid, innerCol.Oid, common.BigIntType, 0, storage.NoShard, []int64{100, 101, 102}))
	require.NoError(t, engine.Fragments.PutIntFragment(orders.Oid, innerCol.Oid, common.BigIntType, 1, storage.NoShard, []int64{103, 104}))
	require.NoError(t, engine.Fragments.PutIntFragment(lineitem.Oid, outerCol.Oid, common.BigIntType, 0, storage.NoShard, []int64{104, 100, 100, 99}))

	plan := planner.NewHashJoinNode(planner.NewBinOper(outer, inner, planner.Equal), device.GPULevel, 2)
	ex := execution.NewHashJoinExecutor(plan)
	require.NoError(t, ex.Init(context.Background(), engine.ExecutorContext()))

	var matches [][2]int
	for ex.Next() {
		row := ex.Current()
		matches = append(matches, [2]int{row.OuterRow, int(row.InnerRow)})
	}
	require.NoError(t, ex.Error())
	require.NoError(t, ex.Close())
	assert.ElementsMatch(t, [][2]int{{0, 4}, {1, 0}, {2, 0}}, matches)
	assert.Equal(t, 0, engine.Devices.LiveAllocations())
	assert.Equal(t, 1, engine.Cache.Len())
	assert.Equal(t, 1, engine.Materializer.LinearizedCount())

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["joinhash_cache_misses_total"])

	// The catalog survives a restart.
	restarted, err := NewEngine(testConfig(), Options{CatalogDir: dir, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	_, err = restarted.Catalog.GetTableMetadata("orders")
	assert.NoError(t, err)
	restarted.Shutdown()

	engine.Shutdown()
	assert.Equal(t, 0, engine.Cache.Len())
	assert.Equal(t, 0, engine.Materializer.LinearizedCount())
}

func TestEngineRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Capacity = -1
	_, err := NewEngine(cfg, Options{})
	require.Error(t, err)
}
