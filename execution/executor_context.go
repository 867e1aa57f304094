package execution

import (
	"github.com/neko940709/mapd-core-stream/catalog"
	"github.com/neko940709/mapd-core-stream/device"
	"github.com/neko940709/mapd-core-stream/logutil"
	"github.com/neko940709/mapd-core-stream/stats"
	"github.com/neko940709/mapd-core-stream/storage"
	"go.uber.org/zap"
)

// ExecutorContext holds all the state and resources required for query execution.
// It is passed to every Executor and to every join hash table build.
type ExecutorContext struct {
	Catalog      *catalog.Catalog
	Fragments    storage.FragmentManager
	Estimator    stats.Estimator
	Devices      device.Manager
	Cache        *HashTableCache
	Materializer *ColumnMaterializer
	Replicator   *DeviceReplicator
	Logger       *zap.Logger
}

// NewExecutorContext wires the per-engine collaborators. The cache and the
// materializer are shared by every query of the engine.
func NewExecutorContext(cat *catalog.Catalog, fragments storage.FragmentManager, estimator stats.Estimator, devices device.Manager,
	cache *HashTableCache, materializer *ColumnMaterializer, replicator *DeviceReplicator, logger *zap.Logger) *ExecutorContext {
	if logger == nil {
		logger = logutil.BgLogger()
	}
	return &ExecutorContext{
		Catalog:      cat,
		Fragments:    fragments,
		Estimator:    estimator,
		Devices:      devices,
		Cache:        cache,
		Materializer: materializer,
		Replicator:   replicator,
		Logger:       logger,
	}
}
