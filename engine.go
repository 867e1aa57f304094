package mapd

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/neko940709/mapd-core-stream/catalog"
	"github.com/neko940709/mapd-core-stream/config"
	"github.com/neko940709/mapd-core-stream/device"
	"github.com/neko940709/mapd-core-stream/execution"
	"github.com/neko940709/mapd-core-stream/logutil"
	"github.com/neko940709/mapd-core-stream/metrics"
	"github.com/neko940709/mapd-core-stream/stats"
	"github.com/neko940709/mapd-core-stream/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Engine is the top-level container for the join engine. The hash table
// cache and the linearized column cache live as long as the engine and are
// cleared by Shutdown.
type Engine struct {
	Config       config.Config
	Logger       *zap.Logger
	Catalog      *catalog.Catalog
	Fragments    *storage.MemFragmentStore
	Dictionaries *storage.DictionaryRegistry
	Estimator    *stats.ChunkStatsEstimator
	Devices      *device.HostManager
	Cache        *execution.HashTableCache
	Materializer *execution.ColumnMaterializer
	Replicator   *execution.DeviceReplicator
}

// Options carries what the configuration file does not.
type Options struct {
	// CatalogDir persists the catalog as JSON in this directory. Empty keeps
	// the catalog in memory.
	CatalogDir string
	// Registerer receives the engine metrics. Nil skips registration.
	Registerer prometheus.Registerer
	// Logger overrides the logger built from cfg.Log.
	Logger *zap.Logger
}

func NewEngine(cfg config.Config, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		var err error
		if logger, err = logutil.NewLogger(cfg.Log); err != nil {
			return nil, errors.Wrap(err, "failed to build logger")
		}
	}
	logutil.SetBgLogger(logger)

	if opts.Registerer != nil {
		if err := metrics.Register(opts.Registerer); err != nil {
			return nil, errors.Wrap(err, "failed to register metrics")
		}
	}

	var provider catalog.PersistenceProvider = &catalog.MemCatalogManager{}
	if opts.CatalogDir != "" {
		if err := os.MkdirAll(opts.CatalogDir, 0755); err != nil {
			return nil, err
		}
		provider = catalog.NewDiskCatalogManager(opts.CatalogDir)
	}
	cat, err := catalog.NewCatalog(provider)
	if err != nil {
		return nil, err
	}

	fragments := storage.NewMemFragmentStore()
	dictionaries := storage.NewDictionaryRegistry()
	devices := device.NewHostManager(cfg.Device.Count, cfg.Device.MemoryPerDevice, logger.Named("device"))
	execLogger := logger.Named("join")

	logger.Info("join engine started",
		zap.Int("devices", cfg.Device.Count),
		zap.Int64("memory_per_device", cfg.Device.MemoryPerDevice),
		zap.Int("cache_capacity", cfg.Cache.Capacity))

	return &Engine{
		Config:       cfg,
		Logger:       logger,
		Catalog:      cat,
		Fragments:    fragments,
		Dictionaries: dictionaries,
		Estimator:    stats.NewChunkStatsEstimator(fragments),
		Devices:      devices,
		Cache:        execution.NewHashTableCache(cfg.Cache.Capacity, execLogger),
		Materializer: execution.NewColumnMaterializer(fragments, dictionaries, cat, cfg.Join.AllowDictionaryTranslation, execLogger),
		Replicator:   execution.NewDeviceReplicator(devices, cfg.Join.ReplicationParallelism, execLogger),
	}, nil
}

// ExecutorContext returns the context queries of this engine execute in.
func (e *Engine) ExecutorContext() *execution.ExecutorContext {
	return execution.NewExecutorContext(e.Catalog, e.Fragments, e.Estimator, e.Devices,
		e.Cache, e.Materializer, e.Replicator, e.Logger.Named("join"))
}

// Shutdown clears the engine caches. Joins still holding tables keep them
// until they are released.
func (e *Engine) Shutdown() {
	cached := e.Cache.Len()
	e.Cache.Clear()
	e.Materializer.Clear()
	e.Logger.Info("join engine stopped", zap.Int("cached_tables", cached))
	_ = e.Logger.Sync()
}
