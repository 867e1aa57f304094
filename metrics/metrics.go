package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "joinhash"

	LblHashType = "hash_type"
	LblKind     = "kind"
)

var (
	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_hits_total",
		Help:      "Number of join hash table requests served from the cache.",
	})
	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_misses_total",
		Help:      "Number of join hash table requests that had to build.",
	})
	CacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_evictions_total",
		Help:      "Number of join hash tables evicted from a bounded cache.",
	})
	CacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cache_entries",
		Help:      "Number of join hash tables currently cached.",
	})
	Builds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "builds_total",
		Help:      "Number of successful join hash table builds by layout.",
	}, []string{LblHashType})
	Fallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fallbacks_total",
		Help:      "Number of one-to-one builds restarted as one-to-many.",
	})
	BuildFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "build_failures_total",
		Help:      "Number of failed join hash table builds by error kind.",
	}, []string{LblKind})
	ReplicatedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "replicated_bytes_total",
		Help:      "Bytes copied from host hash tables to device replicas.",
	})
)

// Register registers all join hash table collectors. Registering twice with
// the same registerer is reported as an error.
func Register(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		CacheHits, CacheMisses, CacheEvictions, CacheEntries,
		Builds, Fallbacks, BuildFailures, ReplicatedBytes,
	} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}
