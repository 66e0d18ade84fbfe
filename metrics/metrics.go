// Package metrics exposes the prometheus collectors SubDAAP publishes for
// cache and synchronization activity. Grounded on catalog-api's use of
// prometheus/client_golang for service instrumentation.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// CacheHits counts File Cache Get calls served without a download.
	CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subdaap",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Number of cache lookups served from an already-cached entry.",
	}, []string{"cache"})

	// CacheMisses counts File Cache Get calls that triggered a download.
	CacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subdaap",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Number of cache lookups that triggered a download.",
	}, []string{"cache"})

	// CacheEvictions counts entries removed by Clean, whether by
	// expiration or LRU pressure.
	CacheEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subdaap",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Number of cache entries removed during maintenance.",
	}, []string{"cache"})

	// SyncDuration observes the wall-clock time of each synchronization
	// pass, labeled by connection name.
	SyncDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "subdaap",
		Subsystem: "sync",
		Name:      "duration_seconds",
		Help:      "Duration of a full synchronization pass.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"connection"})

	// SyncRowsChanged counts rows upserted or removed during a pass.
	SyncRowsChanged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subdaap",
		Subsystem: "sync",
		Name:      "rows_changed_total",
		Help:      "Number of catalog rows upserted or removed during a synchronization pass.",
	}, []string{"connection", "operation"})
)

// MustRegister registers every collector against reg.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(CacheHits, CacheMisses, CacheEvictions, SyncDuration, SyncRowsChanged)
}

// HookCache returns hit/miss/evict callbacks labeled with name, ready to
// pass to Cache.OnMetrics.
func HookCache(name string) (hit, miss, evict func()) {
	hit = func() { CacheHits.WithLabelValues(name).Inc() }
	miss = func() { CacheMisses.WithLabelValues(name).Inc() }
	evict = func() { CacheEvictions.WithLabelValues(name).Inc() }
	return hit, miss, evict
}
