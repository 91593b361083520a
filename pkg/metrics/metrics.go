package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Node metrics
	NodeState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shoal_node_state",
			Help: "Node lifecycle state (1 for the current state, 0 otherwise)",
		},
		[]string{"state"},
	)

	CurrentEpoch = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shoal_map_current_epoch",
			Help: "Newest cluster-map epoch the node has made visible",
		},
	)

	NewestStoredEpoch = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shoal_map_newest_stored_epoch",
			Help: "Newest cluster-map epoch stored locally",
		},
	)

	OldestStoredEpoch = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shoal_map_oldest_stored_epoch",
			Help: "Oldest cluster-map epoch stored locally",
		},
	)

	// Map ingestion metrics
	MapsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shoal_maps_applied_total",
			Help: "Cluster maps made visible, by source kind (full or incremental)",
		},
		[]string{"kind"},
	)

	MapBatchesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shoal_map_batches_dropped_total",
			Help: "Map batches dropped before commit, by reason",
		},
		[]string{"reason"},
	)

	MapBatchCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shoal_map_batch_commit_seconds",
			Help:    "Time to durably commit one map batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Map cache metrics
	MapCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shoal_map_cache_hits_total",
			Help: "Map cache hits by tier (snapshot or bytes)",
		},
		[]string{"tier"},
	)

	MapCacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shoal_map_cache_misses_total",
			Help: "Map cache misses by tier (snapshot or bytes)",
		},
		[]string{"tier"},
	)

	// Map gate metrics
	GateWaiters = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shoal_map_gate_waiters",
			Help: "Operations currently blocked waiting for a map epoch",
		},
	)

	GateReleased = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shoal_map_gate_released_total",
			Help: "Waiters released by gate advancement",
		},
	)

	// Placement group metrics
	PGsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shoal_pgs_total",
			Help: "Resident placement groups by role",
		},
		[]string{"role"},
	)

	PGCreations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shoal_pg_creations_total",
			Help: "Placement-group creations by outcome",
		},
		[]string{"outcome"},
	)

	PGAdvances = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shoal_pg_advances_total",
			Help: "Per-PG epoch advances completed",
		},
	)

	// Storage metrics
	StoreCommits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shoal_store_commits_total",
			Help: "Storage transactions by outcome",
		},
		[]string{"outcome"},
	)

	StoreCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shoal_store_commit_seconds",
			Help:    "Storage transaction commit duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Authority traffic metrics
	AuthorityMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shoal_authority_messages_total",
			Help: "Messages sent to the map authority by kind",
		},
		[]string{"kind"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(NodeState)
	prometheus.MustRegister(CurrentEpoch)
	prometheus.MustRegister(NewestStoredEpoch)
	prometheus.MustRegister(OldestStoredEpoch)
	prometheus.MustRegister(MapsApplied)
	prometheus.MustRegister(MapBatchesDropped)
	prometheus.MustRegister(MapBatchCommitDuration)
	prometheus.MustRegister(MapCacheHits)
	prometheus.MustRegister(MapCacheMisses)
	prometheus.MustRegister(GateWaiters)
	prometheus.MustRegister(GateReleased)
	prometheus.MustRegister(PGsTotal)
	prometheus.MustRegister(PGCreations)
	prometheus.MustRegister(PGAdvances)
	prometheus.MustRegister(StoreCommits)
	prometheus.MustRegister(StoreCommitDuration)
	prometheus.MustRegister(AuthorityMessages)
}

// ObserveStoreCommit records one storage transaction.
func ObserveStoreCommit(d time.Duration, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	StoreCommits.WithLabelValues(outcome).Inc()
	StoreCommitDuration.Observe(d.Seconds())
}

// SetNodeState flips the state gauge so exactly one state reads 1.
func SetNodeState(state string) {
	for _, s := range []string{"initializing", "preboot", "booting", "active", "stopping", "stopped"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		NodeState.WithLabelValues(s).Set(v)
	}
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
