/*
Package metrics provides Prometheus metrics for monitoring Shoal.

All collectors are package-level and registered in init(), so importing the
package is enough to expose them. The admin HTTP endpoint serves them via
Handler() on /metrics.

# Metric Groups

Node:
  - shoal_node_state: one-hot lifecycle state gauge
  - shoal_map_current_epoch / shoal_map_newest_stored_epoch /
    shoal_map_oldest_stored_epoch

Map ingestion:
  - shoal_maps_applied_total{kind}: full vs incremental
  - shoal_map_batches_dropped_total{reason}: wrong cluster, stale, gap
  - shoal_map_batch_commit_seconds

Map cache and gate:
  - shoal_map_cache_hits_total{tier} / shoal_map_cache_misses_total{tier}
  - shoal_map_gate_waiters, shoal_map_gate_released_total

Placement groups:
  - shoal_pgs_total{role}
  - shoal_pg_creations_total{outcome}: created, dropped, failed
  - shoal_pg_advances_total

Storage:
  - shoal_store_commits_total{outcome}, shoal_store_commit_seconds

Authority:
  - shoal_authority_messages_total{kind}

# Health Checking

The package also tracks component health for the /healthz admin endpoint.
The node reports its storage engine, map ingestion, and state machine via
SetComponent; any unhealthy component turns the aggregate unhealthy.

# Usage

	timer := metrics.NewTimer()
	...
	timer.ObserveDuration(metrics.MapBatchCommitDuration)

	metrics.SetNodeState("active")
	metrics.MapsApplied.WithLabelValues("incremental").Inc()
*/
package metrics
