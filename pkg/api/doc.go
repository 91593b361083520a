/*
Package api is the node's admin HTTP endpoint.

It serves five routes: /healthz (liveness), /readyz (readiness, 200 only
while the node is active), /status (the node's status snapshot as JSON),
/pgs (per-placement-group stats), and /metrics (Prometheus).

The endpoint is for operators and the CLI. It reads snapshots the node
maintains for it and never blocks on map ingestion or placement-group
work. It binds to localhost by default and carries no authentication;
exposing it wider is a deployment decision, not a default.
*/
package api
