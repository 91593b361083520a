// Package authority defines the node's view of the cluster-map authority:
// the Client handle it calls out through, the report messages it sends,
// and the MapBatch envelope the authority pushes back.
//
// The consensus machinery behind the authority is out of scope for this
// daemon. Production deployments back Client with a connection to the
// quorum; Standalone provides an in-process implementation for
// single-node deployments and tests that honors boot announcements by
// publishing a new epoch marking the sender up.
package authority
