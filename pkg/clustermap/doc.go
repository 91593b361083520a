/*
Package clustermap models the epoch-versioned cluster map.

The cluster map is the authority-published description of the cluster at
one epoch: which nodes exist and are up, at which addresses, which pools
exist with what redundancy, and the cluster-wide flags. Nodes never edit
maps; they receive them (full or as incrementals) and replay them in
strict epoch order.

# Core Types

  - ClusterMap: one immutable epoch of cluster state
  - Member: a node's entry (up/down, addresses, destroyed marker)
  - Pool: a storage pool (type, size, shard count, creating flag)
  - Incremental: the delta from epoch e-1 to e
  - Flag / PoolFlag: cluster-wide and per-pool toggles

# Immutability

Snapshots handed out by the map cache are shared across goroutines.
They are read-only by convention: every mutation path goes through
Clone() first. Apply() enforces the epoch chain (the incremental for
epoch e only applies to a map at epoch e-1) and is documented to operate
on private clones only.

The replay invariant the rest of the daemon depends on: for any epoch e,

	Decode(fullSnapshot(e)) == Clone(Decode(fullSnapshot(e-1))).Apply(incremental(e))

Persisted map records are always full re-encoded snapshots. Incrementals
exist on the wire and in memory, never on disk.

# Usage

	m := clustermap.NewEmpty()          // epoch-0 bootstrap map
	next := m.Clone()
	if err := next.Apply(inc); err != nil { ... }
	b, _ := clustermap.Encode(next)     // persisted form
*/
package clustermap
