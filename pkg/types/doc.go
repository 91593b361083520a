/*
Package types defines the core data structures used throughout Shoal.

This package contains the fundamental vocabulary of the storage node
daemon: map epochs, node and pool identities, placement-group identities,
node lifecycle states, advertised addresses, and the durable superblock.
Every other package builds on these types; this package imports nothing
from the rest of the tree.

# Core Types

Versioning:
  - Epoch: monotonically increasing cluster-map version (0 = none yet)
  - Release: daemon feature generation, with the cluster-wide minimum
    carried in the map

Identity:
  - NodeID: authority-assigned node slot (rendered "node.3")
  - PoolID: storage pool identifier
  - PGID: placement-group identity (pool, shard index, replica position)
  - ReplicaPos: erasure-coded chunk position, ReplicaNone for replicated
    pools

Lifecycle:
  - NodeState: initializing, preboot, booting, active, stopping, stopped

Networking:
  - Addr / AddrSet: advertised endpoints; the per-incarnation nonce makes
    a restarted process distinguishable from its predecessor even on the
    same host:port

Durability:
  - Superblock: the node's identity plus the epoch bookkeeping that is
    committed atomically with every stored map batch
  - FeatureSet: on-disk format features; unknown incompat features make a
    data directory unmountable

# Usage

	id := types.PGID{Pool: 1, Shard: 0xa, Replica: types.ReplicaNone}
	id.String()                   // "1.a"
	types.ParsePGID("1.ar2")      // erasure-coded identity, position 2

PGID strings are stable: they name collections on disk, so ParsePGID must
accept everything String produces.
*/
package types
