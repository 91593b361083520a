/*
Package mapstore persists the node's metadata records.

Three record families live in the reserved "meta" collection:

  - superblock: the node's identity and epoch bookkeeping
  - map/<epoch>: full cluster-map snapshots, one blob per stored epoch
  - pool/<id>: final pool info preserved when a pool is deleted

Writes are queued into caller-owned storage transactions. The map batch
path relies on this: superblock and map blobs for a whole batch land in
one commit, so a crash can never leave the superblock pointing at epochs
that were not stored.

Map keys use fixed-width hex epochs, so a prefix listing of "map/" walks
the stored range in epoch order.
*/
package mapstore
