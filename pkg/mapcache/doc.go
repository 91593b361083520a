/*
Package mapcache caches cluster-map snapshots and their encoded blobs.

Two tiers sit between readers and the map store:

	Get(e)        -> pinned epoch -> snapshot LRU -> LoadBytes(e) + decode
	LoadBytes(e)  -> bytes LRU -> mapstore.LoadMap(e)

Epoch 0 short-circuits to the empty bootstrap map and never touches
storage; a freshly formatted node runs on it until the authority delivers
a first real map.

Snapshots are immutable and shared. The node pins its currently visible
epoch (Pin) whenever it advances, so the one map every operation keys off
cannot be evicted under LRU pressure.

Writes go the other way: the ingestion path calls StoreBytes, which warms
the bytes tier and queues the blob on the caller's storage transaction.
The cache never commits; durability belongs to the map-batch transaction.

A stored epoch that fails to load or decode is a local inconsistency (the
superblock says the node has it). Callers treat that error as fatal.
*/
package mapcache
