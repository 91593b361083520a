/*
Package storage adapts the local storage engine for the node daemon.

The daemon persists three kinds of state: the node superblock, the stored
range of cluster maps, and per-placement-group metadata. All of it lives in
named collections (independent keyspaces) inside one engine, and every
multi-record update goes through an atomic transaction, so the superblock
can never describe map blobs that were not committed with it.

This package deliberately exposes a narrow surface. Object data reads and
writes (the I/O data path) are not part of it; neither are the engine's
internal layout decisions. Callers see collections, records, transactions
and a few small named values.

# Core Components

Engine interface:
  - Bootstrap / Mount / Unmount: data directory lifecycle
  - ListCollections / CollectionExists: enumeration at startup
  - Get / List: point and prefix reads (values copied out)
  - Submit: atomic application of one Transaction
  - ReadMeta / WriteMeta: format-time identity markers

Transaction:
  - Ordered queue of Put / Delete / CreateCollection / RemoveCollection
  - Applied in order inside one commit; all-or-nothing
  - Built by callers (map store, PG lifecycle) and submitted once

BoltEngine:
  - BoltDB-backed implementation, one store.db per data directory
  - Collections are top-level buckets; "__"-prefixed buckets are reserved
  - Values returned by reads are copied out of the bolt transaction

# Usage

	eng := storage.NewBoltEngine(dataDir)
	if err := eng.Mount(ctx); err != nil { ... }

	t := storage.NewTransaction()
	t.CreateCollection("pg_1.a")
	t.Put("pg_1.a", "pgmeta", data)
	if err := eng.Submit(ctx, t); err != nil { ... }

# Error Handling

Sentinels: ErrNotFound, ErrNotMounted, ErrNotFormatted,
ErrAlreadyFormatted, ErrNoCollection, ErrCollectionExists. All wrapped
errors carry the collection and key context.
*/
package storage
