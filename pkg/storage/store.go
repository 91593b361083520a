package storage

import (
	"context"
	"errors"
)

// Sentinel errors surfaced by every Engine implementation.
var (
	ErrNotFound         = errors.New("record not found")
	ErrNotMounted       = errors.New("engine not mounted")
	ErrNotFormatted     = errors.New("data directory not formatted")
	ErrAlreadyFormatted = errors.New("data directory already formatted")
	ErrNoCollection     = errors.New("collection does not exist")
	ErrCollectionExists = errors.New("collection already exists")
)

// CollectionID names one collection (an independent keyspace) inside the
// engine. Placement groups, their temporary twins, and the node metadata
// collection each own one.
type CollectionID string

// Record is a key/value pair read out of a collection.
type Record struct {
	Key   string
	Value []byte
}

// Engine is the narrow view of the local storage engine this daemon needs:
// named collections of key/value records, atomic multi-op transactions, and
// a handful of small named values for format-time identity markers. The
// data path (object reads and writes) lives behind its own interfaces and
// is not part of this surface.
type Engine interface {
	// Bootstrap creates an empty store. Fails with ErrAlreadyFormatted if
	// one exists.
	Bootstrap(ctx context.Context) error
	// Mount opens an existing store. Fails with ErrNotFormatted if none
	// exists.
	Mount(ctx context.Context) error
	// Unmount flushes and closes the store. Safe to call when not mounted.
	Unmount(ctx context.Context) error

	// ListCollections enumerates all collections, in undefined order.
	ListCollections(ctx context.Context) ([]CollectionID, error)
	// CollectionExists reports whether the collection is present.
	CollectionExists(ctx context.Context, c CollectionID) (bool, error)

	// Get reads one record's value. ErrNotFound when the key is absent,
	// ErrNoCollection when the collection is.
	Get(ctx context.Context, c CollectionID, key string) ([]byte, error)
	// List reads all records of a collection whose keys carry the prefix,
	// sorted by key.
	List(ctx context.Context, c CollectionID, prefix string) ([]Record, error)

	// Submit applies all of a transaction's operations atomically. Either
	// every operation is durable or none is.
	Submit(ctx context.Context, t *Transaction) error

	// ReadMeta and WriteMeta access small named values kept outside any
	// collection (cluster id, node uuid, format markers).
	ReadMeta(ctx context.Context, key string) (string, error)
	WriteMeta(ctx context.Context, key, value string) error
}

type opKind int

const (
	opPut opKind = iota
	opDelete
	opCreateCollection
	opRemoveCollection
)

type op struct {
	kind  opKind
	coll  CollectionID
	key   string
	value []byte
}

// Transaction batches operations for one atomic Submit. Operations apply
// in the order they were queued, so a collection created earlier in the
// transaction can receive puts later in the same transaction.
type Transaction struct {
	ops []op
}

// NewTransaction returns an empty transaction.
func NewTransaction() *Transaction {
	return &Transaction{}
}

// Put queues a write of value under key in collection c.
func (t *Transaction) Put(c CollectionID, key string, value []byte) {
	t.ops = append(t.ops, op{kind: opPut, coll: c, key: key, value: value})
}

// Delete queues removal of key from collection c. Deleting an absent key
// is not an error.
func (t *Transaction) Delete(c CollectionID, key string) {
	t.ops = append(t.ops, op{kind: opDelete, coll: c, key: key})
}

// CreateCollection queues creation of an empty collection.
func (t *Transaction) CreateCollection(c CollectionID) {
	t.ops = append(t.ops, op{kind: opCreateCollection, coll: c})
}

// RemoveCollection queues removal of a collection and all its records.
func (t *Transaction) RemoveCollection(c CollectionID) {
	t.ops = append(t.ops, op{kind: opRemoveCollection, coll: c})
}

// Empty reports whether the transaction holds no operations.
func (t *Transaction) Empty() bool {
	return len(t.ops) == 0
}

// Len returns the number of queued operations.
func (t *Transaction) Len() int {
	return len(t.ops)
}
