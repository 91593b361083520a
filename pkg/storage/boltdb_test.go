package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *BoltEngine {
	t.Helper()
	eng := NewBoltEngine(t.TempDir())
	require.NoError(t, eng.Bootstrap(context.Background()))
	t.Cleanup(func() {
		_ = eng.Unmount(context.Background())
	})
	return eng
}

func TestBootstrapAndMountLifecycle(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	eng := NewBoltEngine(dir)

	// Mounting before formatting must fail.
	err := eng.Mount(ctx)
	assert.ErrorIs(t, err, ErrNotFormatted)

	require.NoError(t, eng.Bootstrap(ctx))
	require.NoError(t, eng.Unmount(ctx))

	// Bootstrapping twice must fail.
	err = eng.Bootstrap(ctx)
	assert.ErrorIs(t, err, ErrAlreadyFormatted)

	// A fresh engine on the same directory mounts cleanly.
	eng2 := NewBoltEngine(dir)
	require.NoError(t, eng2.Mount(ctx))
	require.NoError(t, eng2.Unmount(ctx))

	// Operations after unmount report ErrNotMounted.
	_, err = eng2.Get(ctx, "meta", "superblock")
	assert.ErrorIs(t, err, ErrNotMounted)
}

func TestCollectionsAndRecords(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	txn := NewTransaction()
	txn.CreateCollection("meta")
	txn.CreateCollection("pg_1.0")
	txn.Put("meta", "superblock", []byte(`{"node_id":3}`))
	txn.Put("pg_1.0", "pgmeta", []byte(`{"epoch":5}`))
	require.NoError(t, eng.Submit(ctx, txn))

	cols, err := eng.ListCollections(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []CollectionID{"meta", "pg_1.0"}, cols)

	ok, err := eng.CollectionExists(ctx, "pg_1.0")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = eng.CollectionExists(ctx, "pg_9.9")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := eng.Get(ctx, "meta", "superblock")
	require.NoError(t, err)
	assert.JSONEq(t, `{"node_id":3}`, string(got))

	_, err = eng.Get(ctx, "meta", "absent")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = eng.Get(ctx, "nope", "key")
	assert.ErrorIs(t, err, ErrNoCollection)
}

func TestSubmitIsAtomic(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	setup := NewTransaction()
	setup.CreateCollection("meta")
	require.NoError(t, eng.Submit(ctx, setup))

	// The second op targets a missing collection, so the first must not
	// land either.
	txn := NewTransaction()
	txn.Put("meta", "a", []byte("1"))
	txn.Put("missing", "b", []byte("2"))
	err := eng.Submit(ctx, txn)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoCollection)

	_, err = eng.Get(ctx, "meta", "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateCollectionInSameTransactionAsPut(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	txn := NewTransaction()
	txn.CreateCollection("pg_2.1")
	txn.Put("pg_2.1", "pgmeta", []byte("x"))
	require.NoError(t, eng.Submit(ctx, txn))

	got, err := eng.Get(ctx, "pg_2.1", "pgmeta")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)
}

func TestCreateExistingCollectionFails(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	txn := NewTransaction()
	txn.CreateCollection("meta")
	require.NoError(t, eng.Submit(ctx, txn))

	dup := NewTransaction()
	dup.CreateCollection("meta")
	err := eng.Submit(ctx, dup)
	assert.ErrorIs(t, err, ErrCollectionExists)
}

func TestRemoveCollection(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	txn := NewTransaction()
	txn.CreateCollection("pgtemp_1.0")
	txn.Put("pgtemp_1.0", "k", []byte("v"))
	require.NoError(t, eng.Submit(ctx, txn))

	rm := NewTransaction()
	rm.RemoveCollection("pgtemp_1.0")
	require.NoError(t, eng.Submit(ctx, rm))

	ok, err := eng.CollectionExists(ctx, "pgtemp_1.0")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListWithPrefix(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	txn := NewTransaction()
	txn.CreateCollection("meta")
	txn.Put("meta", "map/000001", []byte("a"))
	txn.Put("meta", "map/000002", []byte("b"))
	txn.Put("meta", "pool/7", []byte("c"))
	require.NoError(t, eng.Submit(ctx, txn))

	recs, err := eng.List(ctx, "meta", "map/")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "map/000001", recs[0].Key)
	assert.Equal(t, "map/000002", recs[1].Key)

	all, err := eng.List(ctx, "meta", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestEngineMeta(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	require.NoError(t, eng.WriteMeta(ctx, "cluster_id", "abc"))

	got, err := eng.ReadMeta(ctx, "cluster_id")
	require.NoError(t, err)
	assert.Equal(t, "abc", got)

	_, err = eng.ReadMeta(ctx, "absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEmptyTransactionIsNoop(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	txn := NewTransaction()
	assert.True(t, txn.Empty())
	assert.Zero(t, txn.Len())
	assert.NoError(t, eng.Submit(ctx, txn))
}
