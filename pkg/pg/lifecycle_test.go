package pg

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoalstore/shoal/pkg/clustermap"
	"github.com/shoalstore/shoal/pkg/mapcache"
	"github.com/shoalstore/shoal/pkg/mapstore"
	"github.com/shoalstore/shoal/pkg/peering"
	"github.com/shoalstore/shoal/pkg/placement"
	"github.com/shoalstore/shoal/pkg/storage"
	"github.com/shoalstore/shoal/pkg/types"
)

// fakePeering records what the lifecycle feeds it.
type fakePeering struct {
	mu          sync.Mutex
	initSeed    *peering.Seed
	initHistory peering.History
	advanced    []types.Epoch
	restored    bool
	restoreErr  error
}

func (f *fakePeering) Init(t *storage.Transaction, h peering.History, s peering.Seed) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initHistory = h
	f.initSeed = &s
	return nil
}

func (f *fakePeering) AdvanceTo(t *storage.Transaction, m *clustermap.ClusterMap, s peering.Seed) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advanced = append(f.advanced, m.Epoch)
	return nil
}

func (f *fakePeering) Restore(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.restoreErr != nil {
		return f.restoreErr
	}
	f.restored = true
	return nil
}

func (f *fakePeering) OnPeerMessage(from types.NodeID, payload []byte) error { return nil }

func (f *fakePeering) Stats() peering.Stats { return peering.Stats{State: peering.StateActive} }

func (f *fakePeering) epochs() []types.Epoch {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Epoch, len(f.advanced))
	copy(out, f.advanced)
	return out
}

type fixture struct {
	t       *testing.T
	eng     storage.Engine
	meta    *mapstore.Store
	cache   *mapcache.Cache
	cluster uuid.UUID
	self    types.NodeID

	liveMap atomic.Pointer[clustermap.ClusterMap]

	// fakes, by identity, when useFakes is set; otherwise the real
	// state engine backs the groups.
	useFakes bool
	fakesMu  sync.Mutex
	fakes    map[types.PGID]*fakePeering

	lc *Lifecycle
}

func newPGFixture(t *testing.T, useFakes bool) *fixture {
	t.Helper()
	ctx := context.Background()

	eng := storage.NewBoltEngine(t.TempDir())
	require.NoError(t, eng.Bootstrap(ctx))
	t.Cleanup(func() { _ = eng.Unmount(ctx) })

	meta := mapstore.New(eng)
	txn := storage.NewTransaction()
	meta.CreateMetaCollection(txn)
	require.NoError(t, eng.Submit(ctx, txn))

	cache, err := mapcache.New(meta, 64, 64)
	require.NoError(t, err)

	f := &fixture{
		t:        t,
		eng:      eng,
		meta:     meta,
		cache:    cache,
		cluster:  uuid.New(),
		self:     1,
		useFakes: useFakes,
		fakes:    map[types.PGID]*fakePeering{},
	}
	f.liveMap.Store(clustermap.NewEmpty())

	factory := peering.Factory(peering.NewStateEngine)
	if useFakes {
		factory = func(pgid types.PGID, coll storage.CollectionID, eng storage.Engine) peering.Engine {
			f.fakesMu.Lock()
			defer f.fakesMu.Unlock()
			if fk, ok := f.fakes[pgid]; ok {
				return fk
			}
			fk := &fakePeering{}
			f.fakes[pgid] = fk
			return fk
		}
	}

	f.lc = NewLifecycle(LifecycleConfig{
		Self:    f.self,
		Engine:  eng,
		Maps:    cache,
		Meta:    meta,
		Live:    func() *clustermap.ClusterMap { return f.liveMap.Load() },
		Placer:  placement.NewHRW(),
		Peering: factory,
	})
	return f
}

func (f *fixture) fake(id types.PGID) *fakePeering {
	f.fakesMu.Lock()
	defer f.fakesMu.Unlock()
	return f.fakes[id]
}

// putMap stores a full snapshot for the epoch. The base map carries this
// node up with weight 1; mutate customizes pools, members and flags.
func (f *fixture) putMap(t *testing.T, e types.Epoch, mutate func(m *clustermap.ClusterMap)) *clustermap.ClusterMap {
	t.Helper()
	m := clustermap.NewEmpty()
	m.ClusterID = f.cluster
	m.Epoch = e
	m.Flags = clustermap.FlagSortedPlacement
	m.RequireRelease = types.MinSupportedRelease
	m.Members[f.self] = &clustermap.Member{Up: true, UpFrom: 1, Weight: 1}
	if mutate != nil {
		mutate(m)
	}

	b, err := clustermap.Encode(m)
	require.NoError(t, err)
	txn := storage.NewTransaction()
	f.meta.StoreMap(txn, e, b)
	require.NoError(t, f.eng.Submit(context.Background(), txn))
	f.cache.Insert(e, m)
	return m
}

func (f *fixture) setLive(m *clustermap.ClusterMap) {
	f.liveMap.Store(m)
}

func replicatedPool(id types.PoolID, flags clustermap.PoolFlag) *clustermap.Pool {
	return &clustermap.Pool{
		ID:      id,
		Name:    fmt.Sprintf("pool-%d", id),
		Type:    clustermap.PoolTypeReplicated,
		Size:    2,
		PGCount: 8,
		Flags:   flags,
	}
}

func erasurePool(id types.PoolID) *clustermap.Pool {
	return &clustermap.Pool{
		ID:      id,
		Name:    fmt.Sprintf("pool-%d", id),
		Type:    clustermap.PoolTypeErasure,
		Size:    3,
		PGCount: 8,
	}
}

func TestLifecycleCreatePersistsGroup(t *testing.T) {
	f := newPGFixture(t, false)
	ctx := context.Background()

	m2 := f.putMap(t, 2, func(m *clustermap.ClusterMap) {
		m.Pools[1] = replicatedPool(1, clustermap.PoolCreating)
	})
	f.setLive(m2)

	id := types.PGID{Pool: 1, Shard: 3, Replica: types.ReplicaNone}
	group, err := f.lc.Create(ctx, CreateRequest{ID: id, Epoch: 2, ByAuthority: true})
	require.NoError(t, err)
	require.NotNil(t, group)

	assert.Equal(t, id, group.ID())
	assert.Equal(t, types.Epoch(2), group.Epoch())
	assert.True(t, group.IsPrimary(), "sole up member must be primary")

	exists, err := f.eng.CollectionExists(ctx, group.Collection())
	require.NoError(t, err)
	assert.True(t, exists)

	meta, err := readMeta(ctx, f.eng, id, group.Collection())
	require.NoError(t, err)
	assert.Equal(t, types.Epoch(2), meta.Epoch)
	assert.Equal(t, types.Epoch(2), meta.History.Created)
}

func TestLifecycleCreateAdvancesToLive(t *testing.T) {
	f := newPGFixture(t, true)
	ctx := context.Background()

	for e := types.Epoch(1); e <= 5; e++ {
		m := f.putMap(t, e, func(m *clustermap.ClusterMap) {
			m.Pools[1] = replicatedPool(1, clustermap.PoolCreating)
		})
		f.setLive(m)
	}

	id := types.PGID{Pool: 1, Shard: 0, Replica: types.ReplicaNone}
	group, err := f.lc.Create(ctx, CreateRequest{ID: id, Epoch: 2, ByAuthority: true})
	require.NoError(t, err)
	require.NotNil(t, group)

	assert.Equal(t, types.Epoch(5), group.Epoch(), "fresh group must reach the live epoch")
	assert.Equal(t, []types.Epoch{3, 4, 5}, f.fake(id).epochs(), "every intermediate epoch observed")

	meta, err := readMeta(ctx, f.eng, id, group.Collection())
	require.NoError(t, err)
	assert.Equal(t, types.Epoch(5), meta.Epoch)
}

func TestLifecycleCreateByAuthorityDrops(t *testing.T) {
	f := newPGFixture(t, false)
	ctx := context.Background()

	// The start map still carries the pool in its creating phase.
	f.putMap(t, 2, func(m *clustermap.ClusterMap) {
		m.Pools[1] = replicatedPool(1, clustermap.PoolCreating)
	})

	tests := []struct {
		name string
		live func(m *clustermap.ClusterMap)
	}{
		{
			name: "pool deleted from live map",
			live: func(m *clustermap.ClusterMap) {},
		},
		{
			name: "pool finished creating",
			live: func(m *clustermap.ClusterMap) {
				m.Pools[1] = replicatedPool(1, 0)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			live := f.putMap(t, 9, tt.live)
			f.setLive(live)

			id := types.PGID{Pool: 1, Shard: 4, Replica: types.ReplicaNone}
			group, err := f.lc.Create(ctx, CreateRequest{ID: id, Epoch: 2, ByAuthority: true})
			require.NoError(t, err, "stale authority requests drop silently")
			assert.Nil(t, group)

			exists, err := f.eng.CollectionExists(ctx, storage.CollectionID(id.CollectionName()))
			require.NoError(t, err)
			assert.False(t, exists, "dropped creation must leave no trace")
		})
	}
}

func TestLifecycleCreateDeletedPoolUsesFinalInfo(t *testing.T) {
	f := newPGFixture(t, false)
	ctx := context.Background()

	// Pool 7 is gone by the start map, but its final record is preserved.
	m3 := f.putMap(t, 3, nil)
	f.setLive(m3)

	txn := storage.NewTransaction()
	require.NoError(t, f.meta.StoreFinalPoolInfo(txn, mapstore.FinalPoolInfo{
		Pool:      replicatedPool(7, 0),
		DeletedAt: 3,
	}))
	require.NoError(t, f.eng.Submit(ctx, txn))

	id := types.PGID{Pool: 7, Shard: 1, Replica: types.ReplicaNone}
	group, err := f.lc.Create(ctx, CreateRequest{ID: id, Epoch: 3})
	require.NoError(t, err)
	require.NotNil(t, group)

	// Placement cannot see a deleted pool: the group is resident but a
	// bystander.
	assert.Equal(t, placement.RoleNone, group.Role())
}

func TestLifecycleCreateUnknownPoolFails(t *testing.T) {
	f := newPGFixture(t, false)
	ctx := context.Background()

	m := f.putMap(t, 2, nil)
	f.setLive(m)

	id := types.PGID{Pool: 99, Shard: 0, Replica: types.ReplicaNone}
	_, err := f.lc.Create(ctx, CreateRequest{ID: id, Epoch: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no final record")
}

func TestLifecycleCreateErasureBindsPosition(t *testing.T) {
	f := newPGFixture(t, false)
	ctx := context.Background()

	m := f.putMap(t, 2, func(m *clustermap.ClusterMap) {
		m.Pools[5] = erasurePool(5)
	})
	f.setLive(m)

	// This node places at position 0 (sole member). An identity bound to
	// chunk 1 must refuse the role.
	bound := types.PGID{Pool: 5, Shard: 2, Replica: 1}
	group, err := f.lc.Create(ctx, CreateRequest{ID: bound, Epoch: 2})
	require.NoError(t, err)
	assert.Equal(t, placement.RoleNone, group.Role())

	matching := types.PGID{Pool: 5, Shard: 2, Replica: 0}
	group, err = f.lc.Create(ctx, CreateRequest{ID: matching, Epoch: 2})
	require.NoError(t, err)
	assert.Equal(t, 0, group.Role())
}

func TestLifecycleLoadAll(t *testing.T) {
	f := newPGFixture(t, false)
	ctx := context.Background()

	m2 := f.putMap(t, 2, func(m *clustermap.ClusterMap) {
		m.Pools[1] = replicatedPool(1, clustermap.PoolCreating)
	})
	f.setLive(m2)

	ids := []types.PGID{
		{Pool: 1, Shard: 0, Replica: types.ReplicaNone},
		{Pool: 1, Shard: 1, Replica: types.ReplicaNone},
	}
	for _, id := range ids {
		_, err := f.lc.Create(ctx, CreateRequest{ID: id, Epoch: 2, ByAuthority: true})
		require.NoError(t, err)
	}

	// Leftovers the loader must tolerate: a temp collection and a foreign
	// one.
	txn := storage.NewTransaction()
	txn.CreateCollection(storage.CollectionID(ids[0].TempCollectionName()))
	txn.CreateCollection("somebody-elses-data")
	require.NoError(t, f.eng.Submit(ctx, txn))

	groups, err := f.lc.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	byID := map[types.PGID]*PG{}
	for _, g := range groups {
		byID[g.ID()] = g
	}
	for _, id := range ids {
		g, ok := byID[id]
		require.True(t, ok, "group %s must be rebuilt", id)
		assert.Equal(t, types.Epoch(2), g.Epoch())
		assert.True(t, g.IsPrimary())
	}
}

func TestLifecycleLoadAllRestoresPeering(t *testing.T) {
	f := newPGFixture(t, true)
	ctx := context.Background()

	m2 := f.putMap(t, 2, func(m *clustermap.ClusterMap) {
		m.Pools[1] = replicatedPool(1, clustermap.PoolCreating)
	})
	f.setLive(m2)

	id := types.PGID{Pool: 1, Shard: 0, Replica: types.ReplicaNone}
	_, err := f.lc.Create(ctx, CreateRequest{ID: id, Epoch: 2, ByAuthority: true})
	require.NoError(t, err)

	_, err = f.lc.LoadAll(ctx)
	require.NoError(t, err)
	assert.True(t, f.fake(id).restored)
}

func TestLifecycleLoadAllFailsOnBrokenGroup(t *testing.T) {
	f := newPGFixture(t, false)
	ctx := context.Background()

	// A recognized collection without a metadata record is a broken group,
	// not an ignorable leftover.
	id := types.PGID{Pool: 4, Shard: 0, Replica: types.ReplicaNone}
	txn := storage.NewTransaction()
	txn.CreateCollection(storage.CollectionID(id.CollectionName()))
	require.NoError(t, f.eng.Submit(ctx, txn))

	_, err := f.lc.LoadAll(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
