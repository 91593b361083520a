package pg

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoalstore/shoal/pkg/clustermap"
	"github.com/shoalstore/shoal/pkg/peering"
	"github.com/shoalstore/shoal/pkg/placement"
	"github.com/shoalstore/shoal/pkg/types"
)

func createTestGroup(t *testing.T, f *fixture, id types.PGID, epoch types.Epoch) *PG {
	t.Helper()
	m := f.putMap(t, epoch, func(m *clustermap.ClusterMap) {
		m.Pools[id.Pool] = replicatedPool(id.Pool, clustermap.PoolCreating)
	})
	f.setLive(m)
	group, err := f.lc.Create(context.Background(), CreateRequest{ID: id, Epoch: epoch, ByAuthority: true})
	require.NoError(t, err)
	require.NotNil(t, group)
	return group
}

func TestAdvanceWalksEveryEpoch(t *testing.T) {
	f := newPGFixture(t, true)
	ctx := context.Background()

	id := types.PGID{Pool: 1, Shard: 2, Replica: types.ReplicaNone}
	group := createTestGroup(t, f, id, 2)

	for e := types.Epoch(3); e <= 5; e++ {
		f.putMap(t, e, func(m *clustermap.ClusterMap) {
			m.Pools[1] = replicatedPool(1, 0)
		})
	}

	require.NoError(t, group.AdvanceTo(ctx, f.cache, 5))

	assert.Equal(t, types.Epoch(5), group.Epoch())
	assert.Equal(t, []types.Epoch{3, 4, 5}, f.fake(id).epochs(),
		"no intermediate epoch may be skipped")

	meta, err := readMeta(ctx, f.eng, id, group.Collection())
	require.NoError(t, err)
	assert.Equal(t, types.Epoch(5), meta.Epoch, "advance must be durable")
}

func TestAdvanceStaleTargetIsNoop(t *testing.T) {
	f := newPGFixture(t, true)
	ctx := context.Background()

	id := types.PGID{Pool: 1, Shard: 0, Replica: types.ReplicaNone}
	group := createTestGroup(t, f, id, 3)

	require.NoError(t, group.AdvanceTo(ctx, f.cache, 3))
	require.NoError(t, group.AdvanceTo(ctx, f.cache, 1))

	assert.Equal(t, types.Epoch(3), group.Epoch())
	assert.Empty(t, f.fake(id).epochs())
}

func TestAdvanceRecomputesRole(t *testing.T) {
	f := newPGFixture(t, true)
	ctx := context.Background()

	id := types.PGID{Pool: 1, Shard: 1, Replica: types.ReplicaNone}
	group := createTestGroup(t, f, id, 2)
	require.Equal(t, 0, group.Role())

	// e3 takes this node down; e4 brings it back.
	f.putMap(t, 3, func(m *clustermap.ClusterMap) {
		m.Pools[1] = replicatedPool(1, 0)
		m.Members[f.self].Up = false
	})
	f.putMap(t, 4, func(m *clustermap.ClusterMap) {
		m.Pools[1] = replicatedPool(1, 0)
	})

	require.NoError(t, group.AdvanceTo(ctx, f.cache, 3))
	assert.Equal(t, placement.RoleNone, group.Role())
	up, acting := group.UpActing()
	assert.Empty(t, up)
	assert.Empty(t, acting)

	require.NoError(t, group.AdvanceTo(ctx, f.cache, 4))
	assert.Equal(t, 0, group.Role())
	assert.True(t, group.IsPrimary())
}

func TestAdvanceConcurrentCallsSerialize(t *testing.T) {
	f := newPGFixture(t, true)
	ctx := context.Background()

	id := types.PGID{Pool: 1, Shard: 3, Replica: types.ReplicaNone}
	group := createTestGroup(t, f, id, 2)

	for e := types.Epoch(3); e <= 8; e++ {
		f.putMap(t, e, func(m *clustermap.ClusterMap) {
			m.Pools[1] = replicatedPool(1, 0)
		})
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, group.AdvanceTo(ctx, f.cache, 8))
		}()
	}
	wg.Wait()

	assert.Equal(t, types.Epoch(8), group.Epoch())
	assert.Equal(t, []types.Epoch{3, 4, 5, 6, 7, 8}, f.fake(id).epochs(),
		"concurrent advances must not replay or skip epochs")
}

func TestAdvanceSurvivesPoolDeletion(t *testing.T) {
	f := newPGFixture(t, true)
	ctx := context.Background()

	id := types.PGID{Pool: 1, Shard: 0, Replica: types.ReplicaNone}
	group := createTestGroup(t, f, id, 2)

	// The pool disappears at e3. The group keeps advancing as a
	// bystander on its last known definition.
	f.putMap(t, 3, nil)
	require.NoError(t, group.AdvanceTo(ctx, f.cache, 3))

	assert.Equal(t, types.Epoch(3), group.Epoch())
	assert.Equal(t, placement.RoleNone, group.Role())
}

func TestAdvanceThenReload(t *testing.T) {
	f := newPGFixture(t, false)
	ctx := context.Background()

	id := types.PGID{Pool: 1, Shard: 5, Replica: types.ReplicaNone}
	group := createTestGroup(t, f, id, 2)

	f.putMap(t, 3, func(m *clustermap.ClusterMap) {
		m.Pools[1] = replicatedPool(1, 0)
	})
	require.NoError(t, group.AdvanceTo(ctx, f.cache, 3))

	groups, err := f.lc.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	reloaded := groups[0]

	assert.Equal(t, types.Epoch(3), reloaded.Epoch(),
		"metadata and peering state must reload from the advanced epoch")
	assert.Equal(t, 0, reloaded.Role())

	stats := reloaded.Stats()
	assert.Equal(t, id, stats.ID)
	assert.Equal(t, "pool-1", stats.Pool)
	assert.NotEmpty(t, stats.Peering.State)
}

func TestStatsSnapshot(t *testing.T) {
	f := newPGFixture(t, false)

	id := types.PGID{Pool: 1, Shard: 7, Replica: types.ReplicaNone}
	group := createTestGroup(t, f, id, 2)

	stats := group.Stats()
	assert.Equal(t, id, stats.ID)
	assert.Equal(t, types.Epoch(2), stats.Epoch)
	assert.Equal(t, 0, stats.Role)
	assert.Equal(t, []types.NodeID{1}, stats.Up)
	assert.Equal(t, []types.NodeID{1}, stats.Acting)
	assert.Equal(t, peering.StatePeering, stats.Peering.State)
}
