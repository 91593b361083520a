package placement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoalstore/shoal/pkg/clustermap"
	"github.com/shoalstore/shoal/pkg/types"
)

func mapWithMembers(n int, poolSize int) *clustermap.ClusterMap {
	m := clustermap.NewEmpty()
	m.Epoch = 10
	for i := 0; i < n; i++ {
		m.Members[types.NodeID(i)] = &clustermap.Member{Up: true, Weight: 1.0}
	}
	m.Pools[1] = &clustermap.Pool{
		ID:      1,
		Name:    "objects",
		Type:    clustermap.PoolTypeReplicated,
		Size:    poolSize,
		PGCount: 8,
	}
	return m
}

func TestComputeIsDeterministic(t *testing.T) {
	m := mapWithMembers(6, 3)
	p := NewHRW()
	pgid := types.PGID{Pool: 1, Shard: 4, Replica: types.ReplicaNone}

	up1, acting1, role1, err := p.Compute(m, pgid, 2)
	require.NoError(t, err)
	up2, acting2, role2, err := p.Compute(m, pgid, 2)
	require.NoError(t, err)

	assert.Equal(t, up1, up2)
	assert.Equal(t, acting1, acting2)
	assert.Equal(t, role1, role2)
	assert.Len(t, up1, 3)
}

func TestComputeRole(t *testing.T) {
	m := mapWithMembers(5, 3)
	p := NewHRW()
	pgid := types.PGID{Pool: 1, Shard: 0, Replica: types.ReplicaNone}

	up, acting, _, err := p.Compute(m, pgid, types.NodeNone)
	require.NoError(t, err)
	require.Len(t, acting, 3)
	assert.Equal(t, up, acting)

	// Each acting member sees its own rank; everyone else sees RoleNone.
	for rank, id := range acting {
		_, _, role, err := p.Compute(m, pgid, id)
		require.NoError(t, err)
		assert.Equal(t, rank, role)
	}

	outsider := types.NodeID(97)
	_, _, role, err := p.Compute(m, pgid, outsider)
	require.NoError(t, err)
	assert.Equal(t, RoleNone, role)
}

func TestComputeSkipsDownAndWeightlessMembers(t *testing.T) {
	m := mapWithMembers(4, 4)
	m.Members[1].Up = false
	m.Members[2].Weight = 0
	p := NewHRW()
	pgid := types.PGID{Pool: 1, Shard: 2, Replica: types.ReplicaNone}

	up, _, _, err := p.Compute(m, pgid, 0)
	require.NoError(t, err)
	assert.NotContains(t, up, types.NodeID(1))
	assert.NotContains(t, up, types.NodeID(2))
	assert.Len(t, up, 2)
}

func TestComputeUnknownPool(t *testing.T) {
	m := mapWithMembers(3, 3)
	p := NewHRW()
	pgid := types.PGID{Pool: 42, Shard: 0, Replica: types.ReplicaNone}

	up, acting, role, err := p.Compute(m, pgid, 0)
	require.NoError(t, err)
	assert.Empty(t, up)
	assert.Empty(t, acting)
	assert.Equal(t, RoleNone, role)
}

func TestComputeSpreadsShards(t *testing.T) {
	m := mapWithMembers(8, 3)
	p := NewHRW()

	// Across many shards, more than one distinct primary must show up.
	primaries := map[types.NodeID]bool{}
	for shard := uint32(0); shard < 16; shard++ {
		up, _, _, err := p.Compute(m, types.PGID{Pool: 1, Shard: shard, Replica: types.ReplicaNone}, 0)
		require.NoError(t, err)
		require.NotEmpty(t, up)
		primaries[up[0]] = true
	}
	assert.Greater(t, len(primaries), 1)
}

func TestReplicaPositionsShareRanking(t *testing.T) {
	m := mapWithMembers(6, 4)
	m.Pools[2] = &clustermap.Pool{ID: 2, Name: "ec", Type: clustermap.PoolTypeErasure, Size: 4, PGCount: 4}
	p := NewHRW()

	up0, _, _, err := p.Compute(m, types.PGID{Pool: 2, Shard: 1, Replica: 0}, 0)
	require.NoError(t, err)
	up2, _, _, err := p.Compute(m, types.PGID{Pool: 2, Shard: 1, Replica: 2}, 0)
	require.NoError(t, err)
	assert.Equal(t, up0, up2)
}
