package clustermap

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoalstore/shoal/pkg/types"
)

func testMember(up bool) *Member {
	return &Member{
		Up:     up,
		UpFrom: 3,
		Weight: 1.0,
		PublicAddrs: types.AddrSet{
			{Host: "10.0.0.1", Port: 6800, Nonce: 1},
		},
	}
}

func testPool(id types.PoolID, typ PoolType) *Pool {
	return &Pool{
		ID:      id,
		Name:    "pool-" + string(typ),
		Type:    typ,
		Size:    3,
		PGCount: 4,
	}
}

func TestNewEmpty(t *testing.T) {
	m := NewEmpty()
	assert.Equal(t, types.EpochNone, m.Epoch)
	assert.Empty(t, m.Members)
	assert.Empty(t, m.Pools)
	assert.False(t, m.Exists(1))
	assert.False(t, m.PoolExists(1))
}

func TestMemberQueries(t *testing.T) {
	m := NewEmpty()
	m.Epoch = 5
	m.Members[1] = testMember(true)
	m.Members[2] = testMember(false)
	m.Members[3] = &Member{Destroyed: true}

	assert.True(t, m.Exists(1))
	assert.True(t, m.IsUp(1))
	assert.False(t, m.IsUp(2))
	assert.False(t, m.Exists(9))
	assert.True(t, m.IsDestroyed(3))
	assert.False(t, m.IsDestroyed(1))
	assert.Equal(t, types.Epoch(3), m.UpFrom(1))
	assert.Equal(t, types.EpochNone, m.UpFrom(9))
	assert.Equal(t, []types.NodeID{1}, m.UpMembers())
	require.Len(t, m.PublicAddrs(1), 1)
	assert.Nil(t, m.PublicAddrs(9))
}

func TestPGIDs(t *testing.T) {
	m := NewEmpty()
	m.Pools[1] = testPool(1, PoolTypeReplicated)
	m.Pools[2] = &Pool{ID: 2, Type: PoolTypeErasure, Size: 3, PGCount: 2}

	repl := m.PGIDs(1)
	require.Len(t, repl, 4)
	for _, id := range repl {
		assert.Equal(t, types.ReplicaNone, id.Replica)
	}

	// Erasure pools fan each shard out into Size replica positions.
	ec := m.PGIDs(2)
	require.Len(t, ec, 6)
	assert.Equal(t, types.PGID{Pool: 2, Shard: 0, Replica: 0}, ec[0])
	assert.Equal(t, types.PGID{Pool: 2, Shard: 1, Replica: 2}, ec[5])

	assert.Nil(t, m.PGIDs(99))
}

func TestCloneIsDeep(t *testing.T) {
	m := NewEmpty()
	m.Epoch = 7
	m.Members[1] = testMember(true)
	m.Pools[1] = testPool(1, PoolTypeReplicated)

	c := m.Clone()
	c.Members[1].Up = false
	c.Members[1].PublicAddrs[0].Port = 9999
	c.Pools[1].Name = "changed"
	delete(c.Pools, 1)

	assert.True(t, m.Members[1].Up)
	assert.Equal(t, 6800, m.Members[1].PublicAddrs[0].Port)
	require.Contains(t, m.Pools, types.PoolID(1))
	assert.Equal(t, "pool-replicated", m.Pools[1].Name)
}

func TestFlagString(t *testing.T) {
	assert.Equal(t, "none", Flag(0).String())
	assert.Equal(t, "noup", FlagNoUp.String())
	assert.Equal(t, "noup,sorted-placement", (FlagNoUp | FlagSortedPlacement).String())
}

func TestEncodeDecodeSnapshot(t *testing.T) {
	m := NewEmpty()
	m.ClusterID = uuid.New()
	m.Epoch = 12
	m.Created = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	m.Modified = m.Created.Add(time.Hour)
	m.Flags = FlagSortedPlacement
	m.RequireRelease = types.ReleaseBluefin
	m.Members[4] = testMember(true)
	m.Pools[2] = testPool(2, PoolTypeErasure)

	b, err := Encode(m)
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, m.Epoch, got.Epoch)
	assert.Equal(t, m.ClusterID, got.ClusterID)
	assert.Equal(t, m.Flags, got.Flags)
	assert.Equal(t, m.RequireRelease, got.RequireRelease)
	require.Contains(t, got.Members, types.NodeID(4))
	assert.True(t, got.Members[4].Up)
	require.Contains(t, got.Pools, types.PoolID(2))
	assert.Equal(t, PoolTypeErasure, got.Pools[2].Type)
}
