package clustermap

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shoalstore/shoal/pkg/types"
)

// Flag is a cluster-wide behavior toggle carried by the map.
type Flag uint32

const (
	// FlagNoUp means the authority is refusing boot announcements; nodes
	// stay in preboot until it clears.
	FlagNoUp Flag = 1 << iota
	// FlagSortedPlacement marks maps whose placement ordering uses the
	// sorted shard layout. Daemons of this generation require it; serving
	// without it is possible but degraded.
	FlagSortedPlacement
	// FlagPauseIO suspends client traffic cluster-wide.
	FlagPauseIO
)

// Has reports whether all bits of x are set.
func (f Flag) Has(x Flag) bool {
	return f&x == x
}

func (f Flag) String() string {
	names := ""
	add := func(s string) {
		if names != "" {
			names += ","
		}
		names += s
	}
	if f.Has(FlagNoUp) {
		add("noup")
	}
	if f.Has(FlagSortedPlacement) {
		add("sorted-placement")
	}
	if f.Has(FlagPauseIO) {
		add("pause-io")
	}
	if names == "" {
		return "none"
	}
	return names
}

// Member is one node's entry in the cluster map.
type Member struct {
	Up        bool        `json:"up"`
	UpFrom    types.Epoch `json:"up_from,omitempty"`
	DownAt    types.Epoch `json:"down_at,omitempty"`
	Destroyed bool        `json:"destroyed,omitempty"`
	Weight    float64     `json:"weight"`

	PublicAddrs  types.AddrSet `json:"public_addrs,omitempty"`
	ClusterAddrs types.AddrSet `json:"cluster_addrs,omitempty"`
}

// Clone returns a deep copy.
func (m *Member) Clone() *Member {
	out := *m
	out.PublicAddrs = m.PublicAddrs.Clone()
	out.ClusterAddrs = m.ClusterAddrs.Clone()
	return &out
}

// ClusterMap is one immutable epoch of cluster state: membership, pools and
// cluster-wide flags. Snapshots handed out by the cache are shared between
// goroutines and must never be mutated; Apply operates on private clones
// produced by Clone.
type ClusterMap struct {
	ClusterID uuid.UUID   `json:"cluster_id"`
	Epoch     types.Epoch `json:"epoch"`
	Created   time.Time   `json:"created"`
	Modified  time.Time   `json:"modified"`

	Flags          Flag          `json:"flags"`
	RequireRelease types.Release `json:"require_release"`

	Pools   map[types.PoolID]*Pool    `json:"pools,omitempty"`
	Members map[types.NodeID]*Member  `json:"members,omitempty"`
}

// NewEmpty returns the epoch-0 bootstrap map: no members, no pools. A
// freshly formatted node runs against this until the authority delivers
// its first real map.
func NewEmpty() *ClusterMap {
	return &ClusterMap{
		Epoch:   types.EpochNone,
		Pools:   map[types.PoolID]*Pool{},
		Members: map[types.NodeID]*Member{},
	}
}

// Clone returns a deep copy safe to mutate.
func (m *ClusterMap) Clone() *ClusterMap {
	out := *m
	out.Pools = make(map[types.PoolID]*Pool, len(m.Pools))
	for id, p := range m.Pools {
		out.Pools[id] = p.Clone()
	}
	out.Members = make(map[types.NodeID]*Member, len(m.Members))
	for id, mb := range m.Members {
		out.Members[id] = mb.Clone()
	}
	return &out
}

// Member returns the map entry for a node.
func (m *ClusterMap) Member(id types.NodeID) (*Member, bool) {
	mb, ok := m.Members[id]
	return mb, ok
}

// Exists reports whether the node still has a slot in the map. A node that
// stops existing must shut down.
func (m *ClusterMap) Exists(id types.NodeID) bool {
	_, ok := m.Members[id]
	return ok
}

// IsUp reports whether the map shows the node up.
func (m *ClusterMap) IsUp(id types.NodeID) bool {
	mb, ok := m.Members[id]
	return ok && mb.Up
}

// IsDestroyed reports whether the node's slot is marked destroyed.
func (m *ClusterMap) IsDestroyed(id types.NodeID) bool {
	mb, ok := m.Members[id]
	return ok && mb.Destroyed
}

// UpFrom returns the epoch at which the node was last marked up, or 0.
func (m *ClusterMap) UpFrom(id types.NodeID) types.Epoch {
	if mb, ok := m.Members[id]; ok {
		return mb.UpFrom
	}
	return types.EpochNone
}

// PublicAddrs returns the node's advertised public endpoints, or nil.
func (m *ClusterMap) PublicAddrs(id types.NodeID) types.AddrSet {
	if mb, ok := m.Members[id]; ok {
		return mb.PublicAddrs
	}
	return nil
}

// ClusterAddrs returns the node's advertised cluster endpoints, or nil.
func (m *ClusterMap) ClusterAddrs(id types.NodeID) types.AddrSet {
	if mb, ok := m.Members[id]; ok {
		return mb.ClusterAddrs
	}
	return nil
}

// Pool returns the pool record, or nil,false when the pool does not exist
// at this epoch (deleted or never created).
func (m *ClusterMap) Pool(id types.PoolID) (*Pool, bool) {
	p, ok := m.Pools[id]
	return p, ok
}

// PoolExists reports pool presence at this epoch.
func (m *ClusterMap) PoolExists(id types.PoolID) bool {
	_, ok := m.Pools[id]
	return ok
}

// UpMembers returns the ids of all up nodes, sorted.
func (m *ClusterMap) UpMembers() []types.NodeID {
	ids := make([]types.NodeID, 0, len(m.Members))
	for id, mb := range m.Members {
		if mb.Up {
			ids = append(ids, id)
		}
	}
	return types.SortNodeIDs(ids)
}

// PGIDs enumerates the placement-group identities a pool defines at this
// epoch. For erasure-coded pools every shard fans out into Size replica
// positions.
func (m *ClusterMap) PGIDs(id types.PoolID) []types.PGID {
	p, ok := m.Pools[id]
	if !ok {
		return nil
	}
	var out []types.PGID
	for shard := uint32(0); shard < p.PGCount; shard++ {
		if p.IsReplicated() {
			out = append(out, types.PGID{Pool: id, Shard: shard, Replica: types.ReplicaNone})
			continue
		}
		for pos := 0; pos < p.Size; pos++ {
			out = append(out, types.PGID{Pool: id, Shard: shard, Replica: types.ReplicaPos(pos)})
		}
	}
	return out
}

// Summary renders a one-line description for logs.
func (m *ClusterMap) Summary() string {
	up := 0
	for _, mb := range m.Members {
		if mb.Up {
			up++
		}
	}
	return fmt.Sprintf("e%d: %d members (%d up), %d pools, flags %s",
		m.Epoch, len(m.Members), up, len(m.Pools), m.Flags)
}
