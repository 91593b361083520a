package placement

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/shoalstore/shoal/pkg/clustermap"
	"github.com/shoalstore/shoal/pkg/types"
)

// RoleNone marks a node that does not participate in a placement group.
const RoleNone = -1

// Placer computes which nodes host a placement group at one map epoch.
// Implementations must be deterministic: same map, same identity, same
// answer, on every node.
type Placer interface {
	// Compute returns the up set (rank ordered, first is primary), the
	// acting set, and self's role (index in the acting set, RoleNone when
	// absent). A pool unknown to the map yields empty sets and RoleNone,
	// not an error: placement groups of deleted pools still advance as
	// non-participants until they are reaped.
	Compute(m *clustermap.ClusterMap, pgid types.PGID, self types.NodeID) (up, acting []types.NodeID, role int, err error)
}

// HRW is a highest-random-weight placer: every up member scores against
// the placement-group identity via xxhash, the top pool-size scorers host
// the group. Adding or removing one member only moves the groups that
// scored it into their top set.
type HRW struct{}

// NewHRW returns the default placer.
func NewHRW() *HRW {
	return &HRW{}
}

type scored struct {
	id    types.NodeID
	score uint64
}

// Compute implements Placer.
func (h *HRW) Compute(m *clustermap.ClusterMap, pgid types.PGID, self types.NodeID) ([]types.NodeID, []types.NodeID, int, error) {
	pool, ok := m.Pool(pgid.Pool)
	if !ok {
		return nil, nil, RoleNone, nil
	}

	candidates := make([]scored, 0, len(m.Members))
	for _, id := range m.UpMembers() {
		member, _ := m.Member(id)
		if member.Weight <= 0 {
			continue
		}
		candidates = append(candidates, scored{id: id, score: score(pgid, id)})
	}
	// Highest score first; ids break ties so the order is total.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})

	n := pool.Size
	if n > len(candidates) {
		n = len(candidates)
	}
	up := make([]types.NodeID, 0, n)
	for _, c := range candidates[:n] {
		up = append(up, c.id)
	}

	// Without temporary remappings the acting set is the up set.
	acting := make([]types.NodeID, len(up))
	copy(acting, up)

	role := RoleNone
	for i, id := range acting {
		if id == self {
			role = i
			break
		}
	}
	return up, acting, role, nil
}

// score hashes the (identity, node) pair. The replica position stays out
// of the key so every position of one erasure-coded shard ranks the same
// nodes and the role distinguishes them.
func score(pgid types.PGID, id types.NodeID) uint64 {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(pgid.Pool))
	binary.BigEndian.PutUint32(buf[8:12], pgid.Shard)
	binary.BigEndian.PutUint32(buf[12:16], uint32(id))
	return xxhash.Sum64(buf[:])
}
