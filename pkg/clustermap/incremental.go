package clustermap

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shoalstore/shoal/pkg/types"
)

// ErrEpochChain is returned when an incremental does not continue the
// receiver's epoch sequence.
var ErrEpochChain = errors.New("incremental breaks epoch chain")

// Incremental is the delta between consecutive map epochs. Applying the
// incremental for epoch e to the (private, cloned) snapshot of epoch e-1
// must produce a map identical to decoding the full snapshot of epoch e.
type Incremental struct {
	ClusterID uuid.UUID   `json:"cluster_id"`
	Epoch     types.Epoch `json:"epoch"`
	Modified  time.Time   `json:"modified"`

	SetFlags   Flag `json:"set_flags,omitempty"`
	ClearFlags Flag `json:"clear_flags,omitempty"`

	// RequireRelease, when set, raises the cluster-wide minimum release.
	RequireRelease *types.Release `json:"require_release,omitempty"`

	// Pools holds full replacement records for new or changed pools.
	Pools        map[types.PoolID]*Pool `json:"pools,omitempty"`
	RemovedPools []types.PoolID         `json:"removed_pools,omitempty"`

	// Members holds full replacement records for new or changed members.
	Members        map[types.NodeID]*Member `json:"members,omitempty"`
	RemovedMembers []types.NodeID           `json:"removed_members,omitempty"`
}

// Apply mutates the receiver into the incremental's epoch. The receiver
// must be a private clone, never a shared cache snapshot, and must sit
// exactly one epoch behind the incremental.
func (m *ClusterMap) Apply(inc *Incremental) error {
	if inc.Epoch != m.Epoch+1 {
		return fmt.Errorf("%w: map e%d, incremental e%d", ErrEpochChain, m.Epoch, inc.Epoch)
	}
	if m.ClusterID != uuid.Nil && inc.ClusterID != uuid.Nil && m.ClusterID != inc.ClusterID {
		return fmt.Errorf("incremental e%d belongs to cluster %s, map belongs to %s",
			inc.Epoch, inc.ClusterID, m.ClusterID)
	}

	m.Epoch = inc.Epoch
	m.Modified = inc.Modified
	if m.ClusterID == uuid.Nil {
		m.ClusterID = inc.ClusterID
	}
	if m.Created.IsZero() {
		m.Created = inc.Modified
	}

	m.Flags |= inc.SetFlags
	m.Flags &^= inc.ClearFlags
	if inc.RequireRelease != nil {
		m.RequireRelease = *inc.RequireRelease
	}

	if m.Pools == nil {
		m.Pools = map[types.PoolID]*Pool{}
	}
	for id, p := range inc.Pools {
		np := p.Clone()
		np.LastChange = inc.Epoch
		m.Pools[id] = np
	}
	for _, id := range inc.RemovedPools {
		delete(m.Pools, id)
	}

	if m.Members == nil {
		m.Members = map[types.NodeID]*Member{}
	}
	for id, mb := range inc.Members {
		m.Members[id] = mb.Clone()
	}
	for _, id := range inc.RemovedMembers {
		delete(m.Members, id)
	}
	return nil
}
