package node

import (
	"github.com/google/uuid"

	"github.com/shoalstore/shoal/pkg/heartbeat"
	"github.com/shoalstore/shoal/pkg/types"
)

// Status is a point-in-time snapshot of the node for the admin surface and
// the CLI. It is assembled on the event loop and read lock-free copies of
// it are handed out, so readers never contend with ingestion.
type Status struct {
	NodeID    types.NodeID    `json:"node_id"`
	NodeUUID  uuid.UUID       `json:"node_uuid"`
	ClusterID uuid.UUID       `json:"cluster_id"`
	State     types.NodeState `json:"state"`

	Epoch     types.Epoch `json:"epoch"`
	OldestMap types.Epoch `json:"oldest_map"`
	NewestMap types.Epoch `json:"newest_map"`
	CleanThru types.Epoch `json:"clean_thru"`
	UpFrom    types.Epoch `json:"up_from,omitempty"`

	Degraded bool `json:"degraded,omitempty"`

	PublicAddrs  types.AddrSet `json:"public_addrs,omitempty"`
	ClusterAddrs types.AddrSet `json:"cluster_addrs,omitempty"`

	PlacementGroups int `json:"placement_groups"`
	Primaries       int `json:"primaries"`

	HeartbeatPeers []heartbeat.PeerStatus `json:"heartbeat_peers,omitempty"`
}

// Status returns the most recent snapshot.
func (n *Node) Status() Status {
	n.statusMu.RLock()
	defer n.statusMu.RUnlock()
	return n.statusSnap
}

// syncStatus rebuilds the snapshot from loop-owned state. Called only from
// the startup path and the event loop.
func (n *Node) syncStatus() {
	groups := n.registry.Resident()
	primaries := 0
	for _, g := range groups {
		if g.IsPrimary() {
			primaries++
		}
	}
	snap := Status{
		NodeID:          n.sb.NodeID,
		NodeUUID:        n.sb.NodeUUID,
		ClusterID:       n.sb.ClusterID,
		State:           n.state,
		Epoch:           n.visible.Load().Epoch,
		OldestMap:       n.sb.OldestMap,
		NewestMap:       n.sb.NewestMap,
		CleanThru:       n.sb.CleanThru,
		UpFrom:          n.upEpoch,
		Degraded:        n.degraded,
		PublicAddrs:     n.publicAddrs.Clone(),
		ClusterAddrs:    n.clusterAddrs.Clone(),
		PlacementGroups: len(groups),
		Primaries:       primaries,
	}
	if n.hb != nil {
		snap.HeartbeatPeers = n.hb.Snapshot()
	}
	n.statusMu.Lock()
	n.statusSnap = snap
	n.statusMu.Unlock()
}
