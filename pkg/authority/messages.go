package authority

import (
	"github.com/google/uuid"

	"github.com/shoalstore/shoal/pkg/peering"
	"github.com/shoalstore/shoal/pkg/types"
)

// Message is one node-to-authority report. Kind is used as a routing and
// metrics label.
type Message interface {
	Kind() string
}

// MapBatch carries encoded cluster maps for the contiguous epoch range
// [First, Last]. Each epoch appears in Fulls or Incrementals (an epoch
// present in both is served from Fulls). Bounds reflects the sender's
// retained span at send time, which the receiver uses to decide whether a
// leading gap can still be filled.
type MapBatch struct {
	ClusterID     uuid.UUID              `json:"cluster_id"`
	First         types.Epoch            `json:"first"`
	Last          types.Epoch            `json:"last"`
	Bounds        VersionBounds          `json:"bounds"`
	Fulls         map[types.Epoch][]byte `json:"fulls,omitempty"`
	Incrementals  map[types.Epoch][]byte `json:"incrementals,omitempty"`
	FromAuthority bool                   `json:"from_authority"`
}

// Empty reports whether the batch names no epochs.
func (b *MapBatch) Empty() bool {
	return b.Last == types.EpochNone || b.First > b.Last
}

// PGCreateRequest instructs the node to instantiate a placement group it
// is primary for. Epoch is the map the creation was decided at and becomes
// the group's start map.
type PGCreateRequest struct {
	ID          types.PGID      `json:"id"`
	Epoch       types.Epoch     `json:"epoch"`
	History     peering.History `json:"history"`
	ByAuthority bool            `json:"by_authority"`
}

// BootAnnouncement asks the authority to mark the node up at the given
// addresses.
type BootAnnouncement struct {
	Superblock   types.Superblock `json:"superblock"`
	BootEpoch    types.Epoch      `json:"boot_epoch"`
	PublicAddrs  types.AddrSet    `json:"public_addrs"`
	ClusterAddrs types.AddrSet    `json:"cluster_addrs"`
	Release      types.Release    `json:"release"`
}

func (*BootAnnouncement) Kind() string { return "boot" }

// AliveReport tells the authority the node has applied maps through
// MapEpoch and wants its up-thru bound raised to WantUpThru.
type AliveReport struct {
	NodeID     types.NodeID `json:"node_id"`
	MapEpoch   types.Epoch  `json:"map_epoch"`
	WantUpThru types.Epoch  `json:"want_up_thru"`
}

func (*AliveReport) Kind() string { return "alive" }

// Beacon is the periodic liveness report an active node sends so the
// authority does not mark it down.
type Beacon struct {
	NodeID          types.NodeID `json:"node_id"`
	MapEpoch        types.Epoch  `json:"map_epoch"`
	MinCleanEpoch   types.Epoch  `json:"min_clean_epoch"`
	PlacementGroups int          `json:"placement_groups"`
}

func (*Beacon) Kind() string { return "beacon" }

// PGStat is one group's entry in a StatsReport.
type PGStat struct {
	ID           types.PGID    `json:"id"`
	LastAdvanced types.Epoch   `json:"last_advanced"`
	Stats        peering.Stats `json:"stats"`
}

// StatsReport summarizes the node's placement groups for the authority.
type StatsReport struct {
	NodeID   types.NodeID `json:"node_id"`
	MapEpoch types.Epoch  `json:"map_epoch"`
	PGs      []PGStat     `json:"pgs"`
}

func (*StatsReport) Kind() string { return "stats" }
