package types

import (
	"fmt"

	"github.com/google/uuid"
)

// Superblock is the node's durable identity and map bookkeeping record. It
// is written once at format time and rewritten inside the same transaction
// as every committed map batch, so the epoch range it describes never gets
// ahead of or behind the stored map blobs.
type Superblock struct {
	// ClusterID is the cluster the node was formatted into. Map batches
	// from any other cluster are dropped.
	ClusterID uuid.UUID `json:"cluster_id"`
	// NodeUUID is the immutable identity of this daemon's data directory.
	NodeUUID uuid.UUID `json:"node_uuid"`
	// NodeID is the authority-assigned slot.
	NodeID NodeID `json:"node_id"`
	// Nonce is a random value drawn at format time. It rides along in boot
	// announcements so the authority can tell a reformatted data directory
	// from the incarnation it replaced.
	Nonce uint32 `json:"nonce"`

	// CurrentEpoch is the newest epoch the node has made visible.
	CurrentEpoch Epoch `json:"current_epoch"`
	// OldestMap and NewestMap bound the contiguous range of map blobs the
	// node stores locally.
	OldestMap Epoch `json:"oldest_map"`
	NewestMap Epoch `json:"newest_map"`

	// Mounted is the boot epoch of the incarnation that last mounted the
	// store; CleanThru is the last epoch that incarnation committed while
	// up. Used to reason about how far behind a restarted node may be.
	Mounted   Epoch `json:"mounted"`
	CleanThru Epoch `json:"clean_thru"`

	Features FeatureSet `json:"features"`
}

// Validate checks structural sanity after a load.
func (sb *Superblock) Validate() error {
	if sb.ClusterID == uuid.Nil {
		return fmt.Errorf("superblock has no cluster id")
	}
	if sb.NodeUUID == uuid.Nil {
		return fmt.Errorf("superblock has no node uuid")
	}
	if sb.NodeID < 0 {
		return fmt.Errorf("superblock has invalid node id %d", sb.NodeID)
	}
	if sb.OldestMap > sb.NewestMap {
		return fmt.Errorf("superblock map range [%d,%d] is inverted", sb.OldestMap, sb.NewestMap)
	}
	return nil
}

// FeatureSet describes the on-disk format features a data directory uses.
// Compat features are informational; a daemon missing an incompat feature
// must refuse to mount.
type FeatureSet struct {
	Compat   []string `json:"compat,omitempty"`
	Incompat []string `json:"incompat,omitempty"`
}

// Feature names written by this build at format time.
const (
	FeatureMapIncrementals = "map-incrementals"
	FeaturePGMetaRecords   = "pg-meta-records"
	FeatureFinalPoolInfo   = "final-pool-info"
)

// InitialFeatures is the feature set a freshly formatted data directory
// carries.
func InitialFeatures() FeatureSet {
	return FeatureSet{
		Compat: []string{},
		Incompat: []string{
			FeatureMapIncrementals,
			FeaturePGMetaRecords,
			FeatureFinalPoolInfo,
		},
	}
}

// MissingIncompat returns the incompat features of the receiver that the
// supplied set does not understand.
func (f FeatureSet) MissingIncompat(have FeatureSet) []string {
	known := make(map[string]struct{}, len(have.Incompat))
	for _, name := range have.Incompat {
		known[name] = struct{}{}
	}
	var missing []string
	for _, name := range f.Incompat {
		if _, ok := known[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// InsertIncompat adds a feature name if absent.
func (f *FeatureSet) InsertIncompat(name string) {
	for _, existing := range f.Incompat {
		if existing == name {
			return
		}
	}
	f.Incompat = append(f.Incompat, name)
}
