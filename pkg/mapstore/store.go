package mapstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shoalstore/shoal/pkg/clustermap"
	"github.com/shoalstore/shoal/pkg/storage"
	"github.com/shoalstore/shoal/pkg/types"
)

// MetaCollection holds the node's own records: superblock, stored map
// blobs, and final pool info for deleted pools.
const MetaCollection storage.CollectionID = "meta"

const superblockKey = "superblock"

// ErrNoSuperblock is returned when the meta collection has no superblock,
// which means the data directory was never formatted completely.
var ErrNoSuperblock = errors.New("no superblock")

// Store reads and writes the node's metadata records. Writes go into
// caller-owned transactions so they commit atomically with whatever else
// the caller is persisting; reads hit the engine directly.
type Store struct {
	eng storage.Engine
}

// New returns a store over the engine.
func New(eng storage.Engine) *Store {
	return &Store{eng: eng}
}

// CreateMetaCollection queues creation of the meta collection. Called once
// at format time.
func (s *Store) CreateMetaCollection(t *storage.Transaction) {
	t.CreateCollection(MetaCollection)
}

// StoreSuperblock queues a superblock write.
func (s *Store) StoreSuperblock(t *storage.Transaction, sb types.Superblock) error {
	b, err := json.Marshal(sb)
	if err != nil {
		return fmt.Errorf("encode superblock: %w", err)
	}
	t.Put(MetaCollection, superblockKey, b)
	return nil
}

// LoadSuperblock reads and validates the superblock.
func (s *Store) LoadSuperblock(ctx context.Context) (types.Superblock, error) {
	var sb types.Superblock
	b, err := s.eng.Get(ctx, MetaCollection, superblockKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrNoCollection) {
			return sb, ErrNoSuperblock
		}
		return sb, fmt.Errorf("load superblock: %w", err)
	}
	if err := json.Unmarshal(b, &sb); err != nil {
		return sb, fmt.Errorf("decode superblock: %w", err)
	}
	if err := sb.Validate(); err != nil {
		return sb, fmt.Errorf("superblock invalid: %w", err)
	}
	return sb, nil
}

// mapKey renders epochs in fixed-width hex so prefix listings come back in
// epoch order.
func mapKey(e types.Epoch) string {
	return fmt.Sprintf("map/%016x", uint64(e))
}

// StoreMap queues a full-snapshot blob write for one epoch.
func (s *Store) StoreMap(t *storage.Transaction, e types.Epoch, b []byte) {
	t.Put(MetaCollection, mapKey(e), b)
}

// LoadMap reads the stored blob for one epoch. Missing epochs surface
// storage.ErrNotFound.
func (s *Store) LoadMap(ctx context.Context, e types.Epoch) ([]byte, error) {
	b, err := s.eng.Get(ctx, MetaCollection, mapKey(e))
	if err != nil {
		return nil, fmt.Errorf("load map e%d: %w", e, err)
	}
	return b, nil
}

// RemoveMap queues deletion of one epoch's blob (map range trimming).
func (s *Store) RemoveMap(t *storage.Transaction, e types.Epoch) {
	t.Delete(MetaCollection, mapKey(e))
}

// FinalPoolInfo is the preserved state of a deleted pool: the last pool
// record published before the deletion, plus the epoch that deleted it.
// Placement groups of deleted pools are created and advanced against this
// record when their start map no longer carries the pool.
type FinalPoolInfo struct {
	Pool      *clustermap.Pool `json:"pool"`
	DeletedAt types.Epoch      `json:"deleted_at"`
}

func poolKey(id types.PoolID) string {
	return fmt.Sprintf("pool/%d", int64(id))
}

// StoreFinalPoolInfo queues preservation of a deleted pool's last state.
func (s *Store) StoreFinalPoolInfo(t *storage.Transaction, info FinalPoolInfo) error {
	if info.Pool == nil {
		return fmt.Errorf("final pool info without pool record")
	}
	b, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode final pool info %d: %w", info.Pool.ID, err)
	}
	t.Put(MetaCollection, poolKey(info.Pool.ID), b)
	return nil
}

// LoadFinalPoolInfo reads a deleted pool's preserved state. Missing pools
// surface storage.ErrNotFound.
func (s *Store) LoadFinalPoolInfo(ctx context.Context, id types.PoolID) (FinalPoolInfo, error) {
	var info FinalPoolInfo
	b, err := s.eng.Get(ctx, MetaCollection, poolKey(id))
	if err != nil {
		return info, fmt.Errorf("load final pool info %d: %w", id, err)
	}
	if err := json.Unmarshal(b, &info); err != nil {
		return info, fmt.Errorf("decode final pool info %d: %w", id, err)
	}
	return info, nil
}
