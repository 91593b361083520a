package mapcache

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/shoalstore/shoal/pkg/clustermap"
	"github.com/shoalstore/shoal/pkg/log"
	"github.com/shoalstore/shoal/pkg/mapstore"
	"github.com/shoalstore/shoal/pkg/metrics"
	"github.com/shoalstore/shoal/pkg/storage"
	"github.com/shoalstore/shoal/pkg/types"
)

const (
	tierSnapshot = "snapshot"
	tierBytes    = "bytes"
)

// DefaultSnapshotCapacity and DefaultBytesCapacity size the two tiers when
// the configuration does not say otherwise.
const (
	DefaultSnapshotCapacity = 64
	DefaultBytesCapacity    = 128
)

type pin struct {
	epoch types.Epoch
	m     *clustermap.ClusterMap
}

// Cache is the node's two-tier cluster-map cache: decoded snapshots in
// front, encoded blobs behind them, the map store behind both. Snapshots
// it hands out are shared and immutable.
//
// Both tiers are capacity-bounded LRUs. The node's currently visible epoch
// is additionally pinned so eviction can never force a storage round-trip
// for the map everything keys off.
type Cache struct {
	store  *mapstore.Store
	logger zerolog.Logger

	snaps  *lru.Cache[types.Epoch, *clustermap.ClusterMap]
	blobs  *lru.Cache[types.Epoch, []byte]
	pinned atomic.Pointer[pin]
}

// New builds a cache over the map store.
func New(store *mapstore.Store, snapshotCapacity, bytesCapacity int) (*Cache, error) {
	if snapshotCapacity <= 0 {
		snapshotCapacity = DefaultSnapshotCapacity
	}
	if bytesCapacity <= 0 {
		bytesCapacity = DefaultBytesCapacity
	}
	snaps, err := lru.New[types.Epoch, *clustermap.ClusterMap](snapshotCapacity)
	if err != nil {
		return nil, fmt.Errorf("snapshot cache: %w", err)
	}
	blobs, err := lru.New[types.Epoch, []byte](bytesCapacity)
	if err != nil {
		return nil, fmt.Errorf("bytes cache: %w", err)
	}
	return &Cache{
		store:  store,
		logger: log.WithComponent("mapcache"),
		snaps:  snaps,
		blobs:  blobs,
	}, nil
}

// Get returns the snapshot for an epoch. Epoch 0 resolves to the empty
// bootstrap map without touching storage. A stored epoch that cannot be
// loaded is a local inconsistency and surfaces as an error the caller must
// treat as fatal.
func (c *Cache) Get(ctx context.Context, e types.Epoch) (*clustermap.ClusterMap, error) {
	if p := c.pinned.Load(); p != nil && p.epoch == e {
		metrics.MapCacheHits.WithLabelValues(tierSnapshot).Inc()
		return p.m, nil
	}
	if m, ok := c.snaps.Get(e); ok {
		metrics.MapCacheHits.WithLabelValues(tierSnapshot).Inc()
		return m, nil
	}
	metrics.MapCacheMisses.WithLabelValues(tierSnapshot).Inc()

	m, err := c.load(ctx, e)
	if err != nil {
		return nil, err
	}
	c.snaps.Add(e, m)
	return m, nil
}

func (c *Cache) load(ctx context.Context, e types.Epoch) (*clustermap.ClusterMap, error) {
	if e == types.EpochNone {
		return clustermap.NewEmpty(), nil
	}
	b, err := c.LoadBytes(ctx, e)
	if err != nil {
		return nil, err
	}
	m, err := clustermap.Decode(b)
	if err != nil {
		return nil, fmt.Errorf("map e%d: %w", e, err)
	}
	if m.Epoch != e {
		return nil, fmt.Errorf("map blob for e%d decodes to e%d", e, m.Epoch)
	}
	return m, nil
}

// LoadBytes returns the encoded blob for an epoch, from cache or storage.
func (c *Cache) LoadBytes(ctx context.Context, e types.Epoch) ([]byte, error) {
	if b, ok := c.blobs.Get(e); ok {
		metrics.MapCacheHits.WithLabelValues(tierBytes).Inc()
		return b, nil
	}
	metrics.MapCacheMisses.WithLabelValues(tierBytes).Inc()

	b, err := c.store.LoadMap(ctx, e)
	if err != nil {
		return nil, err
	}
	c.blobs.Add(e, b)
	return b, nil
}

// StoreBytes write-through-caches a blob and queues its persistence on the
// caller's transaction. The caller commits; nothing is durable until then.
func (c *Cache) StoreBytes(t *storage.Transaction, e types.Epoch, b []byte) {
	c.blobs.Add(e, b)
	c.store.StoreMap(t, e, b)
}

// Insert caches a decoded snapshot. The ingestion path uses it so maps it
// just decoded or rebuilt are warm before anyone waits on them.
func (c *Cache) Insert(e types.Epoch, m *clustermap.ClusterMap) {
	c.snaps.Add(e, m)
}

// Pin marks the node's visible epoch. The pinned snapshot stays reachable
// regardless of LRU pressure. Pin also inserts into the LRU so recently
// unpinned epochs stay warm.
func (c *Cache) Pin(e types.Epoch, m *clustermap.ClusterMap) {
	c.pinned.Store(&pin{epoch: e, m: m})
	c.snaps.Add(e, m)
}

// PinnedEpoch reports the currently pinned epoch, 0 when none.
func (c *Cache) PinnedEpoch() types.Epoch {
	if p := c.pinned.Load(); p != nil {
		return p.epoch
	}
	return types.EpochNone
}
