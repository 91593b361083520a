package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/shoalstore/shoal/pkg/clustermap"
	"github.com/shoalstore/shoal/pkg/log"
	"github.com/shoalstore/shoal/pkg/mapstore"
	"github.com/shoalstore/shoal/pkg/metrics"
	"github.com/shoalstore/shoal/pkg/peering"
	"github.com/shoalstore/shoal/pkg/placement"
	"github.com/shoalstore/shoal/pkg/storage"
	"github.com/shoalstore/shoal/pkg/types"
)

// LiveFunc returns the node's current visible map. Creation admission
// checks run against it, never against the request's historical start map.
type LiveFunc func() *clustermap.ClusterMap

// LifecycleConfig wires the lifecycle manager's collaborators.
type LifecycleConfig struct {
	Self    types.NodeID
	Engine  storage.Engine
	Maps    MapSource
	Meta    *mapstore.Store
	Live    LiveFunc
	Placer  placement.Placer
	Peering peering.Factory
}

// Lifecycle creates placement groups on request and rebuilds the resident
// set from disk at startup.
type Lifecycle struct {
	self    types.NodeID
	eng     storage.Engine
	maps    MapSource
	meta    *mapstore.Store
	live    LiveFunc
	placer  placement.Placer
	factory peering.Factory
	logger  zerolog.Logger
}

// NewLifecycle returns a lifecycle manager.
func NewLifecycle(cfg LifecycleConfig) *Lifecycle {
	return &Lifecycle{
		self:    cfg.Self,
		eng:     cfg.Engine,
		maps:    cfg.Maps,
		meta:    cfg.Meta,
		live:    cfg.Live,
		placer:  cfg.Placer,
		factory: cfg.Peering,
		logger:  log.WithComponent("pg"),
	}
}

// CreateRequest asks for one placement group to exist on this node.
type CreateRequest struct {
	// ID is the group to create.
	ID types.PGID
	// Epoch is the map epoch the creation was decided at. Pool definition
	// and initial placement come from this map.
	Epoch types.Epoch
	// History seeds the group's lineage. A zero Created defaults to Epoch.
	History peering.History
	// ByAuthority marks requests from the map authority's initial-creation
	// sweep. They are only honored while the live map still shows the pool
	// in its creating phase; anything staler is dropped without effect.
	ByAuthority bool
}

// Create performs one creation attempt. It returns (nil, nil) when the
// request is benignly dropped: the pool is gone from the live map or has
// left its creating phase, so the request is a leftover from an older
// epoch and acting on it would resurrect state the cluster already moved
// past.
//
// A successful creation commits the group's collection, metadata and
// peering init in one transaction, then advances the fresh group to the
// node's current epoch before handing it out.
func (l *Lifecycle) Create(ctx context.Context, req CreateRequest) (*PG, error) {
	if req.ByAuthority {
		live := l.live()
		pool, ok := live.Pool(req.ID.Pool)
		switch {
		case !ok:
			return l.drop(req, live.Epoch, "pool deleted"), nil
		case !pool.IsCreating():
			return l.drop(req, live.Epoch, "pool finished creating"), nil
		}
	}

	start, err := l.maps.Get(ctx, req.Epoch)
	if err != nil {
		metrics.PGCreations.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("create %s: resolve start map e%d: %w", req.ID, req.Epoch, err)
	}
	pool, err := l.resolvePool(ctx, start, req.ID.Pool)
	if err != nil {
		metrics.PGCreations.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("create %s: %w", req.ID, err)
	}

	up, acting, role, err := l.placer.Compute(start, req.ID, l.self)
	if err != nil {
		metrics.PGCreations.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("create %s: place at e%d: %w", req.ID, req.Epoch, err)
	}
	role = effectiveRole(pool, req.ID, role)

	history := req.History
	if history.Created == types.EpochNone {
		history.Created = req.Epoch
	}

	coll := storage.CollectionID(req.ID.CollectionName())
	peer := l.factory(req.ID, coll, l.eng)

	t := storage.NewTransaction()
	t.CreateCollection(coll)
	if err := (Meta{ID: req.ID, Epoch: req.Epoch, History: history}).put(t, coll); err != nil {
		metrics.PGCreations.WithLabelValues("failed").Inc()
		return nil, err
	}
	seed := peering.Seed{Role: role, Up: up, Acting: acting}
	if err := peer.Init(t, history, seed); err != nil {
		metrics.PGCreations.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("create %s: init peering: %w", req.ID, err)
	}
	if err := l.eng.Submit(ctx, t); err != nil {
		metrics.PGCreations.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("create %s: commit: %w", req.ID, err)
	}

	group := l.instantiate(pgInit{
		id:      req.ID,
		pool:    pool,
		history: history,
		epoch:   req.Epoch,
		role:    role,
		up:      up,
		acting:  acting,
		peer:    peer,
	})

	// A fresh group must not lag the node's own view.
	if cur := l.live().Epoch; cur > req.Epoch {
		if err := group.AdvanceTo(ctx, l.maps, cur); err != nil {
			metrics.PGCreations.WithLabelValues("failed").Inc()
			return nil, err
		}
	}

	metrics.PGCreations.WithLabelValues("created").Inc()
	l.logger.Info().
		Stringer("pg", req.ID).
		Uint64("epoch", uint64(req.Epoch)).
		Int("role", role).
		Msg("placement group created")
	return group, nil
}

func (l *Lifecycle) drop(req CreateRequest, liveEpoch types.Epoch, reason string) *PG {
	metrics.PGCreations.WithLabelValues("dropped").Inc()
	l.logger.Debug().
		Stringer("pg", req.ID).
		Uint64("request_epoch", uint64(req.Epoch)).
		Uint64("live_epoch", uint64(liveEpoch)).
		Str("reason", reason).
		Msg("creation request dropped")
	return nil
}

// resolvePool finds the pool definition governing a group. Pools deleted
// after the group's start map are served from their preserved final
// record, so groups of dead pools still load and advance.
func (l *Lifecycle) resolvePool(ctx context.Context, m *clustermap.ClusterMap, id types.PoolID) (*clustermap.Pool, error) {
	if pool, ok := m.Pool(id); ok {
		return pool, nil
	}
	info, err := l.meta.LoadFinalPoolInfo(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("pool %d absent at e%d and has no final record", id, m.Epoch)
		}
		return nil, err
	}
	return info.Pool, nil
}

// LoadAll rebuilds every placement group found on disk. Temp collections
// are skipped (cleanup is deferred), unrecognized collections are logged
// and left alone, and any failure to rebuild a recognized group aborts
// startup: serving with part of the resident set silently missing is worse
// than not serving.
func (l *Lifecycle) LoadAll(ctx context.Context) ([]*PG, error) {
	colls, err := l.eng.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}

	var groups []*PG
	for _, coll := range colls {
		if coll == mapstore.MetaCollection {
			continue
		}
		id, kind := types.ClassifyCollection(string(coll))
		switch kind {
		case types.CollectionPG:
			group, err := l.load(ctx, id, coll)
			if err != nil {
				return nil, err
			}
			groups = append(groups, group)
		case types.CollectionPGTemp:
			l.logger.Debug().Stringer("pg", id).Msg("skipping temp collection")
		default:
			l.logger.Warn().Str("collection", string(coll)).Msg("ignoring unrecognized collection")
		}
	}
	l.logger.Info().Int("count", len(groups)).Msg("placement groups loaded")
	return groups, nil
}

func (l *Lifecycle) load(ctx context.Context, id types.PGID, coll storage.CollectionID) (*PG, error) {
	meta, err := readMeta(ctx, l.eng, id, coll)
	if err != nil {
		return nil, err
	}
	start, err := l.maps.Get(ctx, meta.Epoch)
	if err != nil {
		return nil, fmt.Errorf("load %s: resolve map e%d: %w", id, meta.Epoch, err)
	}
	pool, err := l.resolvePool(ctx, start, id.Pool)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}

	up, acting, role, err := l.placer.Compute(start, id, l.self)
	if err != nil {
		return nil, fmt.Errorf("load %s: place at e%d: %w", id, meta.Epoch, err)
	}
	role = effectiveRole(pool, id, role)

	peer := l.factory(id, coll, l.eng)
	if err := peer.Restore(ctx); err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}

	group := l.instantiate(pgInit{
		id:      id,
		pool:    pool,
		history: meta.History,
		epoch:   meta.Epoch,
		role:    role,
		up:      up,
		acting:  acting,
		peer:    peer,
	})
	l.logger.Debug().
		Stringer("pg", id).
		Uint64("epoch", uint64(meta.Epoch)).
		Msg("placement group loaded from disk")
	return group, nil
}
