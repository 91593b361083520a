package pg

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/shoalstore/shoal/pkg/clustermap"
	"github.com/shoalstore/shoal/pkg/log"
	"github.com/shoalstore/shoal/pkg/metrics"
	"github.com/shoalstore/shoal/pkg/peering"
	"github.com/shoalstore/shoal/pkg/placement"
	"github.com/shoalstore/shoal/pkg/storage"
	"github.com/shoalstore/shoal/pkg/types"
)

// MapSource resolves decoded cluster-map snapshots by epoch. Satisfied by
// the node's map cache.
type MapSource interface {
	Get(ctx context.Context, e types.Epoch) (*clustermap.ClusterMap, error)
}

// PG is one resident placement group: its identity, its keyspace, its
// peering engine, and the node-side view of where the map currently places
// it. The node advances it through map epochs and routes peer traffic and
// admitted client operations to it.
type PG struct {
	id     types.PGID
	coll   storage.CollectionID
	self   types.NodeID
	eng    storage.Engine
	placer placement.Placer
	peer   peering.Engine
	logger zerolog.Logger

	// advanceMu serializes epoch advances against each other. The group's
	// epoch only moves forward, one walk at a time.
	advanceMu sync.Mutex

	mu      sync.RWMutex
	pool    *clustermap.Pool
	history peering.History
	epoch   types.Epoch
	role    int
	up      []types.NodeID
	acting  []types.NodeID
}

// pgInit carries everything instantiate needs; creation and load both
// build one.
type pgInit struct {
	id      types.PGID
	pool    *clustermap.Pool
	history peering.History
	epoch   types.Epoch
	role    int
	up      []types.NodeID
	acting  []types.NodeID
	peer    peering.Engine
}

func (l *Lifecycle) instantiate(init pgInit) *PG {
	return &PG{
		id:      init.id,
		coll:    storage.CollectionID(init.id.CollectionName()),
		self:    l.self,
		eng:     l.eng,
		placer:  l.placer,
		peer:    init.peer,
		logger:  log.WithPG(init.id),
		pool:    init.pool,
		history: init.history,
		epoch:   init.epoch,
		role:    init.role,
		up:      init.up,
		acting:  init.acting,
	}
}

// ID returns the group's identity.
func (p *PG) ID() types.PGID {
	return p.id
}

// Collection returns the group's storage collection.
func (p *PG) Collection() storage.CollectionID {
	return p.coll
}

// Epoch returns the newest map epoch the group has consumed.
func (p *PG) Epoch() types.Epoch {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.epoch
}

// Role returns the node's current role in the group, placement.RoleNone
// when it is a bystander.
func (p *PG) Role() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.role
}

// IsPrimary reports whether this node currently leads the group.
func (p *PG) IsPrimary() bool {
	return p.Role() == 0
}

// UpActing returns copies of the group's current up and acting sets.
func (p *PG) UpActing() ([]types.NodeID, []types.NodeID) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	up := make([]types.NodeID, len(p.up))
	copy(up, p.up)
	acting := make([]types.NodeID, len(p.acting))
	copy(acting, p.acting)
	return up, acting
}

// Stats is one group's externally visible condition.
type Stats struct {
	ID      types.PGID     `json:"id"`
	Pool    string         `json:"pool,omitempty"`
	Epoch   types.Epoch    `json:"epoch"`
	Role    int            `json:"role"`
	Up      []types.NodeID `json:"up,omitempty"`
	Acting  []types.NodeID `json:"acting,omitempty"`
	Peering peering.Stats  `json:"peering"`
}

// Stats snapshots the group for beacons and the admin surface.
func (p *PG) Stats() Stats {
	p.mu.RLock()
	poolName := ""
	if p.pool != nil {
		poolName = p.pool.Name
	}
	s := Stats{
		ID:     p.id,
		Pool:   poolName,
		Epoch:  p.epoch,
		Role:   p.role,
		Up:     append([]types.NodeID(nil), p.up...),
		Acting: append([]types.NodeID(nil), p.acting...),
	}
	p.mu.RUnlock()
	s.Peering = p.peer.Stats()
	return s
}

// OnPeerMessage hands admitted peer traffic to the peering engine.
func (p *PG) OnPeerMessage(from types.NodeID, payload []byte) error {
	return p.peer.OnPeerMessage(from, payload)
}

// AdvanceTo walks the group from its current epoch to target, one epoch at
// a time. Every intermediate map is observed: placement is recomputed per
// epoch and the peering engine sees each step, so interval changes in the
// middle of the walk are never skipped over. All durable effects of the
// walk, the engine's included, commit in one transaction together with the
// group's metadata. Stale targets are a no-op.
func (p *PG) AdvanceTo(ctx context.Context, maps MapSource, target types.Epoch) error {
	p.advanceMu.Lock()
	defer p.advanceMu.Unlock()

	cur := p.Epoch()
	if target <= cur {
		return nil
	}

	var (
		t       = storage.NewTransaction()
		pool    = p.poolRef()
		history = p.historyRef()
		role    int
		up      []types.NodeID
		acting  []types.NodeID
	)
	for e := cur + 1; e <= target; e++ {
		m, err := maps.Get(ctx, e)
		if err != nil {
			return fmt.Errorf("advance %s to e%d: %w", p.id, e, err)
		}
		if next, ok := m.Pool(p.id.Pool); ok {
			pool = next
		}
		up, acting, role, err = p.placer.Compute(m, p.id, p.self)
		if err != nil {
			return fmt.Errorf("place %s at e%d: %w", p.id, e, err)
		}
		role = effectiveRole(pool, p.id, role)
		if err := p.peer.AdvanceTo(t, m, peering.Seed{Role: role, Up: up, Acting: acting}); err != nil {
			return fmt.Errorf("advance %s to e%d: %w", p.id, e, err)
		}
	}

	meta := Meta{ID: p.id, Epoch: target, History: history}
	if err := meta.put(t, p.coll); err != nil {
		return err
	}
	if err := p.eng.Submit(ctx, t); err != nil {
		return fmt.Errorf("commit advance of %s to e%d: %w", p.id, target, err)
	}

	p.mu.Lock()
	p.pool = pool
	p.epoch = target
	p.role = role
	p.up = up
	p.acting = acting
	p.mu.Unlock()

	metrics.PGAdvances.Add(float64(target - cur))
	p.logger.Debug().
		Uint64("epoch", uint64(target)).
		Int("role", role).
		Msg("placement group advanced")
	return nil
}

func (p *PG) poolRef() *clustermap.Pool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pool
}

func (p *PG) historyRef() peering.History {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.history
}

// effectiveRole applies the position binding of erasure-coded groups: a
// chunk-bound identity only participates when placement puts this node at
// exactly that position. Replicated groups take whatever role placement
// assigned.
func effectiveRole(pool *clustermap.Pool, id types.PGID, role int) int {
	if pool == nil || pool.IsReplicated() {
		return role
	}
	if role != int(id.Replica) {
		return placement.RoleNone
	}
	return role
}
