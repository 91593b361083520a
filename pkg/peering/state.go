package peering

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/shoalstore/shoal/pkg/clustermap"
	"github.com/shoalstore/shoal/pkg/log"
	"github.com/shoalstore/shoal/pkg/placement"
	"github.com/shoalstore/shoal/pkg/storage"
	"github.com/shoalstore/shoal/pkg/types"
)

const stateKey = "peering"

// Group condition names reported through Stats.
const (
	StatePeering = "peering"
	StateActive  = "active"
	StateStray   = "stray"
)

type stateRecord struct {
	History History `json:"history"`
	Seed    Seed    `json:"seed"`
	State   string  `json:"state"`
}

// StateEngine is the in-tree Engine: it tracks interval changes and
// persists its record alongside the group's metadata. It does not talk to
// other replicas; a clustered deployment swaps in a real engine through
// the Factory.
type StateEngine struct {
	pgid   types.PGID
	coll   storage.CollectionID
	eng    storage.Engine
	logger zerolog.Logger

	mu  sync.Mutex
	rec stateRecord
}

// NewStateEngine is the default Factory.
func NewStateEngine(pgid types.PGID, coll storage.CollectionID, eng storage.Engine) Engine {
	return &StateEngine{
		pgid:   pgid,
		coll:   coll,
		eng:    eng,
		logger: log.WithComponent("peering").With().Stringer("pg", pgid).Logger(),
	}
}

func classify(s Seed) string {
	if s.Role == placement.RoleNone {
		return StateStray
	}
	return StatePeering
}

// Init implements Engine.
func (e *StateEngine) Init(t *storage.Transaction, h History, s Seed) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if h.SameIntervalSince == types.EpochNone {
		h.SameIntervalSince = h.Created
	}
	e.rec = stateRecord{History: h, Seed: s, State: classify(s)}
	return e.put(t)
}

// AdvanceTo implements Engine. A change in role or membership starts a new
// interval; an unchanged interval settles from peering to active.
func (e *StateEngine) AdvanceTo(t *storage.Transaction, m *clustermap.ClusterMap, s Seed) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.rec.Seed
	intervalChanged := old.Role != s.Role ||
		!nodeIDsEqual(old.Up, s.Up) ||
		!nodeIDsEqual(old.Acting, s.Acting)

	e.rec.Seed = s
	switch {
	case intervalChanged:
		e.rec.History.SameIntervalSince = m.Epoch
		e.rec.State = classify(s)
	case e.rec.State == StatePeering && s.Role != placement.RoleNone:
		e.rec.State = StateActive
	}
	return e.put(t)
}

// Restore implements Engine.
func (e *StateEngine) Restore(ctx context.Context) error {
	b, err := e.eng.Get(ctx, e.coll, stateKey)
	if err != nil {
		return fmt.Errorf("restore peering state for %s: %w", e.pgid, err)
	}
	var rec stateRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return fmt.Errorf("decode peering state for %s: %w", e.pgid, err)
	}

	e.mu.Lock()
	e.rec = rec
	e.mu.Unlock()
	e.logger.Debug().Str("state", rec.State).Msg("peering state restored")
	return nil
}

// OnPeerMessage implements Engine. The in-tree engine has no peers to
// converse with; traffic is acknowledged and logged.
func (e *StateEngine) OnPeerMessage(from types.NodeID, payload []byte) error {
	e.logger.Debug().
		Stringer("from", from).
		Int("bytes", len(payload)).
		Msg("peer message received")
	return nil
}

// Stats implements Engine.
func (e *StateEngine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		State:             e.rec.State,
		Role:              e.rec.Seed.Role,
		SameIntervalSince: e.rec.History.SameIntervalSince,
	}
}

func (e *StateEngine) put(t *storage.Transaction) error {
	b, err := json.Marshal(e.rec)
	if err != nil {
		return fmt.Errorf("encode peering state for %s: %w", e.pgid, err)
	}
	t.Put(e.coll, stateKey, b)
	return nil
}

func nodeIDsEqual(a, b []types.NodeID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
