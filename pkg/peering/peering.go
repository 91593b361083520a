package peering

import (
	"context"

	"github.com/shoalstore/shoal/pkg/clustermap"
	"github.com/shoalstore/shoal/pkg/storage"
	"github.com/shoalstore/shoal/pkg/types"
)

// History is the creation lineage a placement group carries for its whole
// life. It seeds interval reasoning inside the engine.
type History struct {
	// Created is the epoch the group was created at.
	Created types.Epoch `json:"created"`
	// SameIntervalSince is the epoch the current stable interval began.
	SameIntervalSince types.Epoch `json:"same_interval_since"`
}

// Seed is the placement input an engine observes at init and at every
// epoch advance.
type Seed struct {
	Role   int            `json:"role"`
	Up     []types.NodeID `json:"up"`
	Acting []types.NodeID `json:"acting"`
}

// Stats is the engine's externally visible condition, reported in beacons
// and on the admin surface.
type Stats struct {
	State             string      `json:"state"`
	Role              int         `json:"role"`
	SameIntervalSince types.Epoch `json:"same_interval_since"`
}

// Engine is the placement group's internal consensus machinery, seen from
// the lifecycle manager. The daemon initializes it inside the creation
// transaction, feeds it every map epoch in order, restores it at startup,
// and routes peer traffic to it. What it does inside is its business.
type Engine interface {
	// Init persists the engine's initial state into the creation
	// transaction.
	Init(t *storage.Transaction, h History, s Seed) error
	// AdvanceTo observes one map epoch. Changes the engine wants durable
	// go into the caller's transaction, committed with the group's
	// metadata for the same epoch.
	AdvanceTo(t *storage.Transaction, m *clustermap.ClusterMap, s Seed) error
	// Restore reloads on-disk state at startup. Failure means the group
	// is unusable and startup must abort.
	Restore(ctx context.Context) error
	// OnPeerMessage receives traffic other nodes address to this group.
	OnPeerMessage(from types.NodeID, payload []byte) error
	// Stats snapshots the engine's condition.
	Stats() Stats
}

// Factory builds the engine for one placement group's collection.
type Factory func(pgid types.PGID, coll storage.CollectionID, eng storage.Engine) Engine
