// Package framework is the in-process test harness: a standalone map
// authority, a loopback transport fabric, and helpers to format and run
// node daemons against them inside one test binary.
package framework

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/shoalstore/shoal/pkg/authority"
	"github.com/shoalstore/shoal/pkg/log"
	"github.com/shoalstore/shoal/pkg/node"
	"github.com/shoalstore/shoal/pkg/storage"
	"github.com/shoalstore/shoal/pkg/transport"
	"github.com/shoalstore/shoal/pkg/types"
)

// Harness is one simulated cluster. Every node shares the authority and
// the fabric; each owns a private bbolt store under the test's temp
// directory.
type Harness struct {
	T         *testing.T
	ClusterID uuid.UUID
	Auth      *authority.Standalone
	Fabric    *transport.Fabric
}

// New builds an empty cluster. No map exists until the first Publish or
// boot announcement.
func New(t *testing.T) *Harness {
	t.Helper()
	log.Init(log.Config{Level: log.ErrorLevel, Output: io.Discard})
	clusterID := uuid.New()
	return &Harness{
		T:         t,
		ClusterID: clusterID,
		Auth:      authority.NewStandalone(clusterID),
		Fabric:    transport.NewFabric(),
	}
}

// TestNode is one daemon under test plus the handles the test drives it
// through.
type TestNode struct {
	ID      types.NodeID
	DataDir string
	Engine  storage.Engine
	Handle  *authority.NodeHandle
	Node    *node.Node
}

// Format prepares a fresh data directory for the given node id.
func (h *Harness) Format(id types.NodeID) *TestNode {
	h.T.Helper()
	dir := h.T.TempDir()
	eng := storage.NewBoltEngine(dir)
	_, err := node.Format(context.Background(), eng, node.FormatOptions{
		ClusterID: h.ClusterID,
		NodeID:    id,
	})
	require.NoError(h.T, err)
	return &TestNode{
		ID:      id,
		DataDir: dir,
		Engine:  eng,
		Handle:  h.Auth.NodeClient(id),
	}
}

// Start builds and starts the daemon on a formatted directory. Mutators
// may adjust the config or dependencies before construction (fake clocks,
// op sinks, placers).
func (h *Harness) Start(tn *TestNode, mutate ...func(*node.Config, *node.Deps)) *node.Node {
	h.T.Helper()
	cfg := node.Config{
		DataDir:           tn.DataDir,
		NodeID:            tn.ID,
		BeaconInterval:    100 * time.Millisecond,
		HeartbeatInterval: 50 * time.Millisecond,
	}
	deps := node.Deps{
		Engine:    tn.Engine,
		Authority: tn.Handle,
		Transport: h.Fabric.Endpoint(tn.ID),
	}
	for _, m := range mutate {
		m(&cfg, &deps)
	}

	n, err := node.New(cfg, deps)
	require.NoError(h.T, err)
	tn.Handle.SetSink(n)
	require.NoError(h.T, n.Start(context.Background()))
	tn.Node = n

	h.T.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = n.Stop(ctx)
	})
	return n
}

// StartNode formats and starts a node in one step.
func (h *Harness) StartNode(id types.NodeID, mutate ...func(*node.Config, *node.Deps)) *TestNode {
	h.T.Helper()
	tn := h.Format(id)
	h.Start(tn, mutate...)
	return tn
}
