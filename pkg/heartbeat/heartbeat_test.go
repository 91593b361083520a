package heartbeat

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoalstore/shoal/pkg/transport"
	"github.com/shoalstore/shoal/pkg/types"
)

type pingSink struct {
	mu   sync.Mutex
	from []types.NodeID
}

func (p *pingSink) HandlePeerMessage(msg transport.Message) {
	if !IsPing(msg.Payload) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.from = append(p.from, msg.From)
}

func (p *pingSink) senders() []types.NodeID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return types.SortNodeIDs(append([]types.NodeID(nil), p.from...))
}

func TestPeerSetMaintenance(t *testing.T) {
	fabric := transport.NewFabric()
	ep := fabric.Endpoint(1)
	svc := New(1, ep)

	svc.AddPeer(2, 5)
	svc.AddPeer(3, 5)
	svc.AddPeer(1, 5) // self, ignored
	svc.AddPeer(types.NodeNone, 5)

	assert.Equal(t, []types.NodeID{2, 3}, svc.Peers())

	// Epoch 6 still wants node 2 but not node 3.
	svc.AddPeer(2, 6)
	removed := svc.Prune(6)
	assert.Equal(t, []types.NodeID{3}, removed)
	assert.Equal(t, []types.NodeID{2}, svc.Peers())
	assert.Equal(t, 1, svc.Len())
}

func TestAddPeerKeepsNewestEpoch(t *testing.T) {
	fabric := transport.NewFabric()
	svc := New(1, fabric.Endpoint(1))

	svc.AddPeer(2, 7)
	svc.AddPeer(2, 4) // older refresh must not regress

	assert.Empty(t, svc.Prune(7), "peer wanted at e7 survives an e7 prune")
	assert.Equal(t, []types.NodeID{2}, svc.Peers())
}

func TestPingReachesPeers(t *testing.T) {
	fabric := transport.NewFabric()
	ctx := context.Background()

	self := fabric.Endpoint(1)
	_, _, err := self.Bind(nil, nil)
	require.NoError(t, err)

	sink := &pingSink{}
	peer := fabric.Endpoint(2)
	peer.Attach(sink, nil)
	_, _, err = peer.Bind(nil, nil)
	require.NoError(t, err)

	svc := New(1, self)
	svc.AddPeer(2, 3)
	svc.AddPeer(9, 3) // never bound, unreachable

	sent := svc.Ping(ctx, 3)
	assert.Equal(t, 1, sent)
	assert.Equal(t, []types.NodeID{1}, sink.senders())
}

func TestObserveTracksLastSeen(t *testing.T) {
	fabric := transport.NewFabric()
	svc := New(1, fabric.Endpoint(1))

	svc.AddPeer(2, 3)
	svc.Observe(2)
	svc.Observe(7) // not a peer, ignored

	snap := svc.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, types.NodeID(2), snap[0].ID)
	assert.Equal(t, types.Epoch(3), snap[0].WantedAt)
	assert.False(t, snap[0].LastSeen.IsZero())
}
