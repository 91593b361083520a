package heartbeat

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shoalstore/shoal/pkg/log"
	"github.com/shoalstore/shoal/pkg/transport"
	"github.com/shoalstore/shoal/pkg/types"
)

// pingPayload marks node-level liveness frames on the wire, distinct from
// placement-group traffic.
var pingPayload = []byte("shoal.hb/1")

// IsPing reports whether an inbound frame is a liveness ping.
func IsPing(payload []byte) bool {
	return bytes.Equal(payload, pingPayload)
}

type peerInfo struct {
	wantedAt types.Epoch
	lastSeen time.Time
}

// PeerStatus is one peer's entry on the admin surface.
type PeerStatus struct {
	ID       types.NodeID `json:"id"`
	WantedAt types.Epoch  `json:"wanted_at"`
	LastSeen time.Time    `json:"last_seen,omitzero"`
}

// Service maintains the peer set this node keeps liveness sessions with.
// The set is derived, never configured: every node appearing in a resident
// group's up or acting set is a peer, refreshed against the epoch that
// named it and pruned when newer epochs stop naming it.
type Service struct {
	self   types.NodeID
	tr     transport.Transport
	logger zerolog.Logger

	mu    sync.Mutex
	peers map[types.NodeID]*peerInfo
}

// New returns an empty service.
func New(self types.NodeID, tr transport.Transport) *Service {
	return &Service{
		self:   self,
		tr:     tr,
		logger: log.WithComponent("heartbeat"),
		peers:  map[types.NodeID]*peerInfo{},
	}
}

// AddPeer marks a peer as wanted at the given epoch. Self is never a peer.
func (s *Service) AddPeer(id types.NodeID, e types.Epoch) {
	if id == s.self || id == types.NodeNone {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.peers[id]
	if !ok {
		info = &peerInfo{}
		s.peers[id] = info
		s.logger.Debug().Stringer("peer", id).Uint64("epoch", uint64(e)).Msg("peer added")
	}
	if e > info.wantedAt {
		info.wantedAt = e
	}
}

// Prune drops peers no group wanted at or after the cutoff epoch and
// returns the removed ids.
func (s *Service) Prune(cutoff types.Epoch) []types.NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []types.NodeID
	for id, info := range s.peers {
		if info.wantedAt < cutoff {
			delete(s.peers, id)
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		s.logger.Debug().Int("count", len(removed)).Msg("stale peers pruned")
	}
	return types.SortNodeIDs(removed)
}

// Observe records an inbound ping from a peer. Pings from nodes that are
// not wanted peers are ignored; the sender prunes on its own schedule.
func (s *Service) Observe(from types.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info, ok := s.peers[from]; ok {
		info.lastSeen = time.Now()
	}
}

// Ping sends one liveness frame to every peer and returns how many were
// reachable. Unreachable peers are expected (that is what heartbeats are
// for) and only logged.
func (s *Service) Ping(ctx context.Context, epoch types.Epoch) int {
	sent := 0
	for _, id := range s.Peers() {
		err := s.tr.Send(ctx, id, transport.Message{
			MinEpoch: epoch,
			Payload:  pingPayload,
		})
		switch {
		case err == nil:
			sent++
		case errors.Is(err, transport.ErrPeerUnreachable):
			s.logger.Debug().Stringer("peer", id).Msg("peer unreachable")
		default:
			s.logger.Warn().Err(err).Stringer("peer", id).Msg("heartbeat send failed")
		}
	}
	return sent
}

// Peers returns the wanted peer set, sorted.
func (s *Service) Peers() []types.NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.NodeID, 0, len(s.peers))
	for id := range s.peers {
		out = append(out, id)
	}
	return types.SortNodeIDs(out)
}

// Len counts wanted peers.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Snapshot returns the peer set for the admin surface, sorted by id.
func (s *Service) Snapshot() []PeerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PeerStatus, 0, len(s.peers))
	for id, info := range s.peers {
		out = append(out, PeerStatus{ID: id, WantedAt: info.wantedAt, LastSeen: info.lastSeen})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
