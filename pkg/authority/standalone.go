package authority

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shoalstore/shoal/pkg/clustermap"
	"github.com/shoalstore/shoal/pkg/log"
	"github.com/shoalstore/shoal/pkg/types"
)

// Sink receives authority-pushed traffic: map batches and placement-group
// creation requests. The node's inbound entrypoints satisfy it.
type Sink interface {
	DeliverMapBatch(b *MapBatch)
	DeliverPGCreate(req PGCreateRequest)
}

// Standalone is an in-process map authority. It owns the authoritative map
// history for one cluster, answers version-bound queries, pushes batches
// to subscribed nodes, and reacts to boot announcements by publishing a
// new epoch that marks the sender up at its announced addresses.
//
// It exists for single-process deployments and tests. A clustered
// deployment replaces it with a Client speaking to the real quorum; the
// node cannot tell the difference.
type Standalone struct {
	logger zerolog.Logger

	// deliverMu serializes batch fan-out so subscribers observe epochs in
	// publish order.
	deliverMu sync.Mutex

	mu        sync.Mutex
	clusterID uuid.UUID
	newest    types.Epoch
	oldest    types.Epoch
	fulls     map[types.Epoch][]byte
	incs      map[types.Epoch][]byte
	current   *clustermap.ClusterMap
	handles   map[types.NodeID]*NodeHandle
	autoUp    bool
	reports   []Message
}

// NewStandalone returns an authority for a fresh cluster. No map exists
// until the first Publish.
func NewStandalone(clusterID uuid.UUID) *Standalone {
	return &Standalone{
		logger:    log.WithComponent("authority"),
		clusterID: clusterID,
		fulls:     map[types.Epoch][]byte{},
		incs:      map[types.Epoch][]byte{},
		current:   clustermap.NewEmpty(),
		handles:   map[types.NodeID]*NodeHandle{},
		autoUp:    true,
	}
}

// ClusterID returns the cluster this authority serves.
func (s *Standalone) ClusterID() uuid.UUID {
	return s.clusterID
}

// SetAutoUp controls whether boot announcements are honored immediately.
// Tests disable it to hold nodes in their booting state.
func (s *Standalone) SetAutoUp(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoUp = v
}

// Newest returns the newest published epoch, zero before the first
// Publish.
func (s *Standalone) Newest() types.Epoch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newest
}

// Current returns the newest published map, the empty map before the
// first Publish.
func (s *Standalone) Current() *clustermap.ClusterMap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Publish applies one incremental, assigning it the next epoch, and pushes
// the result to every subscriber. The incremental's Epoch and ClusterID
// fields are owned by the authority and overwritten.
func (s *Standalone) Publish(inc *clustermap.Incremental) (types.Epoch, error) {
	s.mu.Lock()
	epoch, pending, err := s.publishLocked(inc)
	if err != nil {
		s.mu.Unlock()
		return types.EpochNone, err
	}
	s.deliverMu.Lock()
	s.mu.Unlock()

	s.deliver(pending)
	s.deliverMu.Unlock()
	return epoch, nil
}

type delivery struct {
	sink  Sink
	batch *MapBatch
}

func (s *Standalone) publishLocked(inc *clustermap.Incremental) (types.Epoch, []delivery, error) {
	epoch := s.newest + 1
	inc.Epoch = epoch
	inc.ClusterID = s.clusterID
	if inc.Modified.IsZero() {
		inc.Modified = time.Now().UTC()
	}

	next := s.current.Clone()
	if err := next.Apply(inc); err != nil {
		return types.EpochNone, nil, fmt.Errorf("publish e%d: %w", epoch, err)
	}

	full, err := clustermap.Encode(next)
	if err != nil {
		return types.EpochNone, nil, fmt.Errorf("publish e%d: %w", epoch, err)
	}
	encInc, err := clustermap.EncodeIncremental(inc)
	if err != nil {
		return types.EpochNone, nil, fmt.Errorf("publish e%d: %w", epoch, err)
	}

	s.current = next
	s.newest = epoch
	if s.oldest == types.EpochNone {
		s.oldest = epoch
	}
	s.fulls[epoch] = full
	s.incs[epoch] = encInc

	s.logger.Debug().Uint64("epoch", uint64(epoch)).Msg("map published")
	return epoch, s.pendingLocked(), nil
}

// pendingLocked builds the batches owed to subscribers and advances their
// cursors.
func (s *Standalone) pendingLocked() []delivery {
	var out []delivery
	for _, h := range s.handles {
		h.mu.Lock()
		active, next, full, sink := h.active, h.next, h.full, h.sink
		if active && next <= s.newest && sink != nil {
			batch := s.buildBatchLocked(next, full)
			h.next = s.newest + 1
			h.full = false
			out = append(out, delivery{sink: sink, batch: batch})
		}
		h.mu.Unlock()
	}
	return out
}

func (s *Standalone) buildBatchLocked(start types.Epoch, full bool) *MapBatch {
	if start < s.oldest {
		start = s.oldest
		full = true
	}
	batch := &MapBatch{
		ClusterID:     s.clusterID,
		First:         start,
		Last:          s.newest,
		Bounds:        VersionBounds{Oldest: s.oldest, Newest: s.newest},
		Fulls:         map[types.Epoch][]byte{},
		Incrementals:  map[types.Epoch][]byte{},
		FromAuthority: true,
	}
	for e := start; e <= s.newest; e++ {
		if e == start && full {
			batch.Fulls[e] = s.fulls[e]
			continue
		}
		// Imported history has no incrementals; serve those epochs full.
		if inc, ok := s.incs[e]; ok {
			batch.Incrementals[e] = inc
		} else {
			batch.Fulls[e] = s.fulls[e]
		}
	}
	return batch
}

// Import installs one epoch of pre-existing history from its full
// encoding. Epochs must arrive in ascending order before any Publish or
// subscription; a standalone deployment restarting uses this to rebuild
// the authority's memory from the node's own stored maps.
func (s *Standalone) Import(full []byte) error {
	m, err := clustermap.Decode(full)
	if err != nil {
		return fmt.Errorf("import map: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ClusterID != s.clusterID {
		return fmt.Errorf("import map e%d: cluster %s does not match %s", m.Epoch, m.ClusterID, s.clusterID)
	}
	if m.Epoch <= s.newest {
		return fmt.Errorf("import map e%d: already at e%d", m.Epoch, s.newest)
	}
	s.current = m
	s.newest = m.Epoch
	if s.oldest == types.EpochNone {
		s.oldest = m.Epoch
	}
	s.fulls[m.Epoch] = full
	return nil
}

func (s *Standalone) deliver(pending []delivery) {
	for _, d := range pending {
		d.sink.DeliverMapBatch(d.batch)
	}
}

// deliverAsync consumes the pending batches on their own goroutine. The
// caller holds deliverMu, taken while the batch decision was fresh, and
// this goroutine releases it once the sinks have consumed everything, so
// a concurrent Publish cannot overtake. Subscribe and Send need this
// path: the node calls them from its own event loop, and a synchronous
// push back into that loop would deadlock once its inbox is full.
func (s *Standalone) deliverAsync(pending []delivery) {
	go func() {
		defer s.deliverMu.Unlock()
		s.deliver(pending)
	}()
}

// TrimTo raises the retention floor: epochs below oldest are dropped and
// can only be served as full snapshots of newer epochs.
func (s *Standalone) TrimTo(oldest types.Epoch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if oldest <= s.oldest || oldest > s.newest {
		return
	}
	for e := s.oldest; e < oldest; e++ {
		delete(s.fulls, e)
		delete(s.incs, e)
	}
	s.oldest = oldest
}

// SendPGCreate pushes one creation request to a node. The caller decides
// which node should host the group; the authority only routes.
func (s *Standalone) SendPGCreate(to types.NodeID, req PGCreateRequest) error {
	s.mu.Lock()
	h, ok := s.handles[to]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("node %s has no handle", to)
	}
	sink := h.sinkRef()
	if sink == nil {
		return fmt.Errorf("node %s has no sink attached", to)
	}
	sink.DeliverPGCreate(req)
	return nil
}

// Reports snapshots every message nodes have sent, in arrival order.
func (s *Standalone) Reports() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.reports))
	copy(out, s.reports)
	return out
}

func (s *Standalone) receive(from types.NodeID, msg Message) error {
	s.mu.Lock()
	s.reports = append(s.reports, msg)

	boot, ok := msg.(*BootAnnouncement)
	if !ok || !s.autoUp {
		s.mu.Unlock()
		return nil
	}

	// Mark the sender up at its announced addresses in a fresh epoch.
	id := boot.Superblock.NodeID
	member := &clustermap.Member{Weight: 1}
	if cur, exists := s.current.Member(id); exists {
		member = cur.Clone()
	}
	member.Up = true
	member.Destroyed = false
	member.DownAt = types.EpochNone
	member.UpFrom = s.newest + 1
	member.PublicAddrs = boot.PublicAddrs.Clone()
	member.ClusterAddrs = boot.ClusterAddrs.Clone()

	_, pending, err := s.publishLocked(&clustermap.Incremental{
		Members: map[types.NodeID]*clustermap.Member{id: member},
	})
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.deliverMu.Lock()
	s.mu.Unlock()

	s.logger.Info().Stringer("node", id).Msg("boot announcement honored")
	s.deliverAsync(pending)
	return nil
}

func (s *Standalone) subscribe(h *NodeHandle, start types.Epoch, force bool) error {
	s.mu.Lock()

	h.mu.Lock()
	if h.active && !force && h.next <= start {
		// The existing subscription already covers this span.
		h.mu.Unlock()
		s.mu.Unlock()
		return nil
	}
	h.active = true
	h.next = start
	h.full = h.full || force
	sink := h.sink

	var pending []delivery
	if sink != nil && s.newest != types.EpochNone && h.next <= s.newest {
		batch := s.buildBatchLocked(h.next, h.full)
		h.next = s.newest + 1
		h.full = false
		pending = append(pending, delivery{sink: sink, batch: batch})
	}
	h.mu.Unlock()

	s.deliverMu.Lock()
	s.mu.Unlock()

	s.deliverAsync(pending)
	return nil
}

// NodeClient returns this node's Client handle. Attach the node as sink
// before starting it; pushes before that are dropped.
func (s *Standalone) NodeClient(id types.NodeID) *NodeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.handles[id]; ok {
		return h
	}
	h := &NodeHandle{auth: s, id: id}
	s.handles[id] = h
	return h
}

// NodeHandle binds one node's identity to the standalone authority.
type NodeHandle struct {
	auth *Standalone
	id   types.NodeID

	mu     sync.Mutex
	sink   Sink
	active bool
	next   types.Epoch
	full   bool
}

var _ Client = (*NodeHandle)(nil)

// SetSink attaches the node's inbound entrypoints.
func (h *NodeHandle) SetSink(sink Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sink = sink
}

func (h *NodeHandle) sinkRef() Sink {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sink
}

// Subscribe implements Client.
func (h *NodeHandle) Subscribe(start types.Epoch, force bool) error {
	return h.auth.subscribe(h, start, force)
}

// VersionBounds implements Client.
func (h *NodeHandle) VersionBounds(ctx context.Context) (VersionBounds, error) {
	if err := ctx.Err(); err != nil {
		return VersionBounds{}, err
	}
	h.auth.mu.Lock()
	defer h.auth.mu.Unlock()
	return VersionBounds{Oldest: h.auth.oldest, Newest: h.auth.newest}, nil
}

// Send implements Client.
func (h *NodeHandle) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return h.auth.receive(h.id, msg)
}
