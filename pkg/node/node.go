package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/shoalstore/shoal/pkg/authority"
	"github.com/shoalstore/shoal/pkg/clustermap"
	"github.com/shoalstore/shoal/pkg/events"
	"github.com/shoalstore/shoal/pkg/heartbeat"
	"github.com/shoalstore/shoal/pkg/log"
	"github.com/shoalstore/shoal/pkg/mapcache"
	"github.com/shoalstore/shoal/pkg/mapgate"
	"github.com/shoalstore/shoal/pkg/mapstore"
	"github.com/shoalstore/shoal/pkg/metrics"
	"github.com/shoalstore/shoal/pkg/peering"
	"github.com/shoalstore/shoal/pkg/pg"
	"github.com/shoalstore/shoal/pkg/placement"
	"github.com/shoalstore/shoal/pkg/storage"
	"github.com/shoalstore/shoal/pkg/transport"
	"github.com/shoalstore/shoal/pkg/types"
)

// ErrDestroyed means the newest cluster map marks this node's slot
// destroyed; the data directory must not rejoin the cluster.
var ErrDestroyed = errors.New("node: cluster map marks this node destroyed")

// Deps are the node's external collaborators. Engine, Authority and
// Transport are required. Nil optional fields fall back to defaults:
// highest-random-weight placement, the state-record peering engine, the
// wall clock, an admission-only op sink, and a private event broker.
type Deps struct {
	Engine    storage.Engine
	Authority authority.Client
	Transport transport.Transport

	Placer  placement.Placer
	Peering peering.Factory
	Clock   clockwork.Clock
	OpSink  OpSink
	Broker  *events.Broker
}

// Node is the storage-cluster node daemon: it ingests cluster maps,
// decides when it may announce itself, and owns the resident placement
// groups. A single event-loop goroutine serializes every mutation of the
// superblock, the lifecycle state, and the visible-map pointer.
type Node struct {
	cfg    Config
	logger zerolog.Logger

	eng       storage.Engine
	meta      *mapstore.Store
	cache     *mapcache.Cache
	gate      *mapgate.Gate
	registry  *pg.Map
	lifecycle *pg.Lifecycle
	hb        *heartbeat.Service
	auth      authority.Client
	tr        transport.Transport
	clock     clockwork.Clock
	sink      OpSink
	placer    placement.Placer
	peering   peering.Factory
	broker    *events.Broker
	ownBroker bool

	// visible is the newest fully-committed map snapshot. Written only by
	// the run loop, read everywhere.
	visible atomic.Pointer[clustermap.ClusterMap]

	// Run-loop-owned state. Nothing below is touched off the loop; other
	// goroutines observe it through the status snapshot.
	sb           types.Superblock
	state        types.NodeState
	upEpoch      types.Epoch
	bootEpoch    types.Epoch
	bindEpoch    types.Epoch
	lastAlive    types.Epoch
	degraded     bool
	publicAddrs  types.AddrSet
	clusterAddrs types.AddrSet

	beaconTicker clockwork.Ticker
	hbTicker     clockwork.Ticker

	statusMu   sync.RWMutex
	statusSnap Status

	eventCh  chan event
	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
	runCtx   context.Context
	runStop  context.CancelFunc

	started bool
	runErr  error
}

// New wires a node from its configuration and collaborators. The node does
// not touch storage until Start.
func New(cfg Config, deps Deps) (*Node, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("node config: %w", err)
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("node: storage engine is required")
	}
	if deps.Authority == nil {
		return nil, fmt.Errorf("node: authority client is required")
	}
	if deps.Transport == nil {
		return nil, fmt.Errorf("node: transport is required")
	}
	if deps.Placer == nil {
		deps.Placer = placement.NewHRW()
	}
	if deps.Peering == nil {
		deps.Peering = peering.NewStateEngine
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.OpSink == nil {
		deps.OpSink = ackSink{}
	}

	meta := mapstore.New(deps.Engine)
	cache, err := mapcache.New(meta, cfg.SnapshotCacheSize, cfg.BytesCacheSize)
	if err != nil {
		return nil, fmt.Errorf("node: map cache: %w", err)
	}

	runCtx, runStop := context.WithCancel(context.Background())
	n := &Node{
		cfg:      cfg,
		logger:   log.WithComponent("node"),
		eng:      deps.Engine,
		meta:     meta,
		cache:    cache,
		gate:     mapgate.New("map"),
		registry: pg.NewMap(),
		auth:     deps.Authority,
		tr:       deps.Transport,
		clock:    deps.Clock,
		sink:     deps.OpSink,
		broker:   deps.Broker,
		state:    types.NodeStateInitializing,
		eventCh:  make(chan event, 256),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		runCtx:   runCtx,
		runStop:  runStop,
	}
	if n.broker == nil {
		n.broker = events.NewBroker()
		n.broker.Start()
		n.ownBroker = true
	}
	n.visible.Store(clustermap.NewEmpty())
	n.placer = deps.Placer
	n.peering = deps.Peering
	return n, nil
}

// FormatOptions parameterize Format.
type FormatOptions struct {
	// ClusterID is the cluster this data directory belongs to. Required.
	ClusterID uuid.UUID
	// NodeID is the authority-assigned slot. Required (>= 0).
	NodeID types.NodeID
	// NodeUUID is the data directory's immutable identity; zero draws a
	// fresh one.
	NodeUUID uuid.UUID
}

// Format initializes a fresh data directory: bootstrap the engine, write
// the initial superblock and the engine identity markers, and leave the
// store unmounted. It refuses to touch an already-formatted directory.
func Format(ctx context.Context, eng storage.Engine, opts FormatOptions) (types.Superblock, error) {
	var sb types.Superblock
	if opts.ClusterID == uuid.Nil {
		return sb, fmt.Errorf("format: cluster id is required")
	}
	if opts.NodeID < 0 {
		return sb, fmt.Errorf("format: invalid node id %d", opts.NodeID)
	}
	if opts.NodeUUID == uuid.Nil {
		opts.NodeUUID = uuid.New()
	}

	if err := eng.Bootstrap(ctx); err != nil {
		return sb, fmt.Errorf("format: %w", err)
	}

	sb = types.Superblock{
		ClusterID: opts.ClusterID,
		NodeUUID:  opts.NodeUUID,
		NodeID:    opts.NodeID,
		Nonce:     uuid.New().ID(),
		Features:  types.InitialFeatures(),
	}

	meta := mapstore.New(eng)
	txn := storage.NewTransaction()
	meta.CreateMetaCollection(txn)
	if err := meta.StoreSuperblock(txn, sb); err != nil {
		return sb, fmt.Errorf("format: %w", err)
	}
	if err := eng.Submit(ctx, txn); err != nil {
		return sb, fmt.Errorf("format: %w", err)
	}

	markers := map[string]string{
		"cluster_id":   opts.ClusterID.String(),
		"node_uuid":    opts.NodeUUID.String(),
		"node_id":      opts.NodeID.String(),
		"formatted_at": time.Now().UTC().Format(time.RFC3339),
	}
	for key, value := range markers {
		if err := eng.WriteMeta(ctx, key, value); err != nil {
			return sb, fmt.Errorf("format: write %s marker: %w", key, err)
		}
	}

	if err := eng.Unmount(ctx); err != nil {
		return sb, fmt.Errorf("format: %w", err)
	}
	logger := log.WithComponent("node")
	logger.Info().
		Stringer("node", opts.NodeID).
		Str("cluster", opts.ClusterID.String()).
		Str("node_uuid", opts.NodeUUID.String()).
		Msg("data directory formatted")
	return sb, nil
}

// Start mounts the store, restores the resident placement groups, binds
// the transport, subscribes to the authority, and hands control to the
// run loop. A failure leaves the store unmounted.
func (n *Node) Start(ctx context.Context) error {
	if n.started {
		return fmt.Errorf("node: already started")
	}

	if err := n.eng.Mount(ctx); err != nil {
		metrics.SetComponent(metrics.ComponentStorage, false, err.Error())
		return fmt.Errorf("node: %w", err)
	}
	metrics.SetComponent(metrics.ComponentStorage, true, "mounted")
	if err := n.startup(ctx); err != nil {
		_ = n.eng.Unmount(ctx)
		return err
	}
	n.started = true
	go n.run()
	return nil
}

func (n *Node) startup(ctx context.Context) error {
	sb, err := n.meta.LoadSuperblock(ctx)
	if err != nil {
		return fmt.Errorf("node: %w", err)
	}
	if err := sb.Validate(); err != nil {
		return fmt.Errorf("node: superblock: %w", err)
	}
	if missing := sb.Features.MissingIncompat(types.InitialFeatures()); len(missing) > 0 {
		return fmt.Errorf("node: data directory uses features this build does not support: %v", missing)
	}
	if n.cfg.NodeID != types.NodeNone && n.cfg.NodeID != sb.NodeID {
		return fmt.Errorf("node: configured as %s but data directory belongs to %s", n.cfg.NodeID, sb.NodeID)
	}
	n.sb = sb
	n.logger = log.WithNode(sb.NodeID)
	n.lifecycle = pg.NewLifecycle(pg.LifecycleConfig{
		Self:    sb.NodeID,
		Engine:  n.eng,
		Maps:    n.cache,
		Meta:    n.meta,
		Live:    n.CurrentMap,
		Placer:  n.placer,
		Peering: n.peering,
	})
	metrics.SetNodeState(string(n.state))

	m, err := n.cache.Get(ctx, sb.CurrentEpoch)
	if err != nil {
		return fmt.Errorf("node: load current map e%d: %w", sb.CurrentEpoch, err)
	}
	n.visible.Store(m)
	n.cache.Pin(m.Epoch, m)
	n.gate.AdvancedTo(m.Epoch)
	metrics.CurrentEpoch.Set(float64(m.Epoch))
	metrics.NewestStoredEpoch.Set(float64(sb.NewestMap))
	metrics.OldestStoredEpoch.Set(float64(sb.OldestMap))
	metrics.SetComponent(metrics.ComponentMaps, true, fmt.Sprintf("e%d", m.Epoch))

	groups, err := n.lifecycle.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("node: %w", err)
	}
	for _, g := range groups {
		if err := n.registry.Insert(g.ID(), g); err != nil {
			return fmt.Errorf("node: register %s: %w", g.ID(), err)
		}
		n.publishEvent(events.EventPGLoaded, fmt.Sprintf("placement group %s restored at e%d", g.ID(), g.Epoch()),
			map[string]string{"pg": g.ID().String()})
	}

	n.tr.Attach(n, n)
	pub, clu, err := n.tr.Bind(n.cfg.PublicAddrs, n.cfg.ClusterAddrs)
	if err != nil {
		return fmt.Errorf("node: bind: %w", err)
	}
	n.publicAddrs = pub
	n.clusterAddrs = fillBlankHosts(clu, pub)
	n.hb = heartbeat.New(sb.NodeID, n.tr)

	n.logger.Info().
		Uint64("epoch", uint64(m.Epoch)).
		Int("pgs", len(groups)).
		Str("public", n.publicAddrs.String()).
		Str("cluster", n.clusterAddrs.String()).
		Msg("node started")
	n.syncStatus()
	return nil
}

// fillBlankHosts substitutes the bound public host into cluster addresses
// that were bound without one, keeping their port and nonce. The authority
// must never see a hostless endpoint.
func fillBlankHosts(addrs, from types.AddrSet) types.AddrSet {
	if len(from) == 0 {
		return addrs
	}
	out := addrs.Clone()
	for i := range out {
		if out[i].Host == "" {
			out[i].Host = from[0].Host
		}
	}
	return out
}

// run is the node's event loop. It owns every lifecycle transition.
func (n *Node) run() {
	defer close(n.doneCh)
	n.startBoot()
	for {
		select {
		case <-n.stopCh:
			n.shutdown()
			return
		case ev := <-n.eventCh:
			n.handleEvent(ev)
		case <-n.beaconC():
			n.beaconTick()
		case <-n.hbC():
			n.heartbeatTick()
		}
	}
}

func (n *Node) handleEvent(ev event) {
	switch ev := ev.(type) {
	case mapBatchEvent:
		n.handleMapBatch(ev.batch)
	case pgCreateEvent:
		go n.handlePGCreate(ev.req)
	case clientOpEvent:
		go n.admit(ev)
	case peeringMsgEvent:
		go n.dispatchPeering(ev)
	case connectionEvent:
		n.handleConnection(ev)
	}
}

func (n *Node) handleConnection(ev connectionEvent) {
	if ev.kind != transport.PeerTypeNode {
		return
	}
	n.logger.Debug().
		Stringer("peer", ev.peer).
		Stringer("change", ev.change).
		Msg("peer session changed")
}

// enqueue delivers loop-ordered traffic (map batches, creations, ops);
// it blocks rather than reorder or drop.
func (n *Node) enqueue(ev event) {
	select {
	case n.eventCh <- ev:
	case <-n.stopCh:
	}
}

// tryEnqueue delivers droppable traffic (peer datagrams, session notes).
func (n *Node) tryEnqueue(ev event) {
	select {
	case n.eventCh <- ev:
	default:
		n.logger.Warn().Msg("event queue full; dropping peer event")
	}
}

// DeliverMapBatch implements authority.Sink.
func (n *Node) DeliverMapBatch(b *authority.MapBatch) {
	n.enqueue(mapBatchEvent{batch: b})
}

// DeliverPGCreate implements authority.Sink.
func (n *Node) DeliverPGCreate(req authority.PGCreateRequest) {
	n.enqueue(pgCreateEvent{req: req})
}

// HandlePeerMessage implements transport.Handler. Heartbeat pings are
// absorbed here; everything else is routed to its placement group.
func (n *Node) HandlePeerMessage(msg transport.Message) {
	if heartbeat.IsPing(msg.Payload) {
		n.hb.Observe(msg.From)
		return
	}
	n.tryEnqueue(peeringMsgEvent{
		from:     msg.From,
		pg:       msg.PG,
		minEpoch: msg.MinEpoch,
		payload:  msg.Payload,
	})
}

// PeerConnected implements transport.Observer.
func (n *Node) PeerConnected(peer types.NodeID, kind transport.PeerType) {
	n.tryEnqueue(connectionEvent{peer: peer, kind: kind, change: connOpened})
}

// PeerReset implements transport.Observer.
func (n *Node) PeerReset(peer types.NodeID, kind transport.PeerType) {
	n.tryEnqueue(connectionEvent{peer: peer, kind: kind, change: connReset})
}

// PeerRemoteReset implements transport.Observer.
func (n *Node) PeerRemoteReset(peer types.NodeID, kind transport.PeerType) {
	n.tryEnqueue(connectionEvent{peer: peer, kind: kind, change: connRemoteReset})
}

// CurrentMap returns the newest visible map snapshot. Never nil; before
// the first real map it is the empty epoch-0 map.
func (n *Node) CurrentMap() *clustermap.ClusterMap {
	return n.visible.Load()
}

// WaitForMap blocks until the map for the requested epoch is visible, then
// returns that epoch's snapshot.
func (n *Node) WaitForMap(ctx context.Context, e types.Epoch) (*clustermap.ClusterMap, error) {
	if err := n.gate.WaitFor(ctx, e); err != nil {
		return nil, err
	}
	if m := n.visible.Load(); m.Epoch == e {
		return m, nil
	}
	return n.cache.Get(ctx, e)
}

// Registry exposes the resident placement groups.
func (n *Node) Registry() *pg.Map {
	return n.registry
}

// Events exposes the node's event broker.
func (n *Node) Events() *events.Broker {
	return n.broker
}

// Stop requests shutdown and waits for the run loop to finish.
func (n *Node) Stop(ctx context.Context) error {
	if !n.started {
		return nil
	}
	n.stopOnce.Do(func() { close(n.stopCh) })
	select {
	case <-n.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the run loop has fully shut down.
func (n *Node) Done() <-chan struct{} {
	return n.doneCh
}

// Err reports why the node stopped; nil after a requested shutdown.
func (n *Node) Err() error {
	select {
	case <-n.doneCh:
		return n.runErr
	default:
		return nil
	}
}

// fail records a fatal condition and triggers shutdown. Loop-internal.
func (n *Node) fail(err error) {
	n.logger.Error().Err(err).Msg("fatal condition; shutting down")
	metrics.SetComponent(metrics.ComponentNode, false, err.Error())
	if n.runErr == nil {
		n.runErr = err
	}
	n.stopOnce.Do(func() { close(n.stopCh) })
}

// beginStop triggers a clean shutdown from inside the loop.
func (n *Node) beginStop() {
	n.stopOnce.Do(func() { close(n.stopCh) })
}

func (n *Node) shutdown() {
	ctx := context.Background()
	n.setState(types.NodeStateStopping)
	n.disarmTickers()
	n.gate.Close(errors.New("node stopping"))
	n.registry.Close(errors.New("node stopping"))
	n.runStop()

	// Mark how far this incarnation got before unmounting.
	m := n.visible.Load()
	if n.bootEpoch != types.EpochNone && n.bootEpoch >= n.sb.Mounted {
		n.sb.Mounted = n.bootEpoch
		n.sb.CleanThru = m.Epoch
	}
	txn := storage.NewTransaction()
	if err := n.meta.StoreSuperblock(txn, n.sb); err != nil {
		n.logger.Error().Err(err).Msg("final superblock encode failed")
	} else if err := n.eng.Submit(ctx, txn); err != nil {
		n.logger.Error().Err(err).Msg("final superblock write failed")
	}

	if err := n.tr.Close(); err != nil {
		n.logger.Warn().Err(err).Msg("transport close failed")
	}
	if err := n.eng.Unmount(ctx); err != nil {
		n.logger.Error().Err(err).Msg("unmount failed")
	}
	if n.ownBroker {
		n.broker.Stop()
	}
	n.setState(types.NodeStateStopped)
	n.logger.Info().Uint64("clean_thru", uint64(n.sb.CleanThru)).Msg("node stopped")
}

func (n *Node) setState(s types.NodeState) {
	if n.state == s {
		return
	}
	prev := n.state
	n.state = s
	metrics.SetNodeState(string(s))
	if n.runErr == nil {
		metrics.SetComponent(metrics.ComponentNode, true, string(s))
	}
	n.logger.Info().Str("from", string(prev)).Str("to", string(s)).Msg("state changed")
	n.publishEvent(events.EventNodeStateChanged, fmt.Sprintf("%s -> %s", prev, s),
		map[string]string{"from": string(prev), "to": string(s)})
	n.syncStatus()
}

func (n *Node) publishEvent(kind events.EventType, msg string, meta map[string]string) {
	if n.broker == nil {
		return
	}
	n.broker.Publish(&events.Event{
		ID:        uuid.NewString(),
		Type:      kind,
		Timestamp: n.clock.Now(),
		Message:   msg,
		Metadata:  meta,
	})
}

// send delivers one report to the authority and counts it.
func (n *Node) send(msg authority.Message) {
	if err := n.auth.Send(n.runCtx, msg); err != nil {
		n.logger.Error().Err(err).Str("kind", msg.Kind()).Msg("authority send failed")
		return
	}
	metrics.AuthorityMessages.WithLabelValues(msg.Kind()).Inc()
}

func (n *Node) subscribe(start types.Epoch, full bool) {
	if err := n.auth.Subscribe(start, full); err != nil {
		n.logger.Error().Err(err).Uint64("start", uint64(start)).Msg("map subscription failed")
		return
	}
	n.logger.Debug().Uint64("start", uint64(start)).Bool("full", full).Msg("subscribed for maps")
}
