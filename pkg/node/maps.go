package node

import (
	"fmt"
	"sync"
	"time"

	"github.com/shoalstore/shoal/pkg/authority"
	"github.com/shoalstore/shoal/pkg/clustermap"
	"github.com/shoalstore/shoal/pkg/events"
	"github.com/shoalstore/shoal/pkg/mapstore"
	"github.com/shoalstore/shoal/pkg/metrics"
	"github.com/shoalstore/shoal/pkg/pg"
	"github.com/shoalstore/shoal/pkg/storage"
	"github.com/shoalstore/shoal/pkg/types"
)

// handleMapBatch is the map ingestion protocol. It runs on the event loop,
// so at most one batch is ever in flight: the superblock and the visible
// epoch have a single writer.
//
// A batch either commits whole (every epoch in range persisted together
// with the updated superblock, then made visible strictly in order) or has
// no effect beyond a resubscription for whatever was missing.
func (n *Node) handleMapBatch(b *authority.MapBatch) {
	if n.state == types.NodeStateInitializing || n.state.IsStopping() {
		return
	}
	if b.ClusterID != n.sb.ClusterID {
		metrics.MapBatchesDropped.WithLabelValues("foreign_cluster").Inc()
		n.logger.Warn().
			Str("cluster", b.ClusterID.String()).
			Msg("dropping map batch from foreign cluster")
		return
	}
	if b.Empty() || b.Last <= n.sb.NewestMap {
		metrics.MapBatchesDropped.WithLabelValues("stale").Inc()
		n.logger.Debug().
			Uint64("first", uint64(b.First)).
			Uint64("last", uint64(b.Last)).
			Uint64("newest", uint64(n.sb.NewestMap)).
			Msg("dropping stale map batch")
		return
	}

	// Epochs the node already stores are not re-applied.
	first, last := b.First, b.Last
	if first <= n.sb.NewestMap {
		first = n.sb.NewestMap + 1
	}

	// A leading gap can only be crossed with a full snapshot for the gap's
	// far side; incrementals need the epoch before them. Without one, ask
	// the authority for the missing span: delta mode while it still retains
	// the epochs right after ours, full mode once it has trimmed past them.
	if first > n.sb.NewestMap+1 && !hasFull(b, first) {
		metrics.MapBatchesDropped.WithLabelValues("gap").Inc()
		n.logger.Info().
			Uint64("have", uint64(n.sb.NewestMap)).
			Uint64("first", uint64(first)).
			Uint64("oldest_known", uint64(b.Bounds.Oldest)).
			Msg("map batch leaves a gap; requesting missing range")
		if b.Bounds.Oldest <= n.sb.NewestMap+1 {
			n.subscribe(n.sb.NewestMap+1, false)
		} else {
			n.subscribe(b.Bounds.Oldest-1, true)
		}
		return
	}

	applied, txn, ok := n.decodeBatch(b, first, last)
	if !ok {
		return
	}

	sb := n.sb
	if sb.OldestMap == types.EpochNone || first > sb.NewestMap+1 {
		// First maps ever, or a full snapshot jumped a trimmed gap: the
		// contiguous local range restarts at first.
		sb.OldestMap = first
	}
	sb.NewestMap = last
	sb.CurrentEpoch = last
	if n.state == types.NodeStateActive && n.upEpoch != types.EpochNone {
		sb.CleanThru = last
	}
	if err := n.meta.StoreSuperblock(txn, sb); err != nil {
		n.fail(err)
		return
	}

	start := time.Now()
	if err := n.eng.Submit(n.runCtx, txn); err != nil {
		n.fail(fmt.Errorf("commit map batch [%d,%d]: %w", first, last, err))
		return
	}
	metrics.MapBatchCommitDuration.Observe(time.Since(start).Seconds())
	n.sb = sb
	metrics.NewestStoredEpoch.Set(float64(sb.NewestMap))
	metrics.OldestStoredEpoch.Set(float64(sb.OldestMap))
	metrics.SetComponent(metrics.ComponentMaps, true, fmt.Sprintf("e%d", sb.NewestMap))

	// Advance the visible epoch one map at a time. Every intermediate
	// snapshot is observed: address changes and became-up markers in the
	// middle of a batch must not be skipped over.
	for _, m := range applied {
		n.visible.Store(m)
		n.cache.Pin(m.Epoch, m)
		n.gate.AdvancedTo(m.Epoch)
		kind := "incremental"
		if hasFull(b, m.Epoch) {
			kind = "full"
		}
		metrics.MapsApplied.WithLabelValues(kind).Inc()
		metrics.CurrentEpoch.Set(float64(m.Epoch))
		n.observeCommitted(m)
	}

	final := n.visible.Load()
	n.logger.Info().
		Uint64("first", uint64(first)).
		Uint64("last", uint64(last)).
		Str("map", final.Summary()).
		Msg("map batch committed")
	n.publishEvent(events.EventMapAdvanced, final.Summary(),
		map[string]string{"epoch": fmt.Sprintf("%d", final.Epoch)})

	n.advanceGroups(final.Epoch)

	if n.state == types.NodeStatePreboot {
		n.preboot(b.Bounds)
	}
	n.syncStatus()
}

// decodeBatch turns the batch's epoch range into decoded snapshots and a
// transaction of their canonical full encodings. Incrementals are applied
// to the previous epoch's snapshot and re-encoded before they reach disk;
// a stored map record never requires replay to read back.
func (n *Node) decodeBatch(b *authority.MapBatch, first, last types.Epoch) ([]*clustermap.ClusterMap, *storage.Transaction, bool) {
	txn := storage.NewTransaction()
	applied := make([]*clustermap.ClusterMap, 0, last-first+1)
	prev := n.visible.Load()

	for e := first; e <= last; e++ {
		var m *clustermap.ClusterMap
		switch {
		case b.Fulls[e] != nil:
			decoded, err := clustermap.Decode(b.Fulls[e])
			if err != nil || decoded.Epoch != e {
				n.rejectBatch(e, err)
				return nil, nil, false
			}
			n.cache.StoreBytes(txn, e, b.Fulls[e])
			m = decoded

		case b.Incrementals[e] != nil:
			inc, err := clustermap.DecodeIncremental(b.Incrementals[e])
			if err != nil {
				n.rejectBatch(e, err)
				return nil, nil, false
			}
			base := prev
			if base.Epoch != e-1 {
				base, err = n.cache.Get(n.runCtx, e-1)
				if err != nil {
					// Local map history is unreadable; nothing to resubscribe
					// for.
					n.fail(err)
					return nil, nil, false
				}
			}
			next := base.Clone()
			if err := next.Apply(inc); err != nil {
				n.rejectBatch(e, err)
				return nil, nil, false
			}
			enc, err := clustermap.Encode(next)
			if err != nil {
				n.fail(err)
				return nil, nil, false
			}
			n.cache.StoreBytes(txn, e, enc)
			m = next

		default:
			n.rejectBatch(e, fmt.Errorf("batch [%d,%d] carries nothing for e%d", b.First, b.Last, e))
			return nil, nil, false
		}

		// Pools this epoch deletes keep a final record so their surviving
		// placement groups still resolve a definition.
		for id, pool := range prev.Pools {
			if m.PoolExists(id) {
				continue
			}
			if err := n.meta.StoreFinalPoolInfo(txn, mapstore.FinalPoolInfo{Pool: pool, DeletedAt: e}); err != nil {
				n.fail(err)
				return nil, nil, false
			}
			n.logger.Info().Int64("pool", int64(id)).Uint64("epoch", uint64(e)).Msg("pool deleted; final record preserved")
		}

		n.cache.Insert(e, m)
		applied = append(applied, m)
		prev = m
	}
	return applied, txn, true
}

// rejectBatch drops a malformed or unusable batch and re-requests its range
// so a well-formed copy can replace it.
func (n *Node) rejectBatch(e types.Epoch, err error) {
	metrics.MapBatchesDropped.WithLabelValues("malformed").Inc()
	n.logger.Error().Err(err).Uint64("epoch", uint64(e)).Msg("unusable map batch; resubscribing")
	n.subscribe(n.sb.NewestMap+1, false)
}

func hasFull(b *authority.MapBatch, e types.Epoch) bool {
	_, ok := b.Fulls[e]
	return ok
}

// observeCommitted applies one newly visible epoch to the lifecycle state
// machine.
func (n *Node) observeCommitted(m *clustermap.ClusterMap) {
	self := n.sb.NodeID
	n.checkMapFeatures(m)

	switch n.state {
	case types.NodeStateBooting:
		// The boot completes when a map at or past this attempt's start
		// shows the node up at the addresses it actually bound.
		if m.IsUp(self) && m.UpFrom(self) > n.bindEpoch && m.PublicAddrs(self).Equal(n.publicAddrs) {
			n.upEpoch = m.UpFrom(self)
			n.bootEpoch = m.Epoch
			n.activate(m)
		}

	case types.NodeStateActive:
		if !m.Exists(self) {
			n.logger.Warn().Uint64("epoch", uint64(m.Epoch)).Msg("removed from the cluster map; shutting down")
			n.beginStop()
			return
		}
		if n.shouldRestart(m) {
			n.restart()
			return
		}
		n.maybeSendAlive(m)
	}
}

// advanceGroups fans the new epoch out to every resident placement group
// and waits for the walks to finish before the next event is taken. Each
// group serializes its own advance; groups advance relative to each other
// in any order.
func (n *Node) advanceGroups(target types.Epoch) {
	groups := n.registry.Resident()
	if len(groups) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, g := range groups {
		wg.Add(1)
		go func(g *pg.PG) {
			defer wg.Done()
			if err := g.AdvanceTo(n.runCtx, n.cache, target); err != nil {
				n.fail(err)
			}
		}(g)
	}
	wg.Wait()
	n.publishEvent(events.EventPGAdvanced,
		fmt.Sprintf("%d placement groups advanced to e%d", len(groups), target),
		map[string]string{"epoch": fmt.Sprintf("%d", target)})
}
