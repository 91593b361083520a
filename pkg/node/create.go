package node

import (
	"context"
	"errors"
	"fmt"

	"github.com/shoalstore/shoal/pkg/authority"
	"github.com/shoalstore/shoal/pkg/events"
	"github.com/shoalstore/shoal/pkg/mapgate"
	"github.com/shoalstore/shoal/pkg/pg"
	"github.com/shoalstore/shoal/pkg/types"
)

// handlePGCreate serves one authority-driven creation request. It runs off
// the event loop so creation I/O never stalls map ingestion; the registry
// keeps concurrent requests for the same identity single-flight.
func (n *Node) handlePGCreate(req authority.PGCreateRequest) {
	ctx := n.runCtx
	if _, err := n.WaitForMap(ctx, req.Epoch); err != nil {
		n.creationInterrupted(req.ID, err)
		return
	}

	group, err := n.registry.GetOrCreate(ctx, req.ID, func(ctx context.Context) (*pg.PG, error) {
		return n.lifecycle.Create(ctx, pg.CreateRequest{
			ID:          req.ID,
			Epoch:       req.Epoch,
			History:     req.History,
			ByAuthority: req.ByAuthority,
		})
	})
	switch {
	case err != nil:
		n.creationInterrupted(req.ID, err)
	case group == nil:
		// Benign drop: the pool finished creating or disappeared while the
		// request was in flight.
		n.publishEvent(events.EventPGCreateDropped,
			fmt.Sprintf("creation of %s dropped", req.ID),
			map[string]string{"pg": req.ID.String()})
	default:
		n.publishEvent(events.EventPGCreated,
			fmt.Sprintf("placement group %s created at e%d", req.ID, req.Epoch),
			map[string]string{"pg": req.ID.String()})
		n.syncHeartbeat(group)
	}
}

// dispatchPeering routes one peer message: admit it against the map gate,
// then hand it to its placement group. A message for a group this node does
// not have yet infers the group's creation locally, from the sender's view
// of the map; unlike authority-driven requests that path does not check the
// pool's creating marker.
func (n *Node) dispatchPeering(ev peeringMsgEvent) {
	ctx := n.runCtx
	if _, err := n.WaitForMap(ctx, ev.minEpoch); err != nil {
		return
	}

	group, err := n.registry.GetOrCreate(ctx, ev.pg, func(ctx context.Context) (*pg.PG, error) {
		return n.lifecycle.Create(ctx, pg.CreateRequest{
			ID:          ev.pg,
			Epoch:       ev.minEpoch,
			ByAuthority: false,
		})
	})
	switch {
	case err != nil:
		n.creationInterrupted(ev.pg, err)
		return
	case group == nil:
		n.logger.Debug().
			Stringer("pg", ev.pg).
			Stringer("from", ev.from).
			Msg("dropping peer message for unresolvable placement group")
		return
	}
	if err := group.OnPeerMessage(ev.from, ev.payload); err != nil {
		n.logger.Error().Err(err).
			Stringer("pg", ev.pg).
			Stringer("from", ev.from).
			Msg("peering engine rejected peer message")
	}
}

// creationInterrupted classifies a failed creation: shutdown races are
// expected and quiet, anything else corrupted or half-wrote local state and
// is fatal.
func (n *Node) creationInterrupted(id types.PGID, err error) {
	if errors.Is(err, pg.ErrShutdown) || errors.Is(err, mapgate.ErrClosed) || errors.Is(err, context.Canceled) {
		return
	}
	n.fail(fmt.Errorf("create %s: %w", id, err))
}

// syncHeartbeat folds a fresh group's peers into the heartbeat set without
// waiting for the next tick.
func (n *Node) syncHeartbeat(group *pg.PG) {
	m := n.visible.Load()
	up, acting := group.UpActing()
	for _, id := range up {
		n.hb.AddPeer(id, m.Epoch)
	}
	for _, id := range acting {
		n.hb.AddPeer(id, m.Epoch)
	}
}
