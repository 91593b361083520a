package node

import (
	"fmt"
	"time"

	"github.com/shoalstore/shoal/pkg/authority"
	"github.com/shoalstore/shoal/pkg/clustermap"
	"github.com/shoalstore/shoal/pkg/events"
	"github.com/shoalstore/shoal/pkg/types"
)

// startBoot begins one boot attempt: enter preboot and evaluate the
// decision table against fresh authority bounds.
func (n *Node) startBoot() {
	if n.state.IsStopping() {
		return
	}
	n.setState(types.NodeStatePreboot)
	bounds, err := n.auth.VersionBounds(n.runCtx)
	if err != nil {
		n.fail(err)
		return
	}
	n.preboot(bounds)
}

// preboot decides whether the node may announce itself given the
// authority's retained epoch span. Whenever it cannot, it leaves a
// subscription behind so a future map re-triggers the decision.
func (n *Node) preboot(bounds authority.VersionBounds) {
	m := n.visible.Load()
	self := n.sb.NodeID
	n.logger.Info().
		Uint64("epoch", uint64(m.Epoch)).
		Uint64("oldest", uint64(bounds.Oldest)).
		Uint64("newest", uint64(bounds.Newest)).
		Msg("evaluating boot")

	switch {
	case m.Epoch == types.EpochNone:
		n.logger.Info().Msg("waiting for initial cluster map")
	case m.IsDestroyed(self):
		n.logger.Warn().Msg("cluster map says this node is destroyed")
		// A stale view may still show a destruction that a newer epoch
		// reversed (slot recreated); only give up when the view is
		// current.
		if m.Epoch >= bounds.Newest {
			n.fail(ErrDestroyed)
			return
		}
	case m.Flags.Has(clustermap.FlagNoUp):
		n.logger.Warn().Msg("cluster map has the no-up flag set; waiting for it to clear")
	default:
		n.checkMapFeatures(m)
		if m.Epoch+1 >= bounds.Oldest && m.Epoch+n.cfg.MapGapBudget > bounds.Newest {
			n.sendBoot(m)
			return
		}
	}

	// Catch up before deciding again.
	if m.Epoch+1 >= bounds.Oldest {
		n.subscribe(m.Epoch+1, false)
	} else {
		n.subscribe(bounds.Oldest-1, true)
	}
}

// checkMapFeatures logs degraded-but-tolerable map conditions. The node
// keeps serving; the operator is expected to repair the cluster.
func (n *Node) checkMapFeatures(m *clustermap.ClusterMap) {
	degraded := false
	if !m.Flags.Has(clustermap.FlagSortedPlacement) {
		degraded = true
		if !n.degraded {
			n.logger.Error().Msg("cluster map is missing the sorted-placement flag; continuing degraded")
		}
	}
	if m.RequireRelease < types.MinSupportedRelease {
		degraded = true
		if !n.degraded {
			n.logger.Error().
				Stringer("require", m.RequireRelease).
				Stringer("minimum", types.MinSupportedRelease).
				Msg("cluster requires a release below this build's minimum; continuing degraded")
		}
	}
	if n.degraded && !degraded {
		n.logger.Info().Msg("cluster map degradation cleared")
	}
	n.degraded = degraded
}

// sendBoot announces the node to the authority and enters booting.
func (n *Node) sendBoot(m *clustermap.ClusterMap) {
	n.setState(types.NodeStateBooting)
	n.logger.Info().
		Uint64("epoch", uint64(m.Epoch)).
		Str("public", n.publicAddrs.String()).
		Str("cluster", n.clusterAddrs.String()).
		Msg("announcing boot")
	n.send(&authority.BootAnnouncement{
		Superblock:   n.sb,
		BootEpoch:    m.Epoch,
		PublicAddrs:  n.publicAddrs.Clone(),
		ClusterAddrs: n.clusterAddrs.Clone(),
		Release:      types.CurrentRelease,
	})
	// Also subscribe so the map marking us up actually reaches us.
	n.subscribe(m.Epoch+1, false)
}

// activate completes a boot: the map shows this node up at its bound
// addresses, so arm the periodic work and tell the authority we are
// caught up.
func (n *Node) activate(m *clustermap.ClusterMap) {
	n.setState(types.NodeStateActive)
	n.armTickers()
	n.refreshHeartbeatPeers(m)
	n.maybeSendAlive(m)
	n.publishEvent(events.EventNodeBooted,
		"node is up and active",
		map[string]string{
			"epoch":   fmt.Sprintf("%d", m.Epoch),
			"up_from": fmt.Sprintf("%d", m.UpFrom(n.sb.NodeID)),
		})
	n.logger.Info().
		Uint64("epoch", uint64(m.Epoch)).
		Uint64("up_from", uint64(m.UpFrom(n.sb.NodeID))).
		Msg("now active")
}

// shouldRestart reports whether the map contradicts this incarnation: the
// node marked down, or recorded at addresses other than the ones actually
// bound.
func (n *Node) shouldRestart(m *clustermap.ClusterMap) bool {
	self := n.sb.NodeID
	if !m.IsUp(self) {
		n.logger.Warn().Uint64("epoch", uint64(m.Epoch)).Msg("cluster map marks this node down")
		return true
	}
	if !m.PublicAddrs(self).Equal(n.publicAddrs) || !m.ClusterAddrs(self).Equal(n.clusterAddrs) {
		n.logger.Warn().
			Uint64("epoch", uint64(m.Epoch)).
			Str("map_public", m.PublicAddrs(self).String()).
			Str("bound_public", n.publicAddrs.String()).
			Msg("cluster map records different addresses than the ones bound")
		return true
	}
	return false
}

// restart abandons the current incarnation and boots again: the map no
// longer backs it, so the node must re-announce from scratch.
func (n *Node) restart() {
	m := n.visible.Load()
	n.logger.Warn().Uint64("epoch", uint64(m.Epoch)).Msg("restarting boot sequence")
	n.disarmTickers()
	n.bindEpoch = m.Epoch
	n.upEpoch = types.EpochNone
	n.hb.Prune(m.Epoch + 1)
	n.publishEvent(events.EventNodeRestarting, "map contradicts this incarnation; rebooting",
		map[string]string{"epoch": fmt.Sprintf("%d", m.Epoch)})
	n.startBoot()
}

func (n *Node) armTickers() {
	if n.beaconTicker == nil {
		n.beaconTicker = n.clock.NewTicker(n.cfg.BeaconInterval)
	}
	if n.hbTicker == nil {
		n.hbTicker = n.clock.NewTicker(n.cfg.HeartbeatInterval)
	}
}

func (n *Node) disarmTickers() {
	if n.beaconTicker != nil {
		n.beaconTicker.Stop()
		n.beaconTicker = nil
	}
	if n.hbTicker != nil {
		n.hbTicker.Stop()
		n.hbTicker = nil
	}
}

// beaconC and hbC return nil channels while the tickers are disarmed, so
// the run loop's select ignores those arms outside the active state.
func (n *Node) beaconC() <-chan time.Time {
	if n.beaconTicker == nil {
		return nil
	}
	return n.beaconTicker.Chan()
}

func (n *Node) hbC() <-chan time.Time {
	if n.hbTicker == nil {
		return nil
	}
	return n.hbTicker.Chan()
}

func (n *Node) beaconTick() {
	m := n.visible.Load()
	n.sendBeacon(m)
	n.sendStats(m)
}

func (n *Node) heartbeatTick() {
	m := n.visible.Load()
	n.refreshHeartbeatPeers(m)
	sent := n.hb.Ping(n.runCtx, m.Epoch)
	n.logger.Debug().Int("sent", sent).Int("peers", n.hb.Len()).Msg("heartbeat tick")
}

// refreshHeartbeatPeers derives the wanted peer set from the up and acting
// sets of every resident placement group, then prunes peers no group wants
// anymore.
func (n *Node) refreshHeartbeatPeers(m *clustermap.ClusterMap) {
	for _, g := range n.registry.Resident() {
		up, acting := g.UpActing()
		for _, id := range up {
			n.hb.AddPeer(id, m.Epoch)
		}
		for _, id := range acting {
			n.hb.AddPeer(id, m.Epoch)
		}
	}
	if removed := n.hb.Prune(m.Epoch); len(removed) > 0 {
		n.logger.Debug().Int("removed", len(removed)).Msg("pruned heartbeat peers")
	}
}

// sendBeacon reports liveness. MinCleanEpoch is the oldest epoch any
// primary group still sits at; the authority may not trim past it.
func (n *Node) sendBeacon(m *clustermap.ClusterMap) {
	minClean := m.Epoch
	count := 0
	for _, g := range n.registry.Resident() {
		count++
		if !g.IsPrimary() {
			continue
		}
		if e := g.Epoch(); e < minClean {
			minClean = e
		}
	}
	n.send(&authority.Beacon{
		NodeID:          n.sb.NodeID,
		MapEpoch:        m.Epoch,
		MinCleanEpoch:   minClean,
		PlacementGroups: count,
	})
}

// sendStats summarizes resident groups for the authority.
func (n *Node) sendStats(m *clustermap.ClusterMap) {
	groups := n.registry.Resident()
	stats := make([]authority.PGStat, 0, len(groups))
	for _, g := range groups {
		s := g.Stats()
		stats = append(stats, authority.PGStat{
			ID:           s.ID,
			LastAdvanced: s.Epoch,
			Stats:        s.Peering,
		})
	}
	n.send(&authority.StatsReport{
		NodeID:   n.sb.NodeID,
		MapEpoch: m.Epoch,
		PGs:      stats,
	})
}

// maybeSendAlive tells the authority the node has applied maps through the
// given epoch. Deduplicated: one report per epoch at most.
func (n *Node) maybeSendAlive(m *clustermap.ClusterMap) {
	if m.Epoch <= n.lastAlive {
		return
	}
	n.lastAlive = m.Epoch
	n.send(&authority.AliveReport{
		NodeID:     n.sb.NodeID,
		MapEpoch:   m.Epoch,
		WantUpThru: m.Epoch,
	})
}
