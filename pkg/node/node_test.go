package node_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/shoalstore/shoal/pkg/authority"
	"github.com/shoalstore/shoal/pkg/clustermap"
	"github.com/shoalstore/shoal/pkg/metrics"
	"github.com/shoalstore/shoal/pkg/node"
	"github.com/shoalstore/shoal/pkg/storage"
	"github.com/shoalstore/shoal/pkg/types"
	"github.com/shoalstore/shoal/test/framework"
)

// boot brings one node to active: first epoch published, announcement
// honored by auto-up.
func boot(t *testing.T, h *framework.Harness, w *framework.Waiter) *framework.TestNode {
	t.Helper()
	tn := h.StartNode(1)
	rel := types.MinSupportedRelease
	_, err := h.Auth.Publish(&clustermap.Incremental{
		SetFlags:       clustermap.FlagSortedPlacement,
		RequireRelease: &rel,
	})
	require.NoError(t, err)
	require.NoError(t, w.WaitForState(context.Background(), tn, types.NodeStateActive))
	return tn
}

func publishN(t *testing.T, h *framework.Harness, n int) types.Epoch {
	t.Helper()
	var last types.Epoch
	for i := 0; i < n; i++ {
		e, err := h.Auth.Publish(&clustermap.Incremental{})
		require.NoError(t, err)
		last = e
	}
	return last
}

func TestFormatRefusesFormattedDirectory(t *testing.T) {
	eng := storage.NewBoltEngine(t.TempDir())
	ctx := context.Background()
	opts := node.FormatOptions{ClusterID: uuid.New(), NodeID: 1}

	_, err := node.Format(ctx, eng, opts)
	require.NoError(t, err)
	_, err = node.Format(ctx, eng, opts)
	require.Error(t, err)
}

func TestStartRejectsForeignDataDirectory(t *testing.T) {
	h := framework.New(t)
	tn := h.Format(2)

	n, err := node.New(node.Config{DataDir: tn.DataDir, NodeID: 3}, node.Deps{
		Engine:    tn.Engine,
		Authority: tn.Handle,
		Transport: h.Fabric.Endpoint(3),
	})
	require.NoError(t, err)
	err = n.Start(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "belongs to")
}

func TestIngestionBookkeeping(t *testing.T) {
	h := framework.New(t)
	w := framework.DefaultWaiter()
	ctx := context.Background()
	tn := boot(t, h, w)

	last := publishN(t, h, 3)
	require.NoError(t, w.WaitForEpoch(ctx, tn, last))

	st := tn.Node.Status()
	require.Equal(t, last, st.Epoch)
	require.Equal(t, last, st.NewestMap)
	require.Equal(t, types.Epoch(1), st.OldestMap)
	require.Equal(t, last, st.CleanThru, "an active node is clean through everything it applied")
}

func TestHealthComponentsTrackBoot(t *testing.T) {
	h := framework.New(t)
	w := framework.DefaultWaiter()
	ctx := context.Background()
	tn := boot(t, h, w)

	last := publishN(t, h, 1)
	require.NoError(t, w.WaitForEpoch(ctx, tn, last))

	health := metrics.GetHealth()
	require.Equal(t, "healthy", health.Status)
	require.Equal(t, "mounted", health.Components[metrics.ComponentStorage])
	require.Equal(t, fmt.Sprintf("e%d", last), health.Components[metrics.ComponentMaps])
	require.Equal(t, string(types.NodeStateActive), health.Components[metrics.ComponentNode])
}

func TestForeignClusterBatchIgnored(t *testing.T) {
	h := framework.New(t)
	w := framework.DefaultWaiter()
	ctx := context.Background()
	tn := boot(t, h, w)
	before := tn.Node.Status().Epoch

	tn.Node.DeliverMapBatch(&authority.MapBatch{
		ClusterID: uuid.New(),
		First:     before + 1,
		Last:      before + 1,
	})

	// The node keeps running and later real epochs still land.
	last := publishN(t, h, 1)
	require.NoError(t, w.WaitForEpoch(ctx, tn, last))
	require.Equal(t, last, tn.Node.Status().Epoch)
	require.NoError(t, tn.Node.Err())
}

func TestStaleBatchIgnored(t *testing.T) {
	h := framework.New(t)
	w := framework.DefaultWaiter()
	ctx := context.Background()
	tn := boot(t, h, w)
	before := tn.Node.Status().Epoch

	// Everything at or below the stored newest is already applied.
	tn.Node.DeliverMapBatch(&authority.MapBatch{
		ClusterID: h.ClusterID,
		First:     before,
		Last:      before,
	})

	last := publishN(t, h, 1)
	require.NoError(t, w.WaitForEpoch(ctx, tn, last))
	require.Equal(t, last, tn.Node.Status().Epoch)
	require.NoError(t, tn.Node.Err())
}

func TestMalformedBatchResubscribes(t *testing.T) {
	h := framework.New(t)
	w := framework.DefaultWaiter()
	ctx := context.Background()
	tn := boot(t, h, w)
	next := tn.Node.Status().Epoch + 1

	// A batch claiming the next epoch but carrying garbage must not
	// poison the store; the node re-requests the range instead.
	tn.Node.DeliverMapBatch(&authority.MapBatch{
		ClusterID: h.ClusterID,
		First:     next,
		Last:      next,
		Bounds:    authority.VersionBounds{Oldest: 1, Newest: next},
		Fulls:     map[types.Epoch][]byte{next: []byte("not a map")},
	})

	last := publishN(t, h, 1)
	require.NoError(t, w.WaitForEpoch(ctx, tn, last))
	require.Equal(t, last, tn.Node.Status().Epoch)
	require.NoError(t, tn.Node.Err())
}

func TestGapWithoutSnapshotResubscribes(t *testing.T) {
	h := framework.New(t)
	w := framework.DefaultWaiter()
	ctx := context.Background()
	tn := boot(t, h, w)
	have := tn.Node.Status().Epoch

	// Incrementals three epochs ahead cannot connect to anything stored.
	// The advertised bounds still cover our next epoch, so the node asks
	// for deltas and the standing subscription keeps working.
	tn.Node.DeliverMapBatch(&authority.MapBatch{
		ClusterID:    h.ClusterID,
		First:        have + 3,
		Last:         have + 3,
		Bounds:       authority.VersionBounds{Oldest: 1, Newest: have + 3},
		Incrementals: map[types.Epoch][]byte{have + 3: []byte("unreachable")},
	})

	last := publishN(t, h, 1)
	require.NoError(t, w.WaitForEpoch(ctx, tn, last))
	require.NoError(t, tn.Node.Err())
}

func TestCatchUpAcrossTrimmedHistory(t *testing.T) {
	h := framework.New(t)
	w := framework.DefaultWaiter()
	ctx := context.Background()
	tn := boot(t, h, w)
	require.NoError(t, tn.Node.Stop(ctx))

	// While the node is down the cluster moves on and trims history past
	// the node's newest stored epoch. Catching up now requires a full
	// snapshot at the retention floor.
	publishN(t, h, 5)
	floor := h.Auth.Newest() - 1
	h.Auth.TrimTo(floor)

	h.Start(tn)
	require.NoError(t, w.WaitForState(ctx, tn, types.NodeStateActive))

	st := tn.Node.Status()
	require.Equal(t, floor, st.OldestMap, "local contiguous range restarts at the snapshot")
	require.Equal(t, h.Auth.Newest(), st.Epoch)
}

func TestWaitForMapUnblocksOnPublish(t *testing.T) {
	h := framework.New(t)
	w := framework.DefaultWaiter()
	tn := boot(t, h, w)
	target := tn.Node.Status().Epoch + 2

	type result struct {
		m   *clustermap.ClusterMap
		err error
	}
	done := make(chan result, 1)
	go func() {
		m, err := tn.Node.WaitForMap(context.Background(), target)
		done <- result{m, err}
	}()

	// Not yet published: the waiter must still be parked.
	select {
	case <-done:
		t.Fatal("WaitForMap returned before the epoch existed")
	case <-time.After(50 * time.Millisecond):
	}

	publishN(t, h, 2)
	select {
	case r := <-done:
		require.NoError(t, r.err)
		require.Equal(t, target, r.m.Epoch)
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForMap never unblocked")
	}
}

func TestBeaconsArmOnlyOnceActive(t *testing.T) {
	h := framework.New(t)
	h.Auth.SetAutoUp(false)
	w := framework.DefaultWaiter()
	ctx := context.Background()

	fc := clockwork.NewFakeClock()
	tn := h.Format(1)
	h.Start(tn, func(cfg *node.Config, deps *node.Deps) {
		cfg.BeaconInterval = time.Second
		cfg.HeartbeatInterval = time.Second
		deps.Clock = fc
	})

	rel := types.MinSupportedRelease
	_, err := h.Auth.Publish(&clustermap.Incremental{
		SetFlags:       clustermap.FlagSortedPlacement,
		RequireRelease: &rel,
	})
	require.NoError(t, err)
	require.NoError(t, w.WaitForState(ctx, tn, types.NodeStateBooting))

	// Booting: no tickers exist yet, so time passing reports nothing.
	fc.Advance(10 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	for _, msg := range h.Auth.Reports() {
		_, isBeacon := msg.(*authority.Beacon)
		require.False(t, isBeacon, "a node must not beacon before it is active")
	}

	// Honor the announcement; activation arms the beacon ticker.
	var boot *authority.BootAnnouncement
	for _, msg := range h.Auth.Reports() {
		if b, ok := msg.(*authority.BootAnnouncement); ok {
			boot = b
		}
	}
	require.NotNil(t, boot)
	_, err = h.Auth.Publish(&clustermap.Incremental{
		Members: map[types.NodeID]*clustermap.Member{
			1: {
				Up:           true,
				UpFrom:       h.Auth.Newest() + 1,
				Weight:       1,
				PublicAddrs:  boot.PublicAddrs.Clone(),
				ClusterAddrs: boot.ClusterAddrs.Clone(),
			},
		},
	})
	require.NoError(t, err)
	require.NoError(t, w.WaitForState(ctx, tn, types.NodeStateActive))

	fc.Advance(time.Second)
	require.NoError(t, w.WaitFor(ctx, func() bool {
		for _, msg := range h.Auth.Reports() {
			if _, ok := msg.(*authority.Beacon); ok {
				return true
			}
		}
		return false
	}, "beacon after the first active interval"))
}

func TestWaitForMapFailsOnShutdown(t *testing.T) {
	h := framework.New(t)
	w := framework.DefaultWaiter()
	tn := boot(t, h, w)
	target := tn.Node.Status().Epoch + 10

	done := make(chan error, 1)
	go func() {
		_, err := tn.Node.WaitForMap(context.Background(), target)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, tn.Node.Stop(context.Background()))
	select {
	case err := <-done:
		require.Error(t, err, "shutdown must fail parked waiters, not strand them")
	case <-time.After(5 * time.Second):
		t.Fatal("waiter leaked across shutdown")
	}
}
