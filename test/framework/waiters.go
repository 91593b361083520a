package framework

import (
	"context"
	"fmt"
	"time"

	"github.com/shoalstore/shoal/pkg/types"
)

// Waiter provides utilities for waiting on conditions with timeouts
type Waiter struct {
	timeout  time.Duration
	interval time.Duration
}

// NewWaiter creates a new Waiter with the given timeout and polling interval
func NewWaiter(timeout, interval time.Duration) *Waiter {
	return &Waiter{
		timeout:  timeout,
		interval: interval,
	}
}

// DefaultWaiter returns a waiter with in-process defaults (5s timeout,
// 5ms interval)
func DefaultWaiter() *Waiter {
	return NewWaiter(5*time.Second, 5*time.Millisecond)
}

// WaitFor waits for a condition to become true
func (w *Waiter) WaitFor(ctx context.Context, condition func() bool, description string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Check immediately
	if condition() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for: %s (timeout: %v)", description, w.timeout)
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// WaitForState waits for the node to report the given lifecycle state.
func (w *Waiter) WaitForState(ctx context.Context, tn *TestNode, state types.NodeState) error {
	return w.WaitFor(ctx, func() bool {
		return tn.Node.Status().State == state
	}, fmt.Sprintf("node %s to reach state %s", tn.ID, state))
}

// WaitForEpoch waits for the node's visible map to reach at least epoch.
func (w *Waiter) WaitForEpoch(ctx context.Context, tn *TestNode, epoch types.Epoch) error {
	return w.WaitFor(ctx, func() bool {
		return tn.Node.Status().Epoch >= epoch
	}, fmt.Sprintf("node %s to see epoch %d", tn.ID, epoch))
}

// WaitForPGs waits for the node to host at least count placement groups.
func (w *Waiter) WaitForPGs(ctx context.Context, tn *TestNode, count int) error {
	return w.WaitFor(ctx, func() bool {
		return tn.Node.Status().PlacementGroups >= count
	}, fmt.Sprintf("node %s to host %d placement groups", tn.ID, count))
}

// WaitForStopped waits for the node's run loop to exit.
func (w *Waiter) WaitForStopped(ctx context.Context, tn *TestNode) error {
	return w.WaitFor(ctx, func() bool {
		select {
		case <-tn.Node.Done():
			return true
		default:
			return false
		}
	}, fmt.Sprintf("node %s to stop", tn.ID))
}
