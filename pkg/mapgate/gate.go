package mapgate

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/shoalstore/shoal/pkg/log"
	"github.com/shoalstore/shoal/pkg/metrics"
	"github.com/shoalstore/shoal/pkg/types"
)

// ErrClosed is returned to waiters when the gate shuts down before their
// epoch arrives.
var ErrClosed = errors.New("map gate closed")

type waiter struct {
	epoch types.Epoch
	ch    chan error
	index int
}

// waiterHeap orders waiters by ascending epoch so advancement releases the
// oldest requirements first and never wakes a newer waiter past a blocked
// older one.
type waiterHeap []*waiter

func (h waiterHeap) Len() int { return len(h) }
func (h waiterHeap) Less(i, j int) bool { return h[i].epoch < h[j].epoch }
func (h waiterHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *waiterHeap) Push(x any) {
	w := x.(*waiter)
	w.index = len(*h)
	*h = append(*h, w)
}

func (h *waiterHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[:n-1]
	return w
}

// Gate blocks operations until the node has made their required map epoch
// visible. One gate guards the node-wide map; advancement is driven by the
// ingestion path after each epoch becomes visible.
type Gate struct {
	name   string
	logger zerolog.Logger

	mu       sync.Mutex
	current  types.Epoch
	waiters  waiterHeap
	closed   bool
	closeErr error
}

// New creates a gate starting at epoch 0.
func New(name string) *Gate {
	return &Gate{
		name:   name,
		logger: log.WithComponent("mapgate").With().Str("gate", name).Logger(),
	}
}

// Current returns the newest epoch the gate has been advanced to.
func (g *Gate) Current() types.Epoch {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// WaitFor blocks until the gate reaches epoch e, the context ends, or the
// gate closes. The epoch check and waiter registration happen under one
// lock acquisition, so an advancement racing with registration can never
// strand the waiter.
func (g *Gate) WaitFor(ctx context.Context, e types.Epoch) error {
	g.mu.Lock()
	if g.closed {
		err := g.closeErr
		g.mu.Unlock()
		return err
	}
	if g.current >= e {
		g.mu.Unlock()
		return nil
	}
	w := &waiter{epoch: e, ch: make(chan error, 1)}
	heap.Push(&g.waiters, w)
	metrics.GateWaiters.Set(float64(len(g.waiters)))
	g.mu.Unlock()

	select {
	case err := <-w.ch:
		return err
	case <-ctx.Done():
		g.abandon(w)
		return ctx.Err()
	}
}

// abandon removes a waiter whose context ended. The waiter may have been
// popped concurrently; the buffered channel makes that race harmless.
func (g *Gate) abandon(w *waiter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if w.index >= 0 {
		heap.Remove(&g.waiters, w.index)
		metrics.GateWaiters.Set(float64(len(g.waiters)))
	}
}

// AdvancedTo releases every waiter whose epoch is now satisfied, oldest
// epoch first. Advancement is monotonic; stale calls are no-ops.
func (g *Gate) AdvancedTo(e types.Epoch) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed || e <= g.current {
		return
	}
	g.current = e

	released := 0
	for len(g.waiters) > 0 && g.waiters[0].epoch <= e {
		w := heap.Pop(&g.waiters).(*waiter)
		w.ch <- nil
		released++
	}
	if released > 0 {
		metrics.GateWaiters.Set(float64(len(g.waiters)))
		metrics.GateReleased.Add(float64(released))
		g.logger.Debug().
			Uint64("epoch", uint64(e)).
			Int("released", released).
			Msg("gate advanced")
	}
}

// Close fails every outstanding waiter and every future WaitFor. The cause
// is wrapped under ErrClosed so callers can match either.
func (g *Gate) Close(cause error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return
	}
	g.closed = true
	if cause != nil {
		g.closeErr = fmt.Errorf("%w: %s", ErrClosed, cause)
	} else {
		g.closeErr = ErrClosed
	}

	failed := 0
	for len(g.waiters) > 0 {
		w := heap.Pop(&g.waiters).(*waiter)
		w.ch <- g.closeErr
		failed++
	}
	metrics.GateWaiters.Set(0)
	g.logger.Info().Int("failed_waiters", failed).Msg("gate closed")
}
