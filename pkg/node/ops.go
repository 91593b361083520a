package node

import (
	"context"

	"github.com/shoalstore/shoal/pkg/pg"
	"github.com/shoalstore/shoal/pkg/types"
)

// ClientOp is one data-path operation the node must admit before the data
// path may run it: the map epoch it references must be visible and its
// placement group resident.
type ClientOp struct {
	// PG addresses the placement group the operation targets.
	PG types.PGID
	// MinEpoch is the map epoch the sender composed the operation against.
	// Admission holds the operation until that epoch is visible.
	MinEpoch types.Epoch
	// Payload is opaque to the node.
	Payload []byte
}

// OpSink consumes admitted operations. The object I/O behind it is not
// this daemon's concern; tests and the default build use a sink that only
// acknowledges admission.
type OpSink interface {
	Dispatch(ctx context.Context, group *pg.PG, op ClientOp) error
}

// ackSink acknowledges admission without doing any I/O.
type ackSink struct{}

func (ackSink) Dispatch(context.Context, *pg.PG, ClientOp) error { return nil }

// SubmitOp runs one operation through admission: wait for the operation's
// epoch, wait for its placement group, then hand it to the sink. It blocks
// until the sink returns or the context or node shuts down.
func (n *Node) SubmitOp(ctx context.Context, op ClientOp) error {
	done := make(chan error, 1)
	select {
	case n.eventCh <- clientOpEvent{op: op, done: done}:
	case <-n.stopCh:
		return pg.ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// admit runs off the event loop; one goroutine per in-flight operation.
func (n *Node) admit(ev clientOpEvent) {
	ev.done <- n.admitOp(ev.op)
}

func (n *Node) admitOp(op ClientOp) error {
	ctx := n.runCtx
	if _, err := n.WaitForMap(ctx, op.MinEpoch); err != nil {
		return err
	}
	group, err := n.registry.Wait(ctx, op.PG)
	if err != nil {
		return err
	}
	return n.sink.Dispatch(ctx, group, op)
}
