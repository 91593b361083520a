package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/shoalstore/shoal/pkg/types"
)

const (
	loopbackHost      = "127.0.0.1"
	loopbackFirstPort = 6800
)

// Fabric is an in-process message fabric connecting loopback endpoints by
// node id. One Fabric models one network; endpoints on different fabrics
// cannot reach each other.
type Fabric struct {
	endpoints *xsync.MapOf[types.NodeID, *Endpoint]
	nextPort  atomic.Int64
	nextNonce atomic.Uint32
}

// NewFabric returns an empty fabric.
func NewFabric() *Fabric {
	f := &Fabric{
		endpoints: xsync.NewMapOf[types.NodeID, *Endpoint](),
	}
	f.nextPort.Store(loopbackFirstPort)
	return f
}

// Endpoint creates an unbound endpoint for the given node. The endpoint
// joins the fabric when Bind succeeds.
func (f *Fabric) Endpoint(self types.NodeID) *Endpoint {
	return &Endpoint{
		self:   self,
		fabric: f,
		seen:   xsync.NewMapOf[types.NodeID, bool](),
	}
}

// Disconnect severs the notional connection between two bound endpoints
// and fires the reset notes a real messenger would: a observes a local
// reset of its session to b, b observes a remote reset by a. Message flow
// is unaffected; a later Send re-establishes the session.
func (f *Fabric) Disconnect(a, b types.NodeID) {
	if ea, ok := f.endpoints.Load(a); ok {
		ea.seen.Delete(b)
		if o := ea.observerRef(); o != nil {
			o.PeerReset(b, PeerTypeNode)
		}
	}
	if eb, ok := f.endpoints.Load(b); ok {
		eb.seen.Delete(a)
		if o := eb.observerRef(); o != nil {
			o.PeerRemoteReset(a, PeerTypeNode)
		}
	}
}

// Endpoint is one node's attachment to a loopback fabric.
type Endpoint struct {
	self   types.NodeID
	fabric *Fabric

	// seen tracks peers this endpoint has sent to, so the first frame of a
	// session fires exactly one connected note.
	seen *xsync.MapOf[types.NodeID, bool]

	mu       sync.RWMutex
	handler  Handler
	observer Observer
	bound    bool
	closed   bool
}

var _ Transport = (*Endpoint)(nil)

// Attach registers the inbound handler and connection observer.
func (e *Endpoint) Attach(h Handler, o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
	e.observer = o
}

// Bind claims addresses from the candidates and joins the fabric. An empty
// candidate set synthesizes a single local address. Every bound address is
// stamped with a nonce unique to this bind, so a rebound endpoint never
// matches its previous incarnation.
func (e *Endpoint) Bind(public, cluster types.AddrSet) (types.AddrSet, types.AddrSet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, nil, ErrClosed
	}
	if e.bound {
		return nil, nil, fmt.Errorf("transport: %s already bound", e.self)
	}

	nonce := e.fabric.nextNonce.Add(1)
	boundPublic := e.assign(public, true, nonce)
	boundCluster := e.assign(cluster, false, nonce)

	e.bound = true
	e.fabric.endpoints.Store(e.self, e)
	return boundPublic, boundCluster, nil
}

// assign fills in missing pieces of candidate addresses. Public addresses
// get a concrete host; cluster addresses keep blank hosts for the caller
// to substitute.
func (e *Endpoint) assign(candidates types.AddrSet, fillHost bool, nonce uint32) types.AddrSet {
	if len(candidates) == 0 {
		candidates = types.AddrSet{{}}
	}
	out := candidates.Clone()
	for i := range out {
		if fillHost && out[i].Host == "" {
			out[i].Host = loopbackHost
		}
		if out[i].Port == 0 {
			out[i].Port = int(e.fabric.nextPort.Add(1))
		}
		out[i].Nonce = nonce
	}
	return out
}

// Send delivers one message synchronously to the destination's handler.
func (e *Endpoint) Send(ctx context.Context, to types.NodeID, msg Message) error {
	e.mu.RLock()
	closed, bound := e.closed, e.bound
	e.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if !bound {
		return ErrNotBound
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	peer, ok := e.fabric.endpoints.Load(to)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPeerUnreachable, to)
	}

	if _, dup := e.seen.LoadOrStore(to, true); !dup {
		if o := e.observerRef(); o != nil {
			o.PeerConnected(to, PeerTypeNode)
		}
	}

	msg.From = e.self
	peer.deliver(msg)
	return nil
}

func (e *Endpoint) deliver(msg Message) {
	e.mu.RLock()
	h := e.handler
	closed := e.closed
	e.mu.RUnlock()
	if closed || h == nil {
		return
	}
	h.HandlePeerMessage(msg)
}

func (e *Endpoint) observerRef() Observer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.observer
}

// Close removes the endpoint from the fabric. Idempotent.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	bound := e.bound
	e.mu.Unlock()

	if bound {
		// Only unregister our own registration; the id may have been
		// rebound by a successor endpoint already.
		e.fabric.endpoints.Compute(e.self, func(old *Endpoint, loaded bool) (*Endpoint, bool) {
			return old, loaded && old == e
		})
	}
	return nil
}
