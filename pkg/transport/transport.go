package transport

import (
	"context"
	"errors"

	"github.com/shoalstore/shoal/pkg/types"
)

var (
	// ErrClosed is returned by operations on a closed endpoint.
	ErrClosed = errors.New("transport: endpoint closed")
	// ErrNotBound is returned when sending before Bind has assigned
	// addresses to the endpoint.
	ErrNotBound = errors.New("transport: endpoint not bound")
	// ErrPeerUnreachable is returned when no live endpoint answers for the
	// destination node.
	ErrPeerUnreachable = errors.New("transport: peer unreachable")
)

// PeerType classifies the remote end of a connection event. Observers use
// it to decide which events matter: authority connections are tracked,
// everything else is a log point at most.
type PeerType string

const (
	PeerTypeNode      PeerType = "node"
	PeerTypeAuthority PeerType = "authority"
	PeerTypeClient    PeerType = "client"
)

// Message is one peer-to-peer frame between storage nodes. The payload is
// opaque to the transport; PG and MinEpoch ride outside it so the receiving
// node can admit the message against its map gate and placement-group
// registry without decoding the body.
type Message struct {
	From     types.NodeID
	PG       types.PGID
	MinEpoch types.Epoch
	Payload  []byte
}

// Handler receives inbound peer messages. Implementations must not block:
// the loopback fabric delivers synchronously on the sender's goroutine.
type Handler interface {
	HandlePeerMessage(msg Message)
}

// Observer receives connection lifecycle notes. None of them carry
// obligations for correctness; the node treats them as log points and
// filters by peer type.
type Observer interface {
	PeerConnected(peer types.NodeID, kind PeerType)
	PeerReset(peer types.NodeID, kind PeerType)
	PeerRemoteReset(peer types.NodeID, kind PeerType)
}

// Transport is the node's messaging endpoint. Bind claims concrete
// addresses for the public and cluster channels from the supplied
// candidates: zero ports are assigned, blank public hosts resolve to a
// local default, and every returned address carries a fresh nonce for this
// process incarnation. Blank cluster hosts are returned blank; the caller
// substitutes them from the public channel before advertising.
type Transport interface {
	// Attach registers the inbound handler and connection observer. It must
	// be called before Bind; nil arguments disable the respective callbacks.
	Attach(h Handler, o Observer)

	// Bind claims addresses for both channels and makes the endpoint
	// reachable.
	Bind(public, cluster types.AddrSet) (types.AddrSet, types.AddrSet, error)

	// Send delivers one message to a peer node.
	Send(ctx context.Context, to types.NodeID, msg Message) error

	// Close tears the endpoint down; peers sending afterwards get
	// ErrPeerUnreachable.
	Close() error
}
