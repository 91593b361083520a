package node

import (
	"github.com/shoalstore/shoal/pkg/authority"
	"github.com/shoalstore/shoal/pkg/transport"
	"github.com/shoalstore/shoal/pkg/types"
)

// event is the closed union of everything the run loop consumes. Each kind
// has exactly one handler in handleEvent; nothing else mutates node state.
type event interface {
	isEvent()
}

// mapBatchEvent carries one authority (or peer-forwarded) map batch.
type mapBatchEvent struct {
	batch *authority.MapBatch
}

// pgCreateEvent carries one authority-driven creation request.
type pgCreateEvent struct {
	req authority.PGCreateRequest
}

// clientOpEvent carries one data-path operation awaiting admission. done
// receives the admission outcome exactly once.
type clientOpEvent struct {
	op   ClientOp
	done chan error
}

// peeringMsgEvent carries one peer-to-peer message addressed to a resident
// (or to-be-created) placement group.
type peeringMsgEvent struct {
	from     types.NodeID
	pg       types.PGID
	minEpoch types.Epoch
	payload  []byte
}

type connectionChange int

const (
	connOpened connectionChange = iota
	connReset
	connRemoteReset
)

func (c connectionChange) String() string {
	switch c {
	case connOpened:
		return "opened"
	case connReset:
		return "reset"
	case connRemoteReset:
		return "remote-reset"
	default:
		return "unknown"
	}
}

// connectionEvent notes a transport session change.
type connectionEvent struct {
	peer   types.NodeID
	kind   transport.PeerType
	change connectionChange
}

func (mapBatchEvent) isEvent()   {}
func (pgCreateEvent) isEvent()   {}
func (clientOpEvent) isEvent()   {}
func (peeringMsgEvent) isEvent() {}
func (connectionEvent) isEvent() {}
