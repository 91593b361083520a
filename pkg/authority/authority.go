package authority

import (
	"context"

	"github.com/shoalstore/shoal/pkg/types"
)

// VersionBounds is the span of map epochs the authority currently retains.
// Epochs below Oldest have been trimmed and can only be obtained as full
// snapshots of newer epochs.
type VersionBounds struct {
	Oldest types.Epoch `json:"oldest"`
	Newest types.Epoch `json:"newest"`
}

// Client is the node's narrow handle on the external map authority. The
// consensus service behind it is not this daemon's concern; it subscribes,
// asks for bounds, and sends reports.
//
// Inbound traffic (map batches, creation requests) does not flow through
// this interface; the authority pushes it to the node's event channel via
// the transport layer.
type Client interface {
	// Subscribe registers interest in maps starting at the given epoch.
	// With force, the subscription is renewed even if an existing one
	// already covers that epoch.
	Subscribe(start types.Epoch, force bool) error

	// VersionBounds asks the authority which epoch span it retains.
	VersionBounds(ctx context.Context) (VersionBounds, error)

	// Send delivers one report to the authority.
	Send(ctx context.Context, msg Message) error
}
