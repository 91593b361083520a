package types

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Epoch is the monotonically increasing version of the cluster map. Epoch 0
// never names a published map; it is the "no map yet" sentinel used by
// freshly formatted nodes and by the empty bootstrap snapshot.
type Epoch uint64

// EpochNone is the zero epoch sentinel.
const EpochNone Epoch = 0

// NodeID is the small integer slot the map authority assigns to a storage
// node. It is stable across restarts of the same daemon.
type NodeID int32

// NodeNone marks the absence of a node assignment.
const NodeNone NodeID = -1

func (n NodeID) String() string {
	return fmt.Sprintf("node.%d", int32(n))
}

// PoolID identifies a storage pool within the cluster map.
type PoolID int64

// ReplicaPos is the erasure-coded chunk position a placement-group identity
// is bound to. Replicated pools do not bind a position and use ReplicaNone.
type ReplicaPos int8

// ReplicaNone marks a replicated-pool identity (no fixed chunk position).
const ReplicaNone ReplicaPos = -1

// PGID identifies one placement group: the pool it belongs to, the shard
// index within the pool's shard space, and the replica position for
// erasure-coded pools.
type PGID struct {
	Pool    PoolID     `json:"pool"`
	Shard   uint32     `json:"shard"`
	Replica ReplicaPos `json:"replica"`
}

// String renders the canonical form used in logs and collection names:
// "1.a" for replicated identities, "1.ar2" for erasure-coded ones. The
// shard index is hexadecimal.
func (p PGID) String() string {
	if p.Replica == ReplicaNone {
		return fmt.Sprintf("%d.%x", int64(p.Pool), p.Shard)
	}
	return fmt.Sprintf("%d.%xr%d", int64(p.Pool), p.Shard, int8(p.Replica))
}

// ParsePGID parses the canonical String form.
func ParsePGID(s string) (PGID, error) {
	var out PGID
	out.Replica = ReplicaNone

	dot := strings.IndexByte(s, '.')
	if dot <= 0 || dot == len(s)-1 {
		return out, fmt.Errorf("malformed pg id %q", s)
	}
	pool, err := strconv.ParseInt(s[:dot], 10, 64)
	if err != nil {
		return out, fmt.Errorf("malformed pg id %q: %w", s, err)
	}
	rest := s[dot+1:]
	if r := strings.IndexByte(rest, 'r'); r >= 0 {
		pos, err := strconv.ParseInt(rest[r+1:], 10, 8)
		if err != nil {
			return out, fmt.Errorf("malformed pg id %q: %w", s, err)
		}
		out.Replica = ReplicaPos(pos)
		rest = rest[:r]
	}
	shard, err := strconv.ParseUint(rest, 16, 32)
	if err != nil {
		return out, fmt.Errorf("malformed pg id %q: %w", s, err)
	}
	out.Pool = PoolID(pool)
	out.Shard = uint32(shard)
	return out, nil
}

// NodeState is the lifecycle state of the node daemon.
type NodeState string

const (
	// NodeStateInitializing covers local startup: engine mount, superblock
	// load, placement-group restore, transport bind.
	NodeStateInitializing NodeState = "initializing"
	// NodeStatePreboot means the node is deciding whether it may announce
	// itself, based on its current map and the authority's version bounds.
	NodeStatePreboot NodeState = "preboot"
	// NodeStateBooting means the boot announcement is sent and the node is
	// waiting to appear up in a published map.
	NodeStateBooting NodeState = "booting"
	// NodeStateActive means the node serves and reacts to map changes.
	NodeStateActive NodeState = "active"
	// NodeStateStopping means shutdown is in progress; waiters are failed
	// and no new work is admitted.
	NodeStateStopping NodeState = "stopping"
	// NodeStateStopped means the daemon has fully shut down.
	NodeStateStopped NodeState = "stopped"
)

// IsStopping reports whether the node is shutting down or already stopped.
func (s NodeState) IsStopping() bool {
	return s == NodeStateStopping || s == NodeStateStopped
}

// Release names a daemon feature generation. The map authority records the
// minimum release the cluster requires of its nodes.
type Release int

const (
	ReleaseUnknown Release = iota
	ReleaseAnchovy
	ReleaseBluefin
	ReleaseCapelin
)

// CurrentRelease is the release this build implements.
const CurrentRelease = ReleaseCapelin

// MinSupportedRelease is the oldest cluster requirement this build serves
// without degraded-mode warnings.
const MinSupportedRelease = ReleaseBluefin

func (r Release) String() string {
	switch r {
	case ReleaseAnchovy:
		return "anchovy"
	case ReleaseBluefin:
		return "bluefin"
	case ReleaseCapelin:
		return "capelin"
	default:
		return "unknown"
	}
}

// Addr is one network endpoint of a node. The nonce distinguishes process
// incarnations bound to the same host:port, so a restarted daemon never
// matches its predecessor's advertised address.
type Addr struct {
	Host  string `json:"host"`
	Port  int    `json:"port"`
	Nonce uint32 `json:"nonce"`
}

func (a Addr) String() string {
	return fmt.Sprintf("%s:%d/%d", a.Host, a.Port, a.Nonce)
}

// Equal compares host, port and nonce.
func (a Addr) Equal(b Addr) bool {
	return a.Host == b.Host && a.Port == b.Port && a.Nonce == b.Nonce
}

// IsBlank reports whether the address carries no endpoint.
func (a Addr) IsBlank() bool {
	return a.Host == "" && a.Port == 0
}

// AddrSet is the ordered list of endpoints a node advertises for one
// channel (public or cluster).
type AddrSet []Addr

// Equal reports element-wise equality, order included.
func (s AddrSet) Equal(o AddrSet) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if !s[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

// Empty reports whether the set carries no usable endpoint.
func (s AddrSet) Empty() bool {
	for _, a := range s {
		if !a.IsBlank() {
			return false
		}
	}
	return true
}

func (s AddrSet) String() string {
	parts := make([]string, len(s))
	for i, a := range s {
		parts[i] = a.String()
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Clone returns a copy sharing no storage with the receiver.
func (s AddrSet) Clone() AddrSet {
	if s == nil {
		return nil
	}
	out := make(AddrSet, len(s))
	copy(out, s)
	return out
}

// WithNonce returns a copy of the set with every nonce replaced. Used when
// one channel inherits another channel's endpoints at bind time.
func (s AddrSet) WithNonce(nonce uint32) AddrSet {
	out := s.Clone()
	for i := range out {
		out[i].Nonce = nonce
	}
	return out
}

// SortNodeIDs sorts a node id slice in place and returns it.
func SortNodeIDs(ids []NodeID) []NodeID {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
