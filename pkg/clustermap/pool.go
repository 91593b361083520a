package clustermap

import (
	"github.com/shoalstore/shoal/pkg/types"
)

// PoolType selects the redundancy scheme of a pool.
type PoolType string

const (
	PoolTypeReplicated PoolType = "replicated"
	PoolTypeErasure    PoolType = "erasure"
)

// PoolFlag is a per-pool behavior toggle.
type PoolFlag uint32

const (
	// PoolCreating is set while the authority is still driving initial
	// placement-group creation for the pool. Nodes only honor
	// authority-driven creation requests for pools carrying this flag.
	PoolCreating PoolFlag = 1 << iota
	// PoolNoWrite blocks client writes to the pool.
	PoolNoWrite
)

// Has reports whether all bits of x are set.
func (f PoolFlag) Has(x PoolFlag) bool {
	return f&x == x
}

// Pool is one storage pool's description within a map epoch.
type Pool struct {
	ID   types.PoolID `json:"id"`
	Name string       `json:"name"`
	Type PoolType     `json:"type"`

	// Size is the replica count for replicated pools and the total chunk
	// count (data plus parity) for erasure-coded pools.
	Size int `json:"size"`
	// PGCount is the number of placement-group shards the pool spreads
	// its objects over.
	PGCount uint32 `json:"pg_count"`

	Flags PoolFlag `json:"flags,omitempty"`
	// LastChange is the epoch that last modified this pool record.
	LastChange types.Epoch `json:"last_change,omitempty"`

	ErasureProfile map[string]string `json:"erasure_profile,omitempty"`
}

// IsReplicated reports whether the pool uses whole-object replicas.
func (p *Pool) IsReplicated() bool {
	return p.Type == PoolTypeReplicated
}

// IsCreating reports whether initial PG creation is still in progress.
func (p *Pool) IsCreating() bool {
	return p.Flags.Has(PoolCreating)
}

// Clone returns a deep copy.
func (p *Pool) Clone() *Pool {
	out := *p
	if p.ErasureProfile != nil {
		out.ErasureProfile = make(map[string]string, len(p.ErasureProfile))
		for k, v := range p.ErasureProfile {
			out.ErasureProfile[k] = v
		}
	}
	return &out
}
