package clustermap

import (
	"encoding/json"
	"fmt"

	"github.com/shoalstore/shoal/pkg/types"
)

// Encode serializes a snapshot into its persisted form. Stored map records
// are always full snapshots; incrementals are applied in memory and the
// result re-encoded before it reaches disk.
func Encode(m *ClusterMap) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode map e%d: %w", m.Epoch, err)
	}
	return b, nil
}

// Decode deserializes a stored snapshot.
func Decode(b []byte) (*ClusterMap, error) {
	var m ClusterMap
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode map: %w", err)
	}
	if m.Pools == nil {
		m.Pools = map[types.PoolID]*Pool{}
	}
	if m.Members == nil {
		m.Members = map[types.NodeID]*Member{}
	}
	return &m, nil
}

// EncodeIncremental serializes an incremental for transmission.
func EncodeIncremental(inc *Incremental) ([]byte, error) {
	b, err := json.Marshal(inc)
	if err != nil {
		return nil, fmt.Errorf("encode incremental e%d: %w", inc.Epoch, err)
	}
	return b, nil
}

// DecodeIncremental deserializes an incremental.
func DecodeIncremental(b []byte) (*Incremental, error) {
	var inc Incremental
	if err := json.Unmarshal(b, &inc); err != nil {
		return nil, fmt.Errorf("decode incremental: %w", err)
	}
	return &inc, nil
}
