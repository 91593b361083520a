package node

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shoalstore/shoal/pkg/types"
)

// Config holds the node daemon's tunables. Zero fields fall back to the
// values in DefaultConfig when the node is constructed.
type Config struct {
	// DataDir is the root of the node's data directory.
	DataDir string `yaml:"data_dir"`

	// NodeID is the authority-assigned slot this daemon expects to serve.
	// Left at NodeNone, the identity recorded in the superblock is used.
	NodeID types.NodeID `yaml:"node_id"`

	// PublicAddrs and ClusterAddrs are candidate endpoints handed to the
	// transport at bind time. Empty sets let the transport choose, and
	// cluster addresses without a host inherit the bound public host.
	PublicAddrs  types.AddrSet `yaml:"public_addrs,omitempty"`
	ClusterAddrs types.AddrSet `yaml:"cluster_addrs,omitempty"`

	// MapGapBudget is how many epochs behind the authority's newest map
	// the node may be and still announce itself directly; anything further
	// behind catches up through subscription first.
	MapGapBudget types.Epoch `yaml:"map_gap_budget"`

	// BeaconInterval is how often an active node reports liveness and
	// placement-group stats to the authority.
	BeaconInterval time.Duration `yaml:"beacon_interval"`

	// HeartbeatInterval is how often an active node pings its peers and
	// refreshes the peer set from resident placement groups.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// SnapshotCacheSize and BytesCacheSize bound the decoded-map and
	// encoded-map caches.
	SnapshotCacheSize int `yaml:"snapshot_cache_size"`
	BytesCacheSize    int `yaml:"bytes_cache_size"`

	// AdminAddr is where the admin HTTP endpoint (health, status, metrics)
	// listens. Empty disables it.
	AdminAddr string `yaml:"admin_addr"`
}

// DefaultConfig returns the values a field falls back to when unset.
func DefaultConfig() Config {
	return Config{
		NodeID:            types.NodeNone,
		MapGapBudget:      40,
		BeaconInterval:    30 * time.Second,
		HeartbeatInterval: 6 * time.Second,
		SnapshotCacheSize: 128,
		BytesCacheSize:    256,
		AdminAddr:         "127.0.0.1:7830",
	}
}

// LoadConfig reads a YAML config file. Fields the file omits keep their
// zero values; withDefaults fills those in at construction time.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := Config{NodeID: types.NodeNone}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// UnmarshalYAML decodes durations from their string form ("30s"); YAML has
// no native duration scalar. An omitted node_id stays at whatever the
// receiver held, so it cannot collide with slot zero.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		DataDir           string        `yaml:"data_dir"`
		NodeID            *int64        `yaml:"node_id"`
		PublicAddrs       types.AddrSet `yaml:"public_addrs"`
		ClusterAddrs      types.AddrSet `yaml:"cluster_addrs"`
		MapGapBudget      uint64        `yaml:"map_gap_budget"`
		BeaconInterval    string        `yaml:"beacon_interval"`
		HeartbeatInterval string        `yaml:"heartbeat_interval"`
		SnapshotCacheSize int           `yaml:"snapshot_cache_size"`
		BytesCacheSize    int           `yaml:"bytes_cache_size"`
		AdminAddr         string        `yaml:"admin_addr"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	c.DataDir = raw.DataDir
	if raw.NodeID != nil {
		c.NodeID = types.NodeID(*raw.NodeID)
	}
	c.PublicAddrs = raw.PublicAddrs
	c.ClusterAddrs = raw.ClusterAddrs
	c.MapGapBudget = types.Epoch(raw.MapGapBudget)
	c.SnapshotCacheSize = raw.SnapshotCacheSize
	c.BytesCacheSize = raw.BytesCacheSize
	c.AdminAddr = raw.AdminAddr

	for _, d := range []struct {
		in  string
		out *time.Duration
	}{
		{raw.BeaconInterval, &c.BeaconInterval},
		{raw.HeartbeatInterval, &c.HeartbeatInterval},
	} {
		if d.in == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.in)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", d.in, err)
		}
		*d.out = parsed
	}
	return nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MapGapBudget == 0 {
		c.MapGapBudget = def.MapGapBudget
	}
	if c.BeaconInterval == 0 {
		c.BeaconInterval = def.BeaconInterval
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.SnapshotCacheSize == 0 {
		c.SnapshotCacheSize = def.SnapshotCacheSize
	}
	if c.BytesCacheSize == 0 {
		c.BytesCacheSize = def.BytesCacheSize
	}
	return c
}

// Validate rejects configurations the node cannot start with.
func (c Config) Validate() error {
	if c.NodeID < 0 && c.NodeID != types.NodeNone {
		return fmt.Errorf("invalid node id %d", c.NodeID)
	}
	return nil
}
