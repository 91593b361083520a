package node

import (
	"time"

	"github.com/shoalstore/shoal/pkg/metrics"
	"github.com/shoalstore/shoal/pkg/placement"
)

// MetricsCollector periodically samples the node's gauges that no single
// event owns: per-role placement-group counts and the gate's progress.
// Counter-style metrics are incremented at their source instead.
type MetricsCollector struct {
	node   *Node
	stopCh chan struct{}
}

// NewMetricsCollector creates a collector for the node.
func NewMetricsCollector(n *Node) *MetricsCollector {
	return &MetricsCollector{
		node:   n,
		stopCh: make(chan struct{}),
	}
}

// Start begins sampling.
func (c *MetricsCollector) Start() {
	ticker := c.node.clock.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.Chan():
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *MetricsCollector) Stop() {
	close(c.stopCh)
}

func (c *MetricsCollector) collect() {
	counts := map[string]int{"primary": 0, "replica": 0, "none": 0}
	for _, g := range c.node.registry.Resident() {
		switch {
		case g.IsPrimary():
			counts["primary"]++
		case g.Role() == placement.RoleNone:
			counts["none"]++
		default:
			counts["replica"]++
		}
	}
	for role, count := range counts {
		metrics.PGsTotal.WithLabelValues(role).Set(float64(count))
	}

	st := c.node.Status()
	metrics.CurrentEpoch.Set(float64(st.Epoch))
	metrics.NewestStoredEpoch.Set(float64(st.NewestMap))
	metrics.OldestStoredEpoch.Set(float64(st.OldestMap))
}
