package metrics

import (
	"context"
	"sync"
	"time"

	"grimm.is/appredirect/internal/clock"
	"grimm.is/appredirect/internal/logging"
)

// RuleCounter reports how many REDIRECT rules are live per protocol.
type RuleCounter func(ctx context.Context) (tcp, udp int, err error)

// Collector samples the NAT table and updates the registry. The daemon drives
// it from a scheduler task.
type Collector struct {
	registry *Registry
	logger   *logging.Logger
	count    RuleCounter

	mu         sync.RWMutex
	lastUpdate time.Time
	lastTCP    int
	lastUDP    int
	lastErr    error
}

// NewCollector creates a new metrics collector.
func NewCollector(logger *logging.Logger, count RuleCounter) *Collector {
	return &Collector{
		registry: Get(),
		logger:   logger.WithComponent("metrics"),
		count:    count,
	}
}

// Collect takes one sample. It has the scheduler.TaskFunc shape.
func (c *Collector) Collect(ctx context.Context) error {
	tcp, udp, err := c.count(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err
	c.lastUpdate = clock.Now()
	if err != nil {
		c.logger.Warn("Failed to count redirect rules", "error", err)
		return err
	}
	c.lastTCP, c.lastUDP = tcp, udp
	c.registry.SetRuleCounts(tcp, udp)
	return nil
}

// Last returns the most recent sample.
func (c *Collector) Last() (tcp, udp int, at time.Time, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastTCP, c.lastUDP, c.lastUpdate, c.lastErr
}
