// Package leadership periodically confirms a running cell still owns the
// shard assignment it started with, and triggers a clean process exit the
// moment it doesn't — the static shard map is the only source of truth
// (spec.md §5 "Leadership"; Non-goals explicitly rule out dynamic
// rebalancing, so this is a fail-safe against stale configuration, not a
// consensus protocol).
package leadership

import (
	"context"
	"log/slog"
	"time"

	"github.com/cronback-oss/cronback/internal/shard"
)

// Monitor watches self's continued ownership of every owner currently held
// by the registry.
type Monitor struct {
	self     shard.Cell
	shardMap shard.Map
	interval time.Duration
	logger   *slog.Logger

	// Owners returns the set of owners the cell currently believes it is
	// responsible for — supplied by the registry so this package never
	// needs to import it directly.
	Owners func() []string

	// OnLeadershipLost is invoked exactly once, the first time any owned
	// owner's shard no longer resolves to self. Callers use it to trigger
	// a graceful shutdown.
	OnLeadershipLost func(lostOwner string)
}

// NewMonitor builds a Monitor for self within shardMap, polling every
// interval.
func NewMonitor(self shard.Cell, shardMap shard.Map, interval time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		self:     self,
		shardMap: shardMap,
		interval: interval,
		logger:   logger.With("component", "leadership_monitor"),
	}
}

// Run polls until ctx is cancelled or leadership is lost.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if lost, ok := m.checkOnce(); ok {
				m.logger.Error("lost shard leadership, exiting cell", "owner", lost)
				if m.OnLeadershipLost != nil {
					m.OnLeadershipLost(lost)
				}
				return
			}
		}
	}
}

// checkOnce returns the first owner whose shard assignment no longer
// resolves to self, if any.
func (m *Monitor) checkOnce() (owner string, lost bool) {
	if m.Owners == nil {
		return "", false
	}
	for _, o := range m.Owners() {
		if !m.shardMap.Owns(o, m.self) {
			return o, true
		}
	}
	return "", false
}
