package agentsupervisor

import (
	"context"
	"sync"
	"time"

	"github.com/atlasfleet/atlas/internal/domain"
	"github.com/atlasfleet/atlas/internal/fleetlog"
	"github.com/atlasfleet/atlas/internal/sensors"
)

// systemCache runs the system monitor on its own ticker and caches the
// latest MetricReport. Unlike the other eleven monitors, system metrics
// populate the report's top-level "metrics" block rather than the
// "monitors" map (spec §6), so it does not go through monitor.Runtime's
// MonitorSnapshot-shaped sampler contract.
type systemCache struct {
	mu     sync.RWMutex
	latest domain.MetricReport
	has    bool
	log    *fleetlog.Logger
}

func newSystemCache(log *fleetlog.Logger) *systemCache {
	return &systemCache{log: log}
}

// Run samples on the system monitor's configured interval until ctx is
// canceled.
func (c *systemCache) Run(ctx context.Context) {
	interval := domain.MonitorIntervals[domain.MonitorSystem]
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sample(ctx)
		}
	}
}

func (c *systemCache) sample(ctx context.Context) {
	report, err := sensors.SampleSystem(ctx)
	if err != nil {
		if c.log != nil {
			c.log.WithField("error", err).Debug("system monitor sample failed")
		}
		return
	}
	c.mu.Lock()
	c.latest = report
	c.has = true
	c.mu.Unlock()
}

// Latest implements reporter.MetricsSource.
func (c *systemCache) Latest() (domain.MetricReport, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest, c.has
}
