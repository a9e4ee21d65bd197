// Package agentsupervisor wires the agent's boot sequence: load config,
// start the monitor runtime, start the reporter, wait for a shutdown
// signal, and stop everything within a bounded grace period.
package agentsupervisor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/atlasfleet/atlas/internal/agentconfig"
	"github.com/atlasfleet/atlas/internal/cryptobox"
	"github.com/atlasfleet/atlas/internal/domain"
	"github.com/atlasfleet/atlas/internal/fleetlog"
	"github.com/atlasfleet/atlas/internal/monitor"
	"github.com/atlasfleet/atlas/internal/reporter"
	"github.com/atlasfleet/atlas/internal/sensors"
)

// shutdownGrace bounds how long a cooperating worker has to finish its
// current sample or in-flight HTTP request before the process exits
// (spec §5 "Agent").
const shutdownGrace = 10 * time.Second

// Supervisor owns the monitor runtime and reporter for one agent process.
type Supervisor struct {
	cfg      agentconfig.Config
	log      *fleetlog.Logger
	runtime  *monitor.Runtime
	system   *systemCache
	reporter *reporter.Reporter
}

// New builds a Supervisor from a loaded config. configPath is kept so the
// reload_config command can re-read the same file the process booted from.
func New(cfg agentconfig.Config, configPath string, log *fleetlog.Logger) (*Supervisor, error) {
	var key []byte
	if cfg.EncryptionKey != "" {
		k, err := cryptobox.ParseKey(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("agentsupervisor: %w", err)
		}
		key = k
	}

	samplers := buildSamplers(cfg)
	csvPath := filepath.Join(cfg.DataDir, "monitors.csv")
	rt := monitor.New(cfg.MachineID, samplers, csvPath, log)
	sysCache := newSystemCache(log)

	rep := reporter.New(cfg.MachineID, cfg.ServerURL, cfg.APIKey, key, cfg.Interval, rt, nil, log)
	rep.Executor = newExecutor(configPath, rt, rep, log)
	rep.SetMetricsSource(sysCache)
	rep.SetMachineInfo(collectMachineInfo())

	return &Supervisor{cfg: cfg, log: log, runtime: rt, system: sysCache, reporter: rep}, nil
}

// RunOnce samples every monitor and the system metrics exactly once,
// posts a single report, and returns — the --no-daemon path, for
// cron-style invocation instead of a long-lived process.
func (s *Supervisor) RunOnce(ctx context.Context) error {
	if err := os.MkdirAll(s.cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("agentsupervisor: create data dir: %w", err)
	}

	snapshots := make(map[string]domain.MonitorSnapshot)
	for kind, sampler := range buildSamplers(s.cfg) {
		snap, err := sampler(ctx)
		if err != nil {
			s.log.WithField("monitor", kind).WithField("error", err).Warn("agentsupervisor: one-shot sample failed")
			continue
		}
		snap.Kind = kind
		snap.SampledAt = time.Now().UTC()
		snapshots[string(kind)] = snap
	}

	metrics, err := sensors.SampleSystem(ctx)
	if err != nil {
		return fmt.Errorf("agentsupervisor: sample system metrics: %w", err)
	}

	report := domain.Report{
		MachineID:   s.cfg.MachineID,
		Timestamp:   time.Now().UTC(),
		MachineInfo: collectMachineInfo(),
		Metrics:     metrics,
		Monitors:    snapshots,
	}
	return s.reporter.SendOnce(ctx, report)
}

// Run starts every worker, blocks until ctx is canceled or a terminating
// signal arrives, then shuts everything down within shutdownGrace.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("agentsupervisor: create data dir: %w", err)
	}

	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s.runtime.Start(runCtx)
	go s.system.Run(runCtx)

	reporterDone := make(chan struct{})
	go func() {
		s.reporter.Run(runCtx)
		close(reporterDone)
	}()

	<-runCtx.Done()
	s.log.Info("agentsupervisor: shutdown signal received, draining workers")

	s.runtime.Stop()

	select {
	case <-reporterDone:
	case <-time.After(shutdownGrace):
		s.log.Warn("agentsupervisor: reporter did not exit within grace period")
	}
	return nil
}

// buildSamplers adapts every sensors.Sample* function, whose return types
// are per-monitor typed snapshots, to the single monitor.Sampler contract
// of returning a domain.MonitorSnapshot with exactly one field populated.
func buildSamplers(cfg agentconfig.Config) map[domain.MonitorKind]monitor.Sampler {
	stickyCfg := sensors.StickyConfig{
		RSSIThreshold: cfg.StickyRSSIThreshold,
		Duration:      int(cfg.StickyDuration.Seconds()),
		NeighborMin:   cfg.StickyNeighborMin,
	}

	return map[domain.MonitorKind]monitor.Sampler{
		domain.MonitorVPN: func(ctx context.Context) (domain.MonitorSnapshot, error) {
			snap, err := sensors.SampleVPN(ctx)
			if err != nil {
				return domain.MonitorSnapshot{}, err
			}
			return domain.MonitorSnapshot{VPN: &snap}, nil
		},
		domain.MonitorSaaS: func(ctx context.Context) (domain.MonitorSnapshot, error) {
			snap, err := sensors.SampleSaaS(ctx, cfg.SaaSEndpoints)
			if err != nil {
				return domain.MonitorSnapshot{}, err
			}
			return domain.MonitorSnapshot{SaaS: &snap}, nil
		},
		domain.MonitorNetworkQuality: func(ctx context.Context) (domain.MonitorSnapshot, error) {
			snap, err := sensors.SampleNetworkQuality(ctx)
			if err != nil {
				return domain.MonitorSnapshot{}, err
			}
			return domain.MonitorSnapshot{NetworkQuality: &snap}, nil
		},
		domain.MonitorWifiRoaming: func(ctx context.Context) (domain.MonitorSnapshot, error) {
			snap, err := sensors.SampleWifiRoaming(ctx, stickyCfg)
			if err != nil {
				return domain.MonitorSnapshot{}, err
			}
			return domain.MonitorSnapshot{WifiRoaming: &snap}, nil
		},
		domain.MonitorSecurity: func(ctx context.Context) (domain.MonitorSnapshot, error) {
			snap, err := sensors.SampleSecurity(ctx)
			if err != nil {
				return domain.MonitorSnapshot{}, err
			}
			return domain.MonitorSnapshot{Security: &snap}, nil
		},
		domain.MonitorApplication: func(ctx context.Context) (domain.MonitorSnapshot, error) {
			snap, err := sensors.SampleApplication(ctx)
			if err != nil {
				return domain.MonitorSnapshot{}, err
			}
			return domain.MonitorSnapshot{Application: &snap}, nil
		},
		domain.MonitorDiskHealth: func(ctx context.Context) (domain.MonitorSnapshot, error) {
			snap, err := sensors.SampleDiskHealth(ctx)
			if err != nil {
				return domain.MonitorSnapshot{}, err
			}
			return domain.MonitorSnapshot{DiskHealth: &snap}, nil
		},
		domain.MonitorPeripheral: func(ctx context.Context) (domain.MonitorSnapshot, error) {
			snap, err := sensors.SamplePeripheral(ctx)
			if err != nil {
				return domain.MonitorSnapshot{}, err
			}
			return domain.MonitorSnapshot{Peripheral: &snap}, nil
		},
		domain.MonitorPower: func(ctx context.Context) (domain.MonitorSnapshot, error) {
			snap, err := sensors.SamplePower(ctx)
			if err != nil {
				return domain.MonitorSnapshot{}, err
			}
			return domain.MonitorSnapshot{Power: &snap}, nil
		},
		domain.MonitorDisplay: func(ctx context.Context) (domain.MonitorSnapshot, error) {
			snap, err := sensors.SampleDisplay(ctx)
			if err != nil {
				return domain.MonitorSnapshot{}, err
			}
			return domain.MonitorSnapshot{Display: &snap}, nil
		},
		domain.MonitorSoftwareInventory: func(ctx context.Context) (domain.MonitorSnapshot, error) {
			snap, err := sensors.SampleSoftwareInventory(ctx)
			if err != nil {
				return domain.MonitorSnapshot{}, err
			}
			return domain.MonitorSnapshot{SoftwareInventory: &snap}, nil
		},
	}
}
