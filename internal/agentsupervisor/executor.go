package agentsupervisor

import (
	"context"
	"time"

	"github.com/atlasfleet/atlas/internal/agentconfig"
	"github.com/atlasfleet/atlas/internal/cryptobox"
	"github.com/atlasfleet/atlas/internal/domain"
	"github.com/atlasfleet/atlas/internal/fleetlog"
	"github.com/atlasfleet/atlas/internal/monitor"
	"github.com/atlasfleet/atlas/internal/reporter"
	"github.com/atlasfleet/atlas/internal/sensors"
)

// defaultQuiesceDuration is used when a quiesce command omits
// duration_seconds.
const defaultQuiesceDuration = 5 * time.Minute

// executor runs server-dispatched commands. It does not track which
// command_ids it has run: a repeated command_id is filtered out by the LRU
// in internal/reporter before Execute is called, and Execute itself runs
// whatever command it is given.
type executor struct {
	configPath string
	runtime    *monitor.Runtime
	reporter   *reporter.Reporter
	log        *fleetlog.Logger
}

func newExecutor(configPath string, rt *monitor.Runtime, rep *reporter.Reporter, log *fleetlog.Logger) *executor {
	return &executor{configPath: configPath, runtime: rt, reporter: rep, log: log}
}

// Execute implements reporter.Executor.
func (e *executor) Execute(ctx context.Context, cmd domain.Command) domain.CommandResult {
	if !domain.KnownCommandTypes[cmd.Type] {
		return domain.CommandResult{CommandID: cmd.CommandID, Status: "unsupported"}
	}

	switch cmd.Type {
	case domain.CommandSpeedtestNow:
		return e.runSpeedtestNow(ctx, cmd)
	case domain.CommandReloadConfig:
		return e.runReloadConfig(ctx, cmd)
	case domain.CommandQuiesce:
		return e.runQuiesce(ctx, cmd)
	case domain.CommandCollectDiag:
		return e.runCollectDiag(ctx, cmd)
	default:
		return domain.CommandResult{CommandID: cmd.CommandID, Status: "unsupported"}
	}
}

// runSpeedtestNow runs a real download/upload/ping sample via
// sensors.SampleSpeedtest and reports it as the result's output — spec §8
// scenario 4's literal `output:{download,upload,ping}` shape.
func (e *executor) runSpeedtestNow(ctx context.Context, cmd domain.Command) domain.CommandResult {
	result, err := sensors.SampleSpeedtest(ctx, cmd.MachineID)
	if err != nil {
		e.log.WithField("command_id", cmd.CommandID).WithField("error", err).Warn("speedtest_now failed")
		return domain.CommandResult{CommandID: cmd.CommandID, Status: "error", Output: err.Error()}
	}
	e.log.WithField("command_id", cmd.CommandID).Info("speedtest_now complete")
	return domain.CommandResult{
		CommandID: cmd.CommandID,
		Status:    "ok",
		Output: map[string]float64{
			"download": result.DownloadMbps,
			"upload":   result.UploadMbps,
			"ping":     result.PingMS,
		},
	}
}

// runReloadConfig re-reads the config file from disk and applies the
// fields that are safe to change on a running agent: report interval and
// encryption key. Fields that only take effect through buildSamplers
// (sticky-client thresholds, SaaS endpoints) require a process restart —
// this command doesn't attempt to hot-swap the monitor set.
func (e *executor) runReloadConfig(ctx context.Context, cmd domain.Command) domain.CommandResult {
	cfg, err := agentconfig.Load(e.configPath)
	if err != nil {
		e.log.WithField("command_id", cmd.CommandID).WithField("error", err).Warn("reload_config failed")
		return domain.CommandResult{CommandID: cmd.CommandID, Status: "error", Output: err.Error()}
	}

	e.reporter.Interval = cfg.Interval
	if cfg.EncryptionKey != "" {
		key, err := cryptobox.ParseKey(cfg.EncryptionKey)
		if err != nil {
			e.log.WithField("command_id", cmd.CommandID).WithField("error", err).Warn("reload_config: bad encryption key")
			return domain.CommandResult{CommandID: cmd.CommandID, Status: "error", Output: err.Error()}
		}
		e.reporter.EncryptionKey = key
	} else {
		e.reporter.EncryptionKey = nil
	}

	e.log.WithField("command_id", cmd.CommandID).Info("reload_config applied interval and encryption key")
	return domain.CommandResult{
		CommandID: cmd.CommandID,
		Status:    "ok",
		Output:    map[string]any{"interval_seconds": cfg.Interval.Seconds()},
	}
}

// runQuiesce pauses both the monitor runtime and the reporter's send loop
// for args["duration_seconds"] (defaultQuiesceDuration if absent/invalid).
func (e *executor) runQuiesce(ctx context.Context, cmd domain.Command) domain.CommandResult {
	duration := defaultQuiesceDuration
	if raw, ok := cmd.Args["duration_seconds"]; ok {
		if seconds, ok := raw.(float64); ok && seconds > 0 {
			duration = time.Duration(seconds) * time.Second
		}
	}

	e.runtime.Quiesce(duration)
	e.reporter.Quiesce(duration)

	e.log.WithField("command_id", cmd.CommandID).WithField("duration", duration).Info("quiesce applied")
	return domain.CommandResult{
		CommandID: cmd.CommandID,
		Status:    "ok",
		Output:    map[string]any{"quiesced_seconds": duration.Seconds()},
	}
}

// runCollectDiag gathers every monitor's latest snapshot plus current
// machine facts into the result's output — a point-in-time diagnostic
// bundle an operator can pull without waiting for the next scheduled
// report.
func (e *executor) runCollectDiag(ctx context.Context, cmd domain.Command) domain.CommandResult {
	now := time.Now()
	recentFailures := map[string][]monitor.SampleRecord{}
	for kind := range e.runtime.AllSnapshots() {
		records, err := e.runtime.QueryRange(domain.MonitorKind(kind), now.Add(-time.Hour), now)
		if err != nil {
			continue
		}
		var failed []monitor.SampleRecord
		for _, rec := range records {
			if !rec.OK {
				failed = append(failed, rec)
			}
		}
		if len(failed) > 0 {
			recentFailures[kind] = failed
		}
	}

	diag := map[string]any{
		"machine_info":    collectMachineInfo(),
		"monitors":        e.runtime.AllSnapshots(),
		"recent_failures": recentFailures,
	}
	e.log.WithField("command_id", cmd.CommandID).Info("collect_diag complete")
	return domain.CommandResult{CommandID: cmd.CommandID, Status: "ok", Output: diag}
}
