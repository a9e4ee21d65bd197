// Package alerts derives per-machine alert conditions at read time from the
// latest stored snapshot and the configured thresholds (spec §4.4). Alerts
// are never persisted — a fresh pass runs on every /api/fleet/* read.
package alerts

import (
	"time"

	"github.com/atlasfleet/atlas/internal/domain"
)

// Input is the subset of a machine's stored state alerts derivation needs.
type Input struct {
	MachineID string
	Metrics   domain.MetricReport
	Monitors  map[string]domain.MonitorSnapshot
	LastSeen  time.Time
}

// Derive returns every alert Input currently trips against thresholds, plus
// an offline alert if status has degraded past warning.
func Derive(in Input, thresholds domain.Thresholds, status domain.Status, now time.Time) []domain.Alert {
	var out []domain.Alert

	if in.Metrics.CPU.Percent >= thresholds.CPUPercent {
		out = append(out, alert(in.MachineID, domain.AlertCPUHigh, in.Metrics.CPU.Percent, thresholds.CPUPercent, now))
	}
	if in.Metrics.Memory.Percent >= thresholds.MemoryPercent {
		out = append(out, alert(in.MachineID, domain.AlertMemoryHigh, in.Metrics.Memory.Percent, thresholds.MemoryPercent, now))
	}
	if in.Metrics.Disk.Percent >= thresholds.DiskPercent {
		out = append(out, alert(in.MachineID, domain.AlertDiskHigh, in.Metrics.Disk.Percent, thresholds.DiskPercent, now))
	}
	if in.Metrics.Battery != nil && float64(in.Metrics.Battery.Percent) <= thresholds.BatteryPercent {
		out = append(out, alert(in.MachineID, domain.AlertBatteryLow, float64(in.Metrics.Battery.Percent), thresholds.BatteryPercent, now))
	}
	if in.Metrics.TemperatureC != nil && *in.Metrics.TemperatureC >= thresholds.TempCelsius {
		out = append(out, alert(in.MachineID, domain.AlertTempHigh, *in.Metrics.TemperatureC, thresholds.TempCelsius, now))
	}

	if app, ok := in.Monitors[string(domain.MonitorApplication)]; ok && app.Application != nil {
		if app.Application.Crashes24h >= thresholds.Crashes24h {
			out = append(out, alert(in.MachineID, domain.AlertAppCrashesHigh, float64(app.Application.Crashes24h), float64(thresholds.Crashes24h), now))
		}
	}

	if dh, ok := in.Monitors[string(domain.MonitorDiskHealth)]; ok && dh.DiskHealth != nil {
		for _, vol := range dh.DiskHealth.Volumes {
			if !vol.Healthy {
				out = append(out, alert(in.MachineID, domain.AlertFailedDisk, 0, 0, now))
				break
			}
		}
	}

	if status == domain.StatusOffline {
		out = append(out, alert(in.MachineID, domain.AlertOffline, 0, 0, now))
	}

	return out
}

func alert(machineID string, kind domain.AlertKind, observed, threshold float64, since time.Time) domain.Alert {
	return domain.Alert{
		MachineID:     machineID,
		Kind:          kind,
		Severity:      severityFor(kind),
		ObservedValue: observed,
		Threshold:     threshold,
		Since:         since,
	}
}

func severityFor(kind domain.AlertKind) domain.Severity {
	switch kind {
	case domain.AlertOffline, domain.AlertFailedDisk:
		return domain.SeverityCritical
	default:
		return domain.SeverityWarning
	}
}
