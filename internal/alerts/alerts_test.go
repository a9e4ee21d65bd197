package alerts

import (
	"testing"
	"time"

	"github.com/atlasfleet/atlas/internal/domain"
)

func kinds(alerts []domain.Alert) map[domain.AlertKind]bool {
	m := make(map[domain.AlertKind]bool)
	for _, a := range alerts {
		m[a.Kind] = true
	}
	return m
}

func TestDeriveCPUMemoryDiskHigh(t *testing.T) {
	now := time.Now()
	in := Input{
		MachineID: "mac-01",
		Metrics: domain.MetricReport{
			CPU:    domain.CPUMetric{Percent: 95},
			Memory: domain.MemoryMetric{Percent: 92},
			Disk:   domain.DiskMetric{Percent: 50},
		},
	}
	got := kinds(Derive(in, domain.DefaultThresholds(), domain.StatusOnline, now))
	if !got[domain.AlertCPUHigh] || !got[domain.AlertMemoryHigh] {
		t.Fatalf("expected cpu_high and memory_high, got %v", got)
	}
	if got[domain.AlertDiskHigh] {
		t.Fatalf("disk at 50%% should not alert")
	}
}

func TestDeriveBatteryLow(t *testing.T) {
	now := time.Now()
	in := Input{
		MachineID: "mac-01",
		Metrics: domain.MetricReport{
			Battery: &domain.BatteryMetric{Percent: 5},
		},
	}
	got := kinds(Derive(in, domain.DefaultThresholds(), domain.StatusOnline, now))
	if !got[domain.AlertBatteryLow] {
		t.Fatalf("expected battery_low alert")
	}
}

func TestDeriveOfflineStatus(t *testing.T) {
	now := time.Now()
	in := Input{MachineID: "mac-01"}
	got := kinds(Derive(in, domain.DefaultThresholds(), domain.StatusOffline, now))
	if !got[domain.AlertOffline] {
		t.Fatalf("expected offline alert when status is offline")
	}
}

func TestDeriveAppCrashesAndFailedDisk(t *testing.T) {
	now := time.Now()
	in := Input{
		MachineID: "mac-01",
		Monitors: map[string]domain.MonitorSnapshot{
			string(domain.MonitorApplication): {Application: &domain.ApplicationSnapshot{Crashes24h: 9}},
			string(domain.MonitorDiskHealth): {DiskHealth: &domain.DiskHealthSnapshot{
				Volumes: []domain.DiskHealthVolume{{Device: "disk0", Healthy: false}},
			}},
		},
	}
	got := kinds(Derive(in, domain.DefaultThresholds(), domain.StatusOnline, now))
	if !got[domain.AlertAppCrashesHigh] {
		t.Fatalf("expected app_crashes_high alert")
	}
	if !got[domain.AlertFailedDisk] {
		t.Fatalf("expected failed_disk alert")
	}
}

func TestDeriveNoAlertsWhenHealthy(t *testing.T) {
	now := time.Now()
	in := Input{
		MachineID: "mac-01",
		Metrics: domain.MetricReport{
			CPU:    domain.CPUMetric{Percent: 10},
			Memory: domain.MemoryMetric{Percent: 20},
			Disk:   domain.DiskMetric{Percent: 30},
		},
	}
	got := Derive(in, domain.DefaultThresholds(), domain.StatusOnline, now)
	if len(got) != 0 {
		t.Fatalf("expected no alerts, got %+v", got)
	}
}
