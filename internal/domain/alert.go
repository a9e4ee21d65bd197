package domain

import "time"

// AlertKind enumerates the derived-condition kinds in spec §3/§4.4.
type AlertKind string

const (
	AlertCPUHigh         AlertKind = "cpu_high"
	AlertMemoryHigh      AlertKind = "memory_high"
	AlertDiskHigh        AlertKind = "disk_high"
	AlertBatteryLow      AlertKind = "battery_low"
	AlertTempHigh        AlertKind = "temp_high"
	AlertOffline         AlertKind = "offline"
	AlertFailedDisk      AlertKind = "failed_disk"
	AlertAppCrashesHigh  AlertKind = "app_crashes_high"
)

// Severity is the urgency of an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a read-time derived condition — never persisted, spec §3.
type Alert struct {
	MachineID     string    `json:"machine_id"`
	Kind          AlertKind `json:"kind"`
	Severity      Severity  `json:"severity"`
	ObservedValue float64   `json:"observed_value"`
	Threshold     float64   `json:"threshold"`
	Since         time.Time `json:"since"`
}

// Thresholds holds the configured alert thresholds, spec §4.4 defaults.
type Thresholds struct {
	CPUPercent      float64
	MemoryPercent   float64
	DiskPercent     float64
	BatteryPercent  float64
	TempCelsius     float64
	Crashes24h      int
}

// DefaultThresholds returns spec §4.4's documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUPercent:     90,
		MemoryPercent:  90,
		DiskPercent:    90,
		BatteryPercent: 10,
		TempCelsius:    85,
		Crashes24h:     5,
	}
}
