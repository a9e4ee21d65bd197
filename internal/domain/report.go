package domain

import "time"

// CPUMetric is the per-report CPU sample, spec §3 MetricReport.cpu.
type CPUMetric struct {
	Percent  float64   `json:"percent"`
	PerCore  []float64 `json:"per_core,omitempty"`
	LoadAvg  [3]float64 `json:"load_avg"`
	Count    int       `json:"count"`
	Threads  int       `json:"threads"`
}

// MemoryMetric is the per-report memory sample.
type MemoryMetric struct {
	TotalBytes   uint64  `json:"total"`
	Available    uint64  `json:"available"`
	Used         uint64  `json:"used"`
	Percent      float64 `json:"percent"`
	SwapTotal    uint64  `json:"swap_total"`
	SwapUsed     uint64  `json:"swap_used"`
	SwapPercent  float64 `json:"swap_percent"`
}

// DiskMetric is one machine's disk I/O/usage sample for its root filesystem.
type DiskMetric struct {
	TotalBytes uint64  `json:"total"`
	UsedBytes  uint64  `json:"used"`
	FreeBytes  uint64  `json:"free"`
	Percent    float64 `json:"percent"`
	ReadBytes  uint64  `json:"read_bytes"`
	WriteBytes uint64  `json:"write_bytes"`
	ReadCount  uint64  `json:"read_count"`
	WriteCount uint64  `json:"write_count"`
}

// NetworkMetric is the per-report network counters sample.
type NetworkMetric struct {
	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	PacketsRecv uint64 `json:"packets_recv"`
	ErrIn       uint64 `json:"errin"`
	ErrOut      uint64 `json:"errout"`
	DropIn      uint64 `json:"dropin"`
	DropOut     uint64 `json:"dropout"`
	Connections int    `json:"connections"`
}

// ProcessSample describes one entry in the top-CPU/top-memory process lists.
type ProcessSample struct {
	PID     int     `json:"pid"`
	Name    string  `json:"name"`
	CPU     float64 `json:"cpu_percent"`
	Memory  float64 `json:"memory_percent"`
}

// ProcessesMetric is the per-report process-table summary.
type ProcessesMetric struct {
	Total     int             `json:"total"`
	TopCPU    []ProcessSample `json:"top_cpu,omitempty"`
	TopMemory []ProcessSample `json:"top_memory,omitempty"`
}

// BatteryMetric is optional, present on laptops.
type BatteryMetric struct {
	Percent  int  `json:"percent"`
	Charging bool `json:"charging"`
}

// SecurityMetric reports host security posture flags.
type SecurityMetric struct {
	Firewall   bool `json:"firewall"`
	FileVault  bool `json:"filevault"`
	Gatekeeper bool `json:"gatekeeper"`
	SIP        bool `json:"sip"`
}

// UserSession describes one logged-in user at sample time.
type UserSession struct {
	Name  string    `json:"name"`
	Since time.Time `json:"since"`
}

// MetricReport is the metrics block of a report, spec §3.
type MetricReport struct {
	MachineID     string           `json:"machine_id"`
	Timestamp     time.Time        `json:"timestamp"`
	UptimeSeconds uint64           `json:"uptime_seconds"`
	CPU           CPUMetric        `json:"cpu"`
	Memory        MemoryMetric     `json:"memory"`
	Disk          DiskMetric       `json:"disk"`
	Network       NetworkMetric    `json:"network"`
	Processes     ProcessesMetric  `json:"processes"`
	Battery       *BatteryMetric   `json:"battery,omitempty"`
	TemperatureC  *float64         `json:"temperature,omitempty"`
	Users         []UserSession    `json:"users,omitempty"`
	Security      *SecurityMetric  `json:"security,omitempty"`
}

// CommandResult is what the agent reports back after running a command.
type CommandResult struct {
	CommandID string `json:"command_id"`
	Status    string `json:"status"` // "ok" | "error" | "unsupported"
	Output    any    `json:"output,omitempty"`
}

// Report is the full wire envelope body, spec §6, after decryption (if any).
type Report struct {
	MachineID      string                    `json:"machine_id"`
	Timestamp      time.Time                 `json:"timestamp"`
	MachineInfo    *MachineInfo              `json:"machine_info,omitempty"`
	Metrics        MetricReport              `json:"metrics"`
	Monitors       map[string]MonitorSnapshot `json:"monitors,omitempty"`
	SpeedTest      *SpeedTestResult          `json:"speedtest,omitempty"`
	CommandResults []CommandResult           `json:"command_results,omitempty"`
}

// ReportResponse is the body returned to the agent on a successful ingest.
type ReportResponse struct {
	OK       bool      `json:"ok"`
	Commands []Command `json:"commands"`
}
