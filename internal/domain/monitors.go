package domain

import "time"

// MonitorKind names one of the registered monitors in the agent's runtime,
// spec §4.1's authoritative monitor table.
type MonitorKind string

const (
	MonitorSystem           MonitorKind = "system"
	MonitorVPN              MonitorKind = "vpn"
	MonitorSaaS             MonitorKind = "saas"
	MonitorNetworkQuality   MonitorKind = "network_quality"
	MonitorWifiRoaming      MonitorKind = "wifi_roaming"
	MonitorSecurity         MonitorKind = "security"
	MonitorApplication      MonitorKind = "application"
	MonitorDiskHealth       MonitorKind = "disk_health"
	MonitorPeripheral       MonitorKind = "peripheral"
	MonitorPower            MonitorKind = "power"
	MonitorDisplay          MonitorKind = "display"
	MonitorSoftwareInventory MonitorKind = "software_inventory"
)

// MonitorIntervals gives the sampling interval for each registered monitor,
// the authoritative list in spec §4.1.
var MonitorIntervals = map[MonitorKind]time.Duration{
	MonitorSystem:            5 * time.Second,
	MonitorVPN:               30 * time.Second,
	MonitorSaaS:              60 * time.Second,
	MonitorNetworkQuality:    60 * time.Second,
	MonitorWifiRoaming:       5 * time.Second,
	MonitorSecurity:          300 * time.Second,
	MonitorApplication:       60 * time.Second,
	MonitorDiskHealth:        300 * time.Second,
	MonitorPeripheral:        60 * time.Second,
	MonitorPower:             60 * time.Second,
	MonitorDisplay:           300 * time.Second,
	MonitorSoftwareInventory: 3600 * time.Second,
}

// AllMonitors is the fixed registration order used by the agent's runtime.
var AllMonitors = []MonitorKind{
	MonitorSystem, MonitorVPN, MonitorSaaS, MonitorNetworkQuality,
	MonitorWifiRoaming, MonitorSecurity, MonitorApplication, MonitorDiskHealth,
	MonitorPeripheral, MonitorPower, MonitorDisplay, MonitorSoftwareInventory,
}

// MonitorSnapshot is the enveloping sum over monitor kinds attached to a
// report's "monitors" block. Exactly one of the typed fields is non-nil;
// Kind says which. This replaces the source's loosely-typed per-monitor
// mapping with an explicit tagged record (spec §9 "Design Notes").
type MonitorSnapshot struct {
	Kind             MonitorKind             `json:"kind"`
	SampledAt        time.Time               `json:"sampled_at"`
	Stale            bool                    `json:"stale"`
	StaleSince       *time.Time              `json:"stale_since,omitempty"`
	VPN              *VPNSnapshot            `json:"vpn,omitempty"`
	SaaS             *SaaSSnapshot           `json:"saas,omitempty"`
	NetworkQuality   *NetworkQualitySnapshot `json:"network_quality,omitempty"`
	WifiRoaming      *WifiRoamingSnapshot    `json:"wifi_roaming,omitempty"`
	Security         *SecuritySnapshot       `json:"security,omitempty"`
	Application      *ApplicationSnapshot    `json:"application,omitempty"`
	DiskHealth       *DiskHealthSnapshot     `json:"disk_health,omitempty"`
	Peripheral       *PeripheralSnapshot     `json:"peripheral,omitempty"`
	Power            *PowerSnapshot          `json:"power,omitempty"`
	Display          *DisplaySnapshot        `json:"display,omitempty"`
	SoftwareInventory *SoftwareInventorySnapshot `json:"software_inventory,omitempty"`
}

// ─── Per-monitor snapshot shapes (spec §4.1 table, abbreviated column) ──────

type VPNClient struct {
	Name         string `json:"name"`
	Connected    bool   `json:"connected"`
	BytesSent    uint64 `json:"bytes_sent"`
	BytesRecv    uint64 `json:"bytes_recv"`
}

type VPNSnapshot struct {
	ActiveClients []VPNClient `json:"active_clients"`
	Events        []string    `json:"events,omitempty"`
}

type SaaSEndpoint struct {
	Name       string  `json:"name"`
	LatencyMS  float64 `json:"latency_ms"`
	Reachable  bool    `json:"reachable"`
}

type SaaSSnapshot struct {
	Endpoints []SaaSEndpoint `json:"endpoints"`
}

type NetworkQualitySnapshot struct {
	TCPRetransmitRate float64            `json:"tcp_retx_rate"`
	DNSLatencyMS      map[string]float64 `json:"dns_latency_ms"`
	TLSHandshakeMS    float64            `json:"tls_ms"`
	HTTPRoundTripMS   float64            `json:"http_ms"`
}

type WifiNeighbor struct {
	BSSID string `json:"bssid"`
	RSSI  int    `json:"rssi"`
}

type WifiRoamingSnapshot struct {
	CurrentBSSID  string         `json:"current_bssid"`
	RSSI          int            `json:"rssi"`
	ChannelUtil   float64        `json:"channel_util"`
	Neighbors     []WifiNeighbor `json:"neighbors,omitempty"`
	RoamEvents    int            `json:"roam_events"`
	Sticky        bool           `json:"sticky"`
}

type SecuritySnapshot struct {
	Firewall       bool `json:"firewall"`
	FileVault      bool `json:"filevault"`
	Gatekeeper     bool `json:"gatekeeper"`
	SIP            bool `json:"sip"`
	PendingUpdates int  `json:"pending_updates"`
	Score          int  `json:"score"`
}

type ApplicationSnapshot struct {
	Crashes24h  int      `json:"crashes_24h"`
	Hangs       int      `json:"hangs"`
	TopCPUApps  []string `json:"top_cpu_apps,omitempty"`
	TopMemApps  []string `json:"top_mem_apps,omitempty"`
}

type SMARTAttribute struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Value int    `json:"value"`
	Raw   int64  `json:"raw"`
}

type DiskHealthVolume struct {
	Device       string           `json:"device"`
	SMARTAttrs   []SMARTAttribute `json:"smart_attrs,omitempty"`
	IOLatencyMS  float64          `json:"io_latency_ms"`
	Healthy      bool             `json:"healthy"`
}

type DiskHealthSnapshot struct {
	Volumes []DiskHealthVolume `json:"volumes"`
}

type PeripheralSnapshot struct {
	Bluetooth  []string `json:"bluetooth,omitempty"`
	USB        []string `json:"usb,omitempty"`
	Thunderbolt []string `json:"thunderbolt,omitempty"`
}

type PowerSnapshot struct {
	BatteryPercent int     `json:"battery_pct"`
	Cycles         int     `json:"cycles"`
	HealthPercent  int     `json:"health_pct"`
	Charging       bool    `json:"charging"`
	ThermalState   string  `json:"thermal"`
}

type DisplayInfo struct {
	Name       string `json:"name"`
	Resolution string `json:"resolution"`
}

type DisplaySnapshot struct {
	Displays []DisplayInfo `json:"displays"`
	GPU      string        `json:"gpu,omitempty"`
	VRAMMB   uint64        `json:"vram_mb,omitempty"`
}

type InstalledApp struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Path    string `json:"path"`
}

type SoftwareInventorySnapshot struct {
	Apps       []InstalledApp `json:"apps"`
	Extensions []string       `json:"extensions,omitempty"`
}

// ─── Sensor failure taxonomy (spec §4.1 "Failure semantics") ───────────────

// SensorFailureKind classifies a typed sampler failure. Never raised to the
// reporter — recorded against the monitor's error counter only.
type SensorFailureKind string

const (
	SensorFailureUnavailable SensorFailureKind = "probe_unavailable"
	SensorFailureParseError  SensorFailureKind = "parse_error"
	SensorFailureTimeout     SensorFailureKind = "timeout"
	SensorFailurePermission  SensorFailureKind = "permission_denied"
	SensorFailureInternal    SensorFailureKind = "internal"
)

// SensorError is the typed error returned by a sampler on failure.
type SensorError struct {
	Kind    SensorFailureKind
	Monitor MonitorKind
	Message string
}

func (e *SensorError) Error() string {
	return string(e.Monitor) + ": " + string(e.Kind) + ": " + e.Message
}
