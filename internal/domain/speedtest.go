package domain

import "time"

// SpeedTestResult is one speed-test sample, spec §3/§4.8.
type SpeedTestResult struct {
	MachineID     string    `json:"machine_id"`
	Timestamp     time.Time `json:"timestamp"`
	DownloadMbps  float64   `json:"download_mbps"`
	UploadMbps    float64   `json:"upload_mbps"`
	PingMS        float64   `json:"ping_ms"`
	JitterMS      *float64  `json:"jitter_ms,omitempty"`
	PacketLossPct *float64  `json:"packet_loss_pct,omitempty"`
	Server        string    `json:"server"`
	ISP           string    `json:"isp,omitempty"`
}
