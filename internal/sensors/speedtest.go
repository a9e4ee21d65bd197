package sensors

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"net/http"
	"time"

	"github.com/atlasfleet/atlas/internal/domain"
)

// SpeedtestDownloadURL/UploadURL are configurable probe targets, the same
// pattern as NetworkQualityTargets — spec §4.9 names the speedtest_now
// operation but leaves its measurement method unspecified.
var (
	SpeedtestDownloadURL = "https://speed.cloudflare.com/__down?bytes=25000000"
	SpeedtestUploadURL   = "https://speed.cloudflare.com/__up"
)

const speedtestUploadBytes = 4 << 20 // 4 MiB payload

// SampleSpeedtest measures real download/upload throughput and round-trip
// latency against SpeedtestDownloadURL/UploadURL, timed the same way
// SampleNetworkQuality times its probes — wall-clock bytes transferred over
// elapsed time, no external speedtest client required.
func SampleSpeedtest(ctx context.Context, machineID string) (domain.SpeedTestResult, error) {
	client := &http.Client{Timeout: 30 * time.Second}

	downloadMbps, err := measureDownload(ctx, client)
	if err != nil {
		return domain.SpeedTestResult{}, &domain.SensorError{
			Kind:    domain.SensorFailureTimeout,
			Monitor: domain.MonitorKind("speedtest"),
			Message: "download probe failed: " + err.Error(),
		}
	}

	uploadMbps, err := measureUpload(ctx, client)
	if err != nil {
		return domain.SpeedTestResult{}, &domain.SensorError{
			Kind:    domain.SensorFailureTimeout,
			Monitor: domain.MonitorKind("speedtest"),
			Message: "upload probe failed: " + err.Error(),
		}
	}

	// Reuse the network-quality probe for time-to-first-byte as the ping
	// figure — it issues a GET and times headers-received, not a full body
	// read, so it stays a latency measurement rather than a second download.
	timing, err := probeOnce(ctx, SpeedtestDownloadURL)
	if err != nil {
		return domain.SpeedTestResult{}, &domain.SensorError{
			Kind:    domain.SensorFailureTimeout,
			Monitor: domain.MonitorKind("speedtest"),
			Message: "ping probe failed: " + err.Error(),
		}
	}

	return domain.SpeedTestResult{
		MachineID:    machineID,
		Timestamp:    time.Now().UTC(),
		DownloadMbps: downloadMbps,
		UploadMbps:   uploadMbps,
		PingMS:       float64(timing.total.Milliseconds()),
		Server:       hostOf(SpeedtestDownloadURL),
	}, nil
}

func measureDownload(ctx context.Context, client *http.Client) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, SpeedtestDownloadURL, nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return 0, err
	}
	return mbps(n, time.Since(start)), nil
}

func measureUpload(ctx context.Context, client *http.Client) (float64, error) {
	payload := make([]byte, speedtestUploadBytes)
	if _, err := rand.Read(payload); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, SpeedtestUploadURL, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return mbps(int64(len(payload)), time.Since(start)), nil
}

func mbps(bytesTransferred int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	bits := float64(bytesTransferred) * 8
	return bits / elapsed.Seconds() / 1_000_000
}
