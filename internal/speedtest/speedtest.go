// Package speedtest computes the read-time aggregates spec §4.8 requires:
// recent-20-per-machine means, hourly-bucketed summaries, per-machine-vs-
// fleet comparison, and z-score anomaly detection.
package speedtest

import (
	"math"
	"time"

	"github.com/atlasfleet/atlas/internal/domain"
)

// MachineMean is one machine's mean over its most recent samples.
type MachineMean struct {
	MachineID    string  `json:"machine_id"`
	DownloadMbps float64 `json:"download_mbps"`
	UploadMbps   float64 `json:"upload_mbps"`
	PingMS       float64 `json:"ping_ms"`
	Samples      int     `json:"samples"`
}

// Recent20 computes the mean of the last 20 samples per machine, plus the
// fleet mean of those per-machine means — so one chatty machine cannot skew
// the fleet figure, per spec §4.8.
func Recent20(byMachine map[string][]domain.SpeedTestResult) (machines []MachineMean, fleetMean MachineMean) {
	for id, results := range byMachine {
		recent := lastN(results, 20)
		if len(recent) == 0 {
			continue
		}
		machines = append(machines, meanOf(id, recent))
	}
	if len(machines) == 0 {
		return machines, fleetMean
	}
	var dl, ul, ping float64
	for _, m := range machines {
		dl += m.DownloadMbps
		ul += m.UploadMbps
		ping += m.PingMS
	}
	n := float64(len(machines))
	fleetMean = MachineMean{
		DownloadMbps: dl / n,
		UploadMbps:   ul / n,
		PingMS:       ping / n,
		Samples:      len(machines),
	}
	return machines, fleetMean
}

// HourBucket is one hour-wide aggregation window.
type HourBucket struct {
	HourStart    time.Time `json:"hour_start"`
	DownloadMbps float64   `json:"download_mbps"`
	UploadMbps   float64   `json:"upload_mbps"`
	PingMS       float64   `json:"ping_ms"`
	Samples      int       `json:"samples"`
}

// Summary buckets results by hour over the requested window.
func Summary(results []domain.SpeedTestResult, window time.Duration, now time.Time) []HourBucket {
	cutoff := now.Add(-window)
	buckets := make(map[time.Time]*HourBucket)
	var order []time.Time

	for _, r := range results {
		if r.Timestamp.Before(cutoff) {
			continue
		}
		hour := r.Timestamp.Truncate(time.Hour)
		b, ok := buckets[hour]
		if !ok {
			b = &HourBucket{HourStart: hour}
			buckets[hour] = b
			order = append(order, hour)
		}
		b.DownloadMbps += r.DownloadMbps
		b.UploadMbps += r.UploadMbps
		b.PingMS += r.PingMS
		b.Samples++
	}

	out := make([]HourBucket, 0, len(order))
	for _, hour := range order {
		b := buckets[hour]
		if b.Samples > 0 {
			b.DownloadMbps /= float64(b.Samples)
			b.UploadMbps /= float64(b.Samples)
			b.PingMS /= float64(b.Samples)
		}
		out = append(out, *b)
	}
	return out
}

// Comparison is one machine's delta from the fleet mean, spec §4.8.
type Comparison struct {
	MachineID        string  `json:"machine_id"`
	DownloadDeltaPct float64 `json:"download_delta_pct"`
	UploadDeltaPct   float64 `json:"upload_delta_pct"`
	PingDeltaPct     float64 `json:"ping_delta_pct"`
}

// CompareToFleet computes 100 * (machine_mean - fleet_mean) / fleet_mean,
// a percentage, for each machine in byMachine, over the given window.
func CompareToFleet(byMachine map[string][]domain.SpeedTestResult, window time.Duration, now time.Time) []Comparison {
	windowed := make(map[string][]domain.SpeedTestResult, len(byMachine))
	cutoff := now.Add(-window)
	for id, results := range byMachine {
		var kept []domain.SpeedTestResult
		for _, r := range results {
			if !r.Timestamp.Before(cutoff) {
				kept = append(kept, r)
			}
		}
		if len(kept) > 0 {
			windowed[id] = kept
		}
	}

	machines, fleetMean := Recent20(windowed)
	if fleetMean.Samples == 0 {
		return nil
	}

	out := make([]Comparison, 0, len(machines))
	for _, m := range machines {
		out = append(out, Comparison{
			MachineID:        m.MachineID,
			DownloadDeltaPct: pctDelta(m.DownloadMbps, fleetMean.DownloadMbps),
			UploadDeltaPct:   pctDelta(m.UploadMbps, fleetMean.UploadMbps),
			PingDeltaPct:     pctDelta(m.PingMS, fleetMean.PingMS),
		})
	}
	return out
}

// Anomaly flags a sample whose download throughput deviates from the
// machine's recent baseline by more than 3 standard deviations.
type Anomaly struct {
	MachineID    string    `json:"machine_id"`
	Timestamp    time.Time `json:"timestamp"`
	DownloadMbps float64   `json:"download_mbps"`
	ZScore       float64   `json:"z_score"`
}

// DetectAnomalies scans a machine's last 100 samples (oldest-first input,
// most recent 100 retained) and flags any with |z| > 3 against the
// population's own mean/stddev.
func DetectAnomalies(machineID string, results []domain.SpeedTestResult) []Anomaly {
	samples := lastN(results, 100)
	if len(samples) < 2 {
		return nil
	}

	var sum float64
	for _, s := range samples {
		sum += s.DownloadMbps
	}
	mean := sum / float64(len(samples))

	var variance float64
	for _, s := range samples {
		d := s.DownloadMbps - mean
		variance += d * d
	}
	variance /= float64(len(samples))
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return nil
	}

	var out []Anomaly
	for _, s := range samples {
		z := (s.DownloadMbps - mean) / stddev
		if math.Abs(z) > 3 {
			out = append(out, Anomaly{
				MachineID:    machineID,
				Timestamp:    s.Timestamp,
				DownloadMbps: s.DownloadMbps,
				ZScore:       z,
			})
		}
	}
	return out
}

func lastN(results []domain.SpeedTestResult, n int) []domain.SpeedTestResult {
	if len(results) <= n {
		return results
	}
	return results[len(results)-n:]
}

func meanOf(machineID string, results []domain.SpeedTestResult) MachineMean {
	var dl, ul, ping float64
	for _, r := range results {
		dl += r.DownloadMbps
		ul += r.UploadMbps
		ping += r.PingMS
	}
	n := float64(len(results))
	return MachineMean{
		MachineID:    machineID,
		DownloadMbps: dl / n,
		UploadMbps:   ul / n,
		PingMS:       ping / n,
		Samples:      len(results),
	}
}

func pctDelta(machineVal, fleetVal float64) float64 {
	if fleetVal == 0 {
		return 0
	}
	return (machineVal - fleetVal) / fleetVal * 100
}
