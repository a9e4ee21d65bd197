// Package reporter runs the agent's single background worker: assemble a
// report from the monitor runtime's latest snapshots, seal it if keyed,
// POST it to the fleet server, and dispatch any commands the server sends
// back.
package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	neturl "net/url"
	"sync/atomic"
	"time"

	"github.com/atlasfleet/atlas/internal/cryptobox"
	"github.com/atlasfleet/atlas/internal/domain"
	"github.com/atlasfleet/atlas/internal/fleetlog"
	"github.com/atlasfleet/atlas/internal/fleetmetrics"
)

// SnapshotSource is the subset of monitor.Runtime the reporter depends on —
// kept as an interface so tests can fake it without standing up real
// monitors.
type SnapshotSource interface {
	AllSnapshots() map[string]domain.MonitorSnapshot
}

// MetricsSource supplies the latest system MetricReport, sampled on its own
// cadence outside monitor.Runtime (see agentsupervisor's systemCache).
type MetricsSource interface {
	Latest() (domain.MetricReport, bool)
}

// Executor runs a dispatched command and returns its result.
type Executor interface {
	Execute(ctx context.Context, cmd domain.Command) domain.CommandResult
}

const (
	pauseOnAuthFailure = 60 * time.Second
	backoffBase        = 2 * time.Second
	backoffCap         = 60 * time.Second
	lruSize            = 1024
	postTimeout        = 10 * time.Second
)

// Reporter owns the background reporting loop.
type Reporter struct {
	MachineID     string
	ServerURL     string
	APIKey        string
	EncryptionKey []byte
	Interval      time.Duration
	HTTPClient    *http.Client

	Snapshots SnapshotSource
	Metrics   MetricsSource
	Executor  Executor
	Log       *fleetlog.Logger

	seenCommands *lru

	sentMachineInfo bool
	machineInfo     *domain.MachineInfo

	quiescedUntil atomic.Int64 // unix nano; 0 or past means not quiesced
}

// New builds a Reporter with its internal state initialized.
func New(machineID, serverURL, apiKey string, encryptionKey []byte, interval time.Duration, snapshots SnapshotSource, exec Executor, log *fleetlog.Logger) *Reporter {
	client := &http.Client{Timeout: postTimeout}
	return &Reporter{
		MachineID:     machineID,
		ServerURL:     serverURL,
		APIKey:        apiKey,
		EncryptionKey: encryptionKey,
		Interval:      interval,
		HTTPClient:    client,
		Snapshots:     snapshots,
		Executor:      exec,
		Log:           log,
		seenCommands:  newLRU(lruSize),
	}
}

// SetMachineInfo attaches hardware info sent on the first tick or whenever
// the caller detects a hardware change.
func (r *Reporter) SetMachineInfo(info *domain.MachineInfo) {
	r.machineInfo = info
	r.sentMachineInfo = false
}

// SetMetricsSource wires the system metrics cache; optional, since tests
// may exercise the reporter without a real system sampler.
func (r *Reporter) SetMetricsSource(src MetricsSource) {
	r.Metrics = src
}

// Quiesce pauses the send loop for d — ticks are skipped entirely rather
// than posted, the agent-side half of the quiesce command (spec §4.9).
func (r *Reporter) Quiesce(d time.Duration) {
	r.quiescedUntil.Store(time.Now().Add(d).UnixNano())
}

// Run executes the reporter loop until ctx is canceled. It never returns an
// error — all failures are handled internally via backoff/pause, matching
// "missed tick is a missed sample, not a double sample."
func (r *Reporter) Run(ctx context.Context) {
	backoff := time.Duration(0)

	for {
		wait := r.jittered(r.Interval)
		if backoff > 0 {
			wait = backoff
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if until := r.quiescedUntil.Load(); until > 0 && time.Now().UnixNano() < until {
			continue
		}

		outcome := r.tick(ctx)
		switch outcome {
		case outcomeOK:
			backoff = 0
			fleetmetrics.ReporterBackoffSeconds.Set(0)
		case outcomeAuthFailed:
			backoff = pauseOnAuthFailure
			fleetmetrics.ReporterBackoffSeconds.Set(backoff.Seconds())
		case outcomeRetryable:
			if backoff == 0 {
				backoff = backoffBase
			} else {
				backoff *= 2
			}
			if backoff > backoffCap {
				backoff = backoffCap
			}
			fleetmetrics.ReporterBackoffSeconds.Set(backoff.Seconds())
		}
	}
}

type tickOutcome int

const (
	outcomeOK tickOutcome = iota
	outcomeAuthFailed
	outcomeRetryable
)

func (r *Reporter) jittered(base time.Duration) time.Duration {
	jitter := float64(base) * 0.10
	delta := (rand.Float64()*2 - 1) * jitter
	return base + time.Duration(delta)
}

func (r *Reporter) tick(ctx context.Context) tickOutcome {
	report := r.assemble()
	return r.send(ctx, report, true)
}

// SendOnce posts a single, caller-assembled report — used by --no-daemon
// mode, which runs one report cycle instead of Run's forever loop.
func (r *Reporter) SendOnce(ctx context.Context, report domain.Report) error {
	if r.send(ctx, report, true) != outcomeOK {
		return fmt.Errorf("reporter: one-shot report was not accepted")
	}
	return nil
}

func (r *Reporter) assemble() domain.Report {
	report := domain.Report{
		MachineID: r.MachineID,
		Timestamp: time.Now().UTC(),
		Monitors:  make(map[string]domain.MonitorSnapshot),
	}
	if !r.sentMachineInfo && r.machineInfo != nil {
		report.MachineInfo = r.machineInfo
		r.sentMachineInfo = true
	}
	if r.Metrics != nil {
		if metrics, ok := r.Metrics.Latest(); ok {
			report.Metrics = metrics
		}
	}
	if r.Snapshots != nil {
		for kind, snap := range r.Snapshots.AllSnapshots() {
			report.Monitors[kind] = snap
		}
	}
	return report
}

// send posts report, handling the 401/403/413/5xx cases from spec §4.3.
// allowDropNonEssential controls whether a 413 triggers a retry with
// inventory/display monitors stripped — set false on the retry itself so
// we never loop more than once.
func (r *Reporter) send(ctx context.Context, report domain.Report, allowDropNonEssential bool) tickOutcome {
	start := time.Now()
	status, err := r.post(ctx, report)
	fleetmetrics.ReporterPostLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		r.logWarn("reporter post failed", err)
		return outcomeRetryable
	}

	switch {
	case status >= 200 && status < 300:
		return outcomeOK
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		r.logWarn("reporter auth rejected", fmt.Errorf("status %d", status))
		return outcomeAuthFailed
	case status == http.StatusRequestEntityTooLarge && allowDropNonEssential:
		delete(report.Monitors, string(domain.MonitorSoftwareInventory))
		delete(report.Monitors, string(domain.MonitorDisplay))
		return r.send(ctx, report, false)
	case status >= 500 || status == http.StatusTooManyRequests:
		return outcomeRetryable
	default:
		r.logWarn("reporter unexpected status", fmt.Errorf("status %d", status))
		return outcomeRetryable
	}
}

// post serializes, optionally seals, and POSTs the report, returning the
// HTTP status code and any transport-level error.
func (r *Reporter) post(ctx context.Context, report domain.Report) (int, error) {
	plaintext, err := json.Marshal(report)
	if err != nil {
		return 0, fmt.Errorf("marshal report: %w", err)
	}

	var body []byte
	if len(r.EncryptionKey) > 0 {
		env, err := cryptobox.Seal(r.EncryptionKey, r.MachineID, plaintext)
		if err != nil {
			return 0, fmt.Errorf("seal report: %w", err)
		}
		body, err = json.Marshal(env)
		if err != nil {
			return 0, fmt.Errorf("marshal envelope: %w", err)
		}
	} else {
		// Plaintext bypass (spec §4.2, §8 scenario 1): the report JSON goes
		// straight over the wire with no wrapper — the server tells it apart
		// from a sealed envelope by the absence of "encrypted":true.
		body = plaintext
	}

	postCtx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()

	// machine_id travels as a query parameter because the server must know
	// it before it can open a sealed envelope (it's the GCM associated
	// data) — it can't be read out of the ciphertext it authenticates.
	url := r.ServerURL + "/api/fleet/report?machine_id=" + neturl.QueryEscape(r.MachineID)
	req, err := http.NewRequestWithContext(postCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("X-API-Key", r.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		r.handleResponse(ctx, resp.Body)
	} else {
		io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, nil
}

func (r *Reporter) handleResponse(ctx context.Context, body io.Reader) {
	var resp domain.ReportResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		r.logWarn("reporter decode response failed", err)
		return
	}
	for _, cmd := range resp.Commands {
		if r.seenCommands.seen(cmd.CommandID) {
			continue
		}
		r.seenCommands.add(cmd.CommandID)
		// The CommandResult returned by Execute is discarded: it is not
		// attached to a later report or posted to the server.
		if r.Executor != nil {
			r.Executor.Execute(ctx, cmd)
		}
	}
}

func (r *Reporter) logWarn(msg string, err error) {
	if r.Log == nil {
		return
	}
	r.Log.WithField("error", err).Warn(msg)
}
