package monitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atlasfleet/atlas/internal/domain"
	"github.com/atlasfleet/atlas/internal/fleetlog"
)

func okSampler(kind domain.MonitorKind) Sampler {
	return func(ctx context.Context) (domain.MonitorSnapshot, error) {
		return domain.MonitorSnapshot{Kind: kind}, nil
	}
}

func failSampler(kind domain.MonitorKind) Sampler {
	return func(ctx context.Context) (domain.MonitorSnapshot, error) {
		return domain.MonitorSnapshot{}, &domain.SensorError{
			Kind:    domain.SensorFailureTimeout,
			Monitor: kind,
			Message: "boom",
		}
	}
}

func TestRuntimeCapturesSnapshot(t *testing.T) {
	domain.MonitorIntervals[domain.MonitorSystem] = 20 * time.Millisecond
	defer func() { domain.MonitorIntervals[domain.MonitorSystem] = 5 * time.Second }()

	rt := New("mac-01", map[domain.MonitorKind]Sampler{
		domain.MonitorSystem: okSampler(domain.MonitorSystem),
	}, "", fleetlog.NewDefault("test"))

	ctx, cancel := context.WithCancel(context.Background())
	rt.Start(ctx)
	defer func() {
		cancel()
		rt.Stop()
	}()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, ok := rt.Snapshot(domain.MonitorSystem); ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected a snapshot to be captured within deadline")
}

func TestRuntimeMarksStaleAfterRepeatedFailures(t *testing.T) {
	domain.MonitorIntervals[domain.MonitorVPN] = 10 * time.Millisecond
	defer func() { domain.MonitorIntervals[domain.MonitorVPN] = 30 * time.Second }()

	rt := New("mac-01", map[domain.MonitorKind]Sampler{
		domain.MonitorVPN: okSampler(domain.MonitorVPN),
	}, "", fleetlog.NewDefault("test"))

	// Prime a good snapshot directly, then force failures through sampleOnce.
	rt.sampleOnce(context.Background(), domain.MonitorVPN, okSampler(domain.MonitorVPN))
	failing := failSampler(domain.MonitorVPN)
	for i := 0; i < degradeThreshold; i++ {
		rt.sampleOnce(context.Background(), domain.MonitorVPN, failing)
	}

	snap, ok := rt.Snapshot(domain.MonitorVPN)
	if !ok {
		t.Fatalf("expected a snapshot to exist")
	}
	if !snap.Stale {
		t.Fatalf("expected snapshot to be marked stale after %d consecutive failures", degradeThreshold)
	}
}

func TestAppendCSVWritesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "monitor.csv")

	rt := New("mac-01", nil, path, fleetlog.NewDefault("test"))
	rt.appendCSV(domain.MonitorSystem, time.Now(), true, "")
	rt.appendCSV(domain.MonitorSystem, time.Now(), false, "timeout")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 3 { // header + 2 rows
		t.Fatalf("expected 3 lines, got %d: %q", lines, data)
	}
}

func TestQueryRangeFiltersByMonitorAndWindow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "monitor.csv")

	rt := New("mac-01", nil, path, fleetlog.NewDefault("test"))
	rt.appendCSV(domain.MonitorSystem, time.Now().Add(-time.Hour), true, "")
	rt.appendCSV(domain.MonitorSystem, time.Now(), false, "timeout")
	rt.appendCSV(domain.MonitorVPN, time.Now(), true, "")

	records, err := rt.QueryRange(domain.MonitorSystem, time.Now().Add(-5*time.Minute), time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("QueryRange: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record in the recent window, got %d", len(records))
	}
	if records[0].OK {
		t.Fatalf("expected the recent record to be the failed sample")
	}
	if records[0].Monitor != domain.MonitorSystem {
		t.Fatalf("expected monitor filter to exclude vpn rows, got %q", records[0].Monitor)
	}
}

func TestQueryRangeOnMissingLogReturnsEmpty(t *testing.T) {
	rt := New("mac-01", nil, filepath.Join(t.TempDir(), "missing.csv"), fleetlog.NewDefault("test"))
	records, err := rt.QueryRange(domain.MonitorSystem, time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("QueryRange on missing log: %v", err)
	}
	if records != nil {
		t.Fatalf("expected nil records, got %v", records)
	}
}

func TestQuiesceSkipsSampling(t *testing.T) {
	calls := 0
	rt := New("mac-01", map[domain.MonitorKind]Sampler{
		domain.MonitorSystem: func(ctx context.Context) (domain.MonitorSnapshot, error) {
			calls++
			return domain.MonitorSnapshot{Kind: domain.MonitorSystem}, nil
		},
	}, "", fleetlog.NewDefault("test"))

	rt.Quiesce(time.Minute)
	rt.sampleOnce(context.Background(), domain.MonitorSystem, rt.samplers[domain.MonitorSystem])
	if calls != 0 {
		t.Fatalf("expected sampler not called while quiesced, got %d calls", calls)
	}
	if _, ok := rt.Snapshot(domain.MonitorSystem); ok {
		t.Fatalf("expected no snapshot captured while quiesced")
	}
}

func TestAllSnapshotsOnlyIncludesCaptured(t *testing.T) {
	rt := New("mac-01", map[domain.MonitorKind]Sampler{
		domain.MonitorSystem: okSampler(domain.MonitorSystem),
		domain.MonitorVPN:    failSampler(domain.MonitorVPN),
	}, "", fleetlog.NewDefault("test"))

	rt.sampleOnce(context.Background(), domain.MonitorSystem, okSampler(domain.MonitorSystem))
	rt.sampleOnce(context.Background(), domain.MonitorVPN, failSampler(domain.MonitorVPN))

	all := rt.AllSnapshots()
	if _, ok := all[string(domain.MonitorSystem)]; !ok {
		t.Fatalf("expected system snapshot present")
	}
	if _, ok := all[string(domain.MonitorVPN)]; ok {
		t.Fatalf("expected vpn snapshot absent (sampler never succeeded)")
	}
}
