package sensors

import (
	"context"
	"testing"
	"time"

	"github.com/atlasfleet/atlas/internal/domain"
)

func TestRunProbeMissingBinaryIsUnavailable(t *testing.T) {
	_, err := runProbe(context.Background(), domain.MonitorVPN, "this-binary-does-not-exist-xyz")
	if err == nil {
		t.Fatalf("expected error for missing binary")
	}
	sensorErr, ok := err.(*domain.SensorError)
	if !ok {
		t.Fatalf("expected *domain.SensorError, got %T", err)
	}
	if sensorErr.Kind != domain.SensorFailureUnavailable {
		t.Fatalf("expected probe_unavailable, got %s", sensorErr.Kind)
	}
}

func TestRunProbeSucceeds(t *testing.T) {
	out, err := runProbe(context.Background(), domain.MonitorSystem, "echo", "hello")
	if err != nil {
		t.Fatalf("runProbe: %v", err)
	}
	if len(out) == 0 {
		t.Fatalf("expected non-empty output")
	}
}

func TestWithTimeoutBudgetsBelowInterval(t *testing.T) {
	ctx, cancel := withTimeout(context.Background(), 5*time.Second)
	defer cancel()
	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatalf("expected a deadline")
	}
	if time.Until(deadline) >= 5*time.Second {
		t.Fatalf("expected budget under the full interval")
	}
}

func TestSampleVPNDegradesWithoutScutil(t *testing.T) {
	_, err := SampleVPN(context.Background())
	// On a Linux build host scutil won't exist; this should be a clean
	// typed failure, never a panic.
	if err != nil {
		if _, ok := err.(*domain.SensorError); !ok {
			t.Fatalf("expected *domain.SensorError, got %T", err)
		}
	}
}

func TestSampleSaaSNoEndpointsConfigured(t *testing.T) {
	_, err := SampleSaaS(context.Background(), nil)
	if err == nil {
		t.Fatalf("expected error with no endpoints configured")
	}
}

func TestIsSticky(t *testing.T) {
	cfg := DefaultStickyConfig()

	weak := domain.WifiRoamingSnapshot{
		RSSI: -80,
		Neighbors: []domain.WifiNeighbor{
			{BSSID: "aa", RSSI: -50},
			{BSSID: "bb", RSSI: -55},
		},
	}
	if !IsSticky(weak, cfg, 120) {
		t.Fatalf("expected sticky: weak RSSI held long with stronger neighbors")
	}

	strong := domain.WifiRoamingSnapshot{RSSI: -40}
	if IsSticky(strong, cfg, 120) {
		t.Fatalf("expected not sticky: RSSI above threshold")
	}

	tooShort := weak
	if IsSticky(tooShort, cfg, 10) {
		t.Fatalf("expected not sticky: held time below threshold")
	}
}

func TestSampleNetworkQualityHostOf(t *testing.T) {
	got := hostOf("https://www.cloudflare.com/cdn-cgi/trace")
	if got != "www.cloudflare.com" {
		t.Fatalf("got %q want www.cloudflare.com", got)
	}
}

func TestSampleSystemReturnsTypedErrorOnUnsupportedPlatform(t *testing.T) {
	report, err := SampleSystem(context.Background())
	if err != nil {
		if _, ok := err.(*domain.SensorError); !ok {
			t.Fatalf("expected *domain.SensorError, got %T", err)
		}
		return
	}
	if report.Timestamp.IsZero() {
		t.Fatalf("expected non-zero timestamp on success")
	}
}
