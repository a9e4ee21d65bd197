package agentsupervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atlasfleet/atlas/internal/agentconfig"
	"github.com/atlasfleet/atlas/internal/domain"
	"github.com/atlasfleet/atlas/internal/fleetlog"
	"github.com/atlasfleet/atlas/internal/monitor"
	"github.com/atlasfleet/atlas/internal/reporter"
)

func writeAgentConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func newTestExecutor(t *testing.T) (*executor, *monitor.Runtime, *reporter.Reporter) {
	t.Helper()
	dir := t.TempDir()
	configPath := writeAgentConfig(t, dir, "server_url: https://fleet.example.com\napi_key: secret123\ninterval: 5s\n")

	log := fleetlog.NewDefault("test")
	rt := monitor.New("m1", nil, "", log)
	rep := reporter.New("m1", "https://fleet.example.com", "secret123", nil, 10*time.Second, rt, nil, log)
	exec := newExecutor(configPath, rt, rep, log)
	rep.Executor = exec
	return exec, rt, rep
}

func TestExecutorUnsupportedCommand(t *testing.T) {
	exec, _, _ := newTestExecutor(t)
	result := exec.Execute(context.Background(), domain.Command{CommandID: "c1", Type: "made_up"})
	if result.Status != "unsupported" {
		t.Fatalf("expected unsupported status, got %q", result.Status)
	}
}

func TestExecutorReloadConfigAppliesInterval(t *testing.T) {
	exec, _, rep := newTestExecutor(t)

	// Rewrite the config the executor was built against with a new interval.
	if err := os.WriteFile(exec.configPath, []byte("server_url: https://fleet.example.com\napi_key: secret123\ninterval: 42s\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	result := exec.Execute(context.Background(), domain.Command{CommandID: "c1", Type: domain.CommandReloadConfig})
	if result.Status != "ok" {
		t.Fatalf("expected ok status, got %q (%v)", result.Status, result.Output)
	}
	if rep.Interval != 42*time.Second {
		t.Fatalf("expected reporter interval updated to 42s, got %v", rep.Interval)
	}
}

func TestExecutorQuiesceReportsRequestedDuration(t *testing.T) {
	exec, rt, rep := newTestExecutor(t)

	result := exec.Execute(context.Background(), domain.Command{
		CommandID: "c1",
		Type:      domain.CommandQuiesce,
		Args:      map[string]any{"duration_seconds": float64(60)},
	})
	if result.Status != "ok" {
		t.Fatalf("expected ok status, got %q", result.Status)
	}
	if out, ok := result.Output.(map[string]any); !ok || out["quiesced_seconds"] != float64(60) {
		t.Fatalf("expected quiesced_seconds 60 in output, got %v", result.Output)
	}

	rt.Quiesce(0) // sanity: Quiesce itself must not panic when called again
	_ = rep
}

func TestExecutorCollectDiagIncludesMachineInfoAndMonitors(t *testing.T) {
	exec, _, _ := newTestExecutor(t)

	result := exec.Execute(context.Background(), domain.Command{CommandID: "c1", Type: domain.CommandCollectDiag})
	if result.Status != "ok" {
		t.Fatalf("expected ok status, got %q", result.Status)
	}
	diag, ok := result.Output.(map[string]any)
	if !ok {
		t.Fatalf("expected map output, got %T", result.Output)
	}
	if _, ok := diag["machine_info"]; !ok {
		t.Fatalf("expected machine_info key in collect_diag output")
	}
	if _, ok := diag["monitors"]; !ok {
		t.Fatalf("expected monitors key in collect_diag output")
	}
}

func TestExecutorSpeedtestNowReturnsAResult(t *testing.T) {
	exec, _, _ := newTestExecutor(t)

	// No network access is guaranteed in this environment; the point of
	// this test is that the executor always returns a well-formed result
	// (ok with download/upload/ping, or error) rather than hanging or
	// panicking.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result := exec.Execute(ctx, domain.Command{CommandID: "c1", Type: domain.CommandSpeedtestNow, MachineID: "m1"})
	if result.CommandID != "c1" {
		t.Fatalf("expected command id preserved, got %q", result.CommandID)
	}
	if result.Status != "ok" && result.Status != "error" {
		t.Fatalf("expected ok or error status, got %q", result.Status)
	}
}

func TestBuildSamplersCoversAllNonSystemMonitors(t *testing.T) {
	samplers := buildSamplers(agentconfig.Default())
	for _, kind := range domain.AllMonitors {
		if kind == domain.MonitorSystem {
			continue
		}
		if _, ok := samplers[kind]; !ok {
			t.Fatalf("expected a sampler registered for %s", kind)
		}
	}
}
