package serversupervisor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/atlasfleet/atlas/internal/fleetlog"
	"github.com/atlasfleet/atlas/internal/serverconfig"
)

func testConfig(t *testing.T) serverconfig.Config {
	t.Helper()
	cfg := serverconfig.Default()
	cfg.Server.APIKey = "test-key"
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	return cfg
}

func TestNewBuildsSupervisor(t *testing.T) {
	cfg := testConfig(t)
	log := fleetlog.NewDefault("test")

	sup, err := New(cfg, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sup.store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := testConfig(t)
	log := fleetlog.NewDefault("test")

	sup, err := New(cfg, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
