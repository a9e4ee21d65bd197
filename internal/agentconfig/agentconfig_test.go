package agentconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsAndPersistsMachineID(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "server_url: https://fleet.example.com\napi_key: secret123\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Interval != 10*time.Second {
		t.Fatalf("expected default interval 10s, got %v", cfg.Interval)
	}
	if cfg.MachineID == "" {
		t.Fatalf("expected a machine_id to be generated")
	}

	if _, err := os.Stat(filepath.Join(dir, "identity.json")); err != nil {
		t.Fatalf("expected identity file to be written: %v", err)
	}

	// Loading again must return the same machine_id rather than regenerate.
	cfg2, err := Load(path)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if cfg2.MachineID != cfg.MachineID {
		t.Fatalf("machine_id changed across loads: %q vs %q", cfg.MachineID, cfg2.MachineID)
	}
}

func TestLoadRejectsMissingServerURL(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "api_key: secret123\n")

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing server_url")
	}
}

func TestLoadHonorsExplicitMachineID(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "server_url: https://fleet.example.com\napi_key: secret123\nmachine_id: fixed-01\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MachineID != "fixed-01" {
		t.Fatalf("expected explicit machine_id honored, got %q", cfg.MachineID)
	}
	if _, err := os.Stat(filepath.Join(dir, "identity.json")); !os.IsNotExist(err) {
		t.Fatalf("expected no identity file when machine_id set explicitly")
	}
}

func TestEnvOverridesTakePrecedence(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "server_url: https://fleet.example.com\napi_key: secret123\n")

	t.Setenv("FLEET_SERVER_URL", "https://override.example.com")
	t.Setenv("FLEET_INTERVAL", "30")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURL != "https://override.example.com" {
		t.Fatalf("expected env override of server_url, got %q", cfg.ServerURL)
	}
	if cfg.Interval != 30*time.Second {
		t.Fatalf("expected env override of interval, got %v", cfg.Interval)
	}
}
