package serverconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "server:\n  api_key: secret\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8768 {
		t.Fatalf("expected default port 8768, got %d", cfg.Server.Port)
	}
	if cfg.Server.HistoryRetentionDays != 30 {
		t.Fatalf("expected default retention 30, got %d", cfg.Server.HistoryRetentionDays)
	}
	if cfg.Alerts.CPU != 90 {
		t.Fatalf("expected default CPU alert threshold 90, got %v", cfg.Alerts.CPU)
	}
}

func TestLoadRejectsMissingAPIKey(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "server:\n  port: 9000\n")

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing api_key")
	}
}

func TestLoadRejectsWildcardOrigin(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "server:\n  api_key: secret\nallowed_origins: [\"*\"]\n")

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for wildcard CORS origin")
	}
}

func TestLoadRejectsPartialSSLConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "server:\n  api_key: secret\nssl:\n  cert_file: /tmp/cert.pem\n")

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for cert_file without key_file")
	}
}

func TestEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "server:\n  api_key: secret\n")

	t.Setenv("FLEET_SERVER_PORT", "9443")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9443 {
		t.Fatalf("expected env override port 9443, got %d", cfg.Server.Port)
	}
}

func TestSessionTTL(t *testing.T) {
	cfg := Default()
	if cfg.SessionTTL().Seconds() != 28800 {
		t.Fatalf("expected default session ttl 28800s, got %v", cfg.SessionTTL())
	}
}

func TestAgentIntervalAndThresholds(t *testing.T) {
	cfg := Default()
	if cfg.AgentInterval().Seconds() != 10 {
		t.Fatalf("expected default agent interval 10s, got %v", cfg.AgentInterval())
	}
	th := cfg.Thresholds()
	if th.CPUPercent != 90 || th.BatteryPercent != 10 {
		t.Fatalf("expected thresholds to mirror Alerts defaults, got %+v", th)
	}
}
