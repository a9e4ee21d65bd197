// Package agentconfig loads and validates the fleet-agent's configuration:
// YAML file, FLEET_-prefixed environment overrides, and the on-disk
// machine_id identity file created on first run.
package agentconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/atlasfleet/atlas/internal/domain"
)

// Config is the agent's full runtime configuration, spec §6 "Agent config".
type Config struct {
	ServerURL     string        `yaml:"server_url"`
	APIKey        string        `yaml:"api_key"`
	EncryptionKey string        `yaml:"encryption_key,omitempty"`
	MachineID     string        `yaml:"machine_id,omitempty"`
	Interval      time.Duration `yaml:"interval"`
	VerifySSL     bool          `yaml:"verify_ssl"`

	SaaSEndpoints []string `yaml:"saas_endpoints,omitempty"`

	StickyRSSIThreshold int           `yaml:"sticky_rssi_threshold"`
	StickyDuration      time.Duration `yaml:"sticky_duration"`
	StickyNeighborMin   int           `yaml:"sticky_neighbor_min"`

	DataDir string `yaml:"data_dir,omitempty"`
	LogFile string `yaml:"log_file,omitempty"`
	LogLevel string `yaml:"log_level,omitempty"`
}

// Default returns the configuration defaults laid out in spec §6/§9.
func Default() Config {
	return Config{
		Interval:            10 * time.Second,
		VerifySSL:           true,
		StickyRSSIThreshold: -75,
		StickyDuration:      60 * time.Second,
		StickyNeighborMin:   2,
		LogLevel:            "info",
	}
}

// Load reads a YAML config file, applies FLEET_ environment overrides,
// loads or creates the machine_id identity file, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("agentconfig: read %s: %w", path, err)
		}
		// No config file yet — defaults plus environment only; the caller
		// (cmd/fleet-agent) is responsible for deciding whether a missing
		// file is acceptable on first run.
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %s: %v", domain.ErrConfigInvalid, path, err)
	}

	applyEnvOverrides(&cfg)

	if cfg.DataDir == "" {
		home, _ := os.UserHomeDir()
		cfg.DataDir = filepath.Join(home, ".fleet-agent", "data")
	}

	machineID, err := loadOrCreateMachineID(cfg, path)
	if err != nil {
		return Config{}, err
	}
	cfg.MachineID = machineID

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.ServerURL == "" {
		return fmt.Errorf("%w: server_url is required", domain.ErrConfigKeyMissing)
	}
	if cfg.APIKey == "" {
		return fmt.Errorf("%w: api_key is required", domain.ErrConfigKeyMissing)
	}
	if cfg.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", domain.ErrConfigInvalid)
	}
	if cfg.MachineID == "" {
		return fmt.Errorf("%w", domain.ErrMachineIDEmpty)
	}
	return nil
}

// applyEnvOverrides walks the dotted FLEET_ environment namespace the same
// way serverconfig does, e.g. FLEET_SERVER_URL overrides server_url,
// FLEET_ENCRYPTION_KEY overrides encryption_key.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("FLEET_SERVER_URL"); ok {
		cfg.ServerURL = v
	}
	if v, ok := os.LookupEnv("FLEET_API_KEY"); ok {
		cfg.APIKey = v
	}
	if v, ok := os.LookupEnv("FLEET_ENCRYPTION_KEY"); ok {
		cfg.EncryptionKey = v
	}
	if v, ok := os.LookupEnv("FLEET_MACHINE_ID"); ok {
		cfg.MachineID = v
	}
	if v, ok := os.LookupEnv("FLEET_INTERVAL"); ok {
		if seconds, err := strconv.Atoi(v); err == nil {
			cfg.Interval = time.Duration(seconds) * time.Second
		}
	}
	if v, ok := os.LookupEnv("FLEET_VERIFY_SSL"); ok {
		cfg.VerifySSL = strings.EqualFold(v, "true") || v == "1"
	}
	if v, ok := os.LookupEnv("FLEET_DATA_DIR"); ok {
		cfg.DataDir = v
	}
	if v, ok := os.LookupEnv("FLEET_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
}
