// Package serverconfig loads and validates the fleet-server's configuration:
// YAML file plus FLEET_-prefixed environment overrides (spec §6).
package serverconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/atlasfleet/atlas/internal/domain"
)

// Alerts carries the configurable alert thresholds, spec §6/§4.4.
type Alerts struct {
	CPU     float64 `yaml:"cpu"`
	Memory  float64 `yaml:"memory"`
	Disk    float64 `yaml:"disk"`
	Battery float64 `yaml:"battery"`
	Temp    float64 `yaml:"temp"`
}

// SSL carries TLS cert/key paths; both empty means plain HTTP.
type SSL struct {
	CertFile string `yaml:"cert_file,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`
}

// Config is the fleet-server's full runtime configuration.
type Config struct {
	Organization struct {
		Name string `yaml:"name"`
	} `yaml:"organization"`

	Server struct {
		Host              string `yaml:"host"`
		Port              int    `yaml:"port"`
		APIKey            string `yaml:"api_key"`
		EncryptionKey     string `yaml:"encryption_key,omitempty"`
		HistorySize       int    `yaml:"history_size"`
		HistoryRetentionDays int `yaml:"history_retention_days"`
		SessionTTLSeconds int    `yaml:"session_ttl_seconds"`
		StrictEncryption  bool   `yaml:"strict_encryption"`
		// AgentIntervalSeconds is the reporting cadence the server assumes
		// when deriving online/warning/offline status (spec §4.4). It
		// should match the fleet's configured agent.interval.
		AgentIntervalSeconds int `yaml:"agent_interval_seconds"`
	} `yaml:"server"`

	SSL    SSL    `yaml:"ssl"`
	Alerts Alerts `yaml:"alerts"`

	DataDir  string `yaml:"data_dir,omitempty"`
	LogFile  string `yaml:"log_file,omitempty"`
	LogLevel string `yaml:"log_level,omitempty"`

	// AllowedOrigins is the CORS allow-list; a literal "*" is rejected at
	// validation time (spec §4.5 "Cross-origin policy").
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// Default returns the defaults from spec §6.
func Default() Config {
	var cfg Config
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8768
	cfg.Server.HistorySize = 1000
	cfg.Server.HistoryRetentionDays = 30
	cfg.Server.SessionTTLSeconds = 28800
	cfg.Server.StrictEncryption = false
	cfg.Server.AgentIntervalSeconds = 10
	cfg.Alerts = Alerts{CPU: 90, Memory: 90, Disk: 90, Battery: 10, Temp: 85}
	cfg.LogLevel = "info"
	return cfg
}

// SessionTTL is Config.Server.SessionTTLSeconds as a time.Duration.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.Server.SessionTTLSeconds) * time.Second
}

// AgentInterval is Config.Server.AgentIntervalSeconds as a time.Duration.
func (c Config) AgentInterval() time.Duration {
	return time.Duration(c.Server.AgentIntervalSeconds) * time.Second
}

// Thresholds adapts the configured Alerts into domain.Thresholds.
func (c Config) Thresholds() domain.Thresholds {
	return domain.Thresholds{
		CPUPercent:     c.Alerts.CPU,
		MemoryPercent:  c.Alerts.Memory,
		DiskPercent:    c.Alerts.Disk,
		BatteryPercent: c.Alerts.Battery,
		TempCelsius:    c.Alerts.Temp,
		Crashes24h:     domain.DefaultThresholds().Crashes24h,
	}
}

// Load reads a YAML config file, applies FLEET_ environment overrides, and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("serverconfig: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %s: %v", domain.ErrConfigInvalid, path, err)
	}

	applyEnvOverrides(&cfg)

	if cfg.DataDir == "" {
		home, _ := os.UserHomeDir()
		cfg.DataDir = home + "/.fleet-data"
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Server.APIKey == "" {
		return fmt.Errorf("%w: server.api_key is required", domain.ErrConfigKeyMissing)
	}
	if cfg.Server.Port <= 0 {
		return fmt.Errorf("%w: server.port must be positive", domain.ErrConfigInvalid)
	}
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			return fmt.Errorf("%w: wildcard CORS origin is forbidden", domain.ErrConfigInvalid)
		}
	}
	if (cfg.SSL.CertFile == "") != (cfg.SSL.KeyFile == "") {
		return fmt.Errorf("%w: ssl.cert_file and ssl.key_file must be set together", domain.ErrConfigInvalid)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("FLEET_SERVER_HOST"); ok {
		cfg.Server.Host = v
	}
	if v, ok := os.LookupEnv("FLEET_SERVER_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v, ok := os.LookupEnv("FLEET_SERVER_API_KEY"); ok {
		cfg.Server.APIKey = v
	}
	if v, ok := os.LookupEnv("FLEET_SERVER_ENCRYPTION_KEY"); ok {
		cfg.Server.EncryptionKey = v
	}
	if v, ok := os.LookupEnv("FLEET_SERVER_HISTORY_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.HistorySize = n
		}
	}
	if v, ok := os.LookupEnv("FLEET_SERVER_HISTORY_RETENTION_DAYS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.HistoryRetentionDays = n
		}
	}
	if v, ok := os.LookupEnv("FLEET_SERVER_SESSION_TTL_SECONDS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.SessionTTLSeconds = n
		}
	}
	if v, ok := os.LookupEnv("FLEET_SERVER_STRICT_ENCRYPTION"); ok {
		cfg.Server.StrictEncryption = strings.EqualFold(v, "true") || v == "1"
	}
	if v, ok := os.LookupEnv("FLEET_SERVER_AGENT_INTERVAL_SECONDS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.AgentIntervalSeconds = n
		}
	}
	if v, ok := os.LookupEnv("FLEET_SSL_CERT_FILE"); ok {
		cfg.SSL.CertFile = v
	}
	if v, ok := os.LookupEnv("FLEET_SSL_KEY_FILE"); ok {
		cfg.SSL.KeyFile = v
	}
	if v, ok := os.LookupEnv("FLEET_DATA_DIR"); ok {
		cfg.DataDir = v
	}
	if v, ok := os.LookupEnv("FLEET_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
}
