package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the top-level keygate configuration. It is read from
// keygate.yaml through viper, so every field carries both yaml and
// mapstructure tags.
type FileConfig struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Auth    AuthConfig    `yaml:"auth" mapstructure:"auth"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string   `yaml:"host" mapstructure:"host"`
	Port            int      `yaml:"port" mapstructure:"port"`
	ShutdownTimeout string   `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	ReadTimeout     string   `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    string   `yaml:"write_timeout" mapstructure:"write_timeout"`
	CORSOrigins     []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// StoreConfig selects the credential store backend.
type StoreConfig struct {
	Driver  string `yaml:"driver" mapstructure:"driver"`
	DSN     string `yaml:"dsn,omitempty" mapstructure:"dsn"`
	DataDir string `yaml:"data_dir,omitempty" mapstructure:"data_dir"`
}

// AuthConfig controls the API-key login exchange and session tokens.
type AuthConfig struct {
	APIKeyHeader  string `yaml:"api_key_header" mapstructure:"api_key_header"`
	LoginPath     string `yaml:"login_path" mapstructure:"login_path"`
	SessionSecret string `yaml:"session_secret,omitempty" mapstructure:"session_secret"`
	SessionTTL    string `yaml:"session_ttl" mapstructure:"session_ttl"`
	TouchTimeout  string `yaml:"touch_timeout" mapstructure:"touch_timeout"`
}

// LogConfig controls log output. When File is set, logs are written to a
// rotating file instead of stderr.
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"`
	File       string `yaml:"file,omitempty" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// DefaultFileConfig returns a FileConfig pre-filled with sensible defaults.
func DefaultFileConfig() *FileConfig {
	return &FileConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: "30s",
			ReadTimeout:     "15s",
			WriteTimeout:    "30s",
			CORSOrigins:     []string{"*"},
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
		Auth: AuthConfig{
			APIKeyHeader: "X-API-Key",
			LoginPath:    "/api/auth-by-api-key",
			SessionTTL:   "15m",
			TouchTimeout: "5s",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// LoadFileConfig reads and parses a YAML configuration file on top of the
// defaults. Environment variables referenced as ${VAR_NAME} in the file are
// expanded before parsing.
func LoadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	content := os.ExpandEnv(string(data))

	cfg := DefaultFileConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

const configHeader = `# keygate configuration
# Every key can be overridden from the environment as KEYGATE_<SECTION>_<KEY>,
# for example KEYGATE_STORE_DSN or KEYGATE_AUTH_SESSION_SECRET.
# store.driver: sqlite, postgres, mysql, sqlserver, oracle

`

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	data, err := yaml.Marshal(DefaultFileConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, append([]byte(configHeader), data...), 0644)
}

// Validate checks values that would otherwise fail late, at first use.
func (c *FileConfig) Validate() error {
	d, err := lookupDialect(c.Store.Driver)
	if err != nil {
		return err
	}
	if c.Store.DSN == "" && d.name != "sqlite" {
		return fmt.Errorf("store.dsn is required for driver %q", d.name)
	}
	if c.Auth.APIKeyHeader == "" {
		return fmt.Errorf("auth.api_key_header must not be empty")
	}
	if len(c.Auth.LoginPath) == 0 || c.Auth.LoginPath[0] != '/' {
		return fmt.Errorf("auth.login_path must start with '/': %q", c.Auth.LoginPath)
	}
	for name, v := range map[string]string{
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"server.read_timeout":     c.Server.ReadTimeout,
		"server.write_timeout":    c.Server.WriteTimeout,
		"auth.session_ttl":        c.Auth.SessionTTL,
		"auth.touch_timeout":      c.Auth.TouchTimeout,
	} {
		if _, err := parseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Duration parses a duration setting, returning fallback when s is empty
// or malformed. Call Validate first to surface malformed values.
func Duration(s string, fallback time.Duration) time.Duration {
	d, err := parseDuration(s)
	if err != nil || d == 0 {
		return fallback
	}
	return d
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
