// Package config loads tidelog server configuration from a YAML file with
// TIDELOG_* environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "5m" parse.
type Duration time.Duration

// UnmarshalYAML parses a duration string ("30s", "5m", "1h30m").
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration back as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level server configuration.
type Config struct {
	// ListenAddr is the HTTP listen address (default ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// DataDir is the root directory for the durable store (default "data").
	DataDir string `yaml:"data_dir"`

	// Window is the sliding window length: entries older than
	// watermark-window are evicted to the durable store.
	Window Duration `yaml:"window"`

	// SweepInterval is the periodic eviction cadence in addition to the
	// per-ingest trigger. Zero disables the ticker.
	SweepInterval Duration `yaml:"sweep_interval"`

	// PersistRetries is the number of extra persist attempts for an evicted
	// batch after the first failure.
	PersistRetries int `yaml:"persist_retries"`

	// PersistBackoff is the wait between persist attempts.
	PersistBackoff Duration `yaml:"persist_backoff"`

	Log   LogConfig   `yaml:"log"`
	Auth  AuthConfig  `yaml:"auth"`
	Store StoreConfig `yaml:"store"`
}

// LogConfig controls process logging.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`
	// Format is one of: text | json.
	Format string `yaml:"format"`
}

// AuthConfig controls client authentication.
type AuthConfig struct {
	// Mode is one of: none | apikey.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable holding the expected
	// API key. Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// AdminUser and AdminPasswordHash (bcrypt) enable session login via
	// POST /api/login as an alternative to the static key. Optional.
	AdminUser         string `yaml:"admin_user"`
	AdminPasswordHash string `yaml:"admin_password_hash"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// StoreConfig controls durable-store behavior.
type StoreConfig struct {
	// Fsync is one of: always | interval | never.
	Fsync string `yaml:"fsync"`
	// FsyncInterval controls group commit when Fsync == "interval".
	FsyncInterval Duration `yaml:"fsync_interval"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		ListenAddr:     ":8080",
		DataDir:        "data",
		Window:         Duration(5 * time.Minute),
		SweepInterval:  Duration(30 * time.Second),
		PersistRetries: 3,
		PersistBackoff: Duration(500 * time.Millisecond),
		Log:            LogConfig{Level: "info", Format: "text"},
		Auth:           AuthConfig{Mode: "none", KeyEnv: "TIDELOG_API_KEY"},
		Store:          StoreConfig{Fsync: "interval", FsyncInterval: Duration(5 * time.Millisecond)},
	}
}

// Load reads configuration from a YAML file, overlays TIDELOG_* environment
// variables, and validates the result. An empty path yields defaults plus
// the env overlay.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	FromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks configuration invariants. A non-positive window is a
// contract violation and fatal at construction time.
func (c Config) Validate() error {
	if c.Window.Std() <= 0 {
		return fmt.Errorf("window must be positive, got %v", c.Window.Std())
	}
	if c.SweepInterval.Std() < 0 {
		return fmt.Errorf("sweep_interval must not be negative, got %v", c.SweepInterval.Std())
	}
	if c.PersistRetries < 0 {
		return fmt.Errorf("persist_retries must not be negative, got %d", c.PersistRetries)
	}
	switch c.Auth.Mode {
	case "", "none", "apikey":
	default:
		return fmt.Errorf("auth.mode must be none or apikey, got %q", c.Auth.Mode)
	}
	switch c.Store.Fsync {
	case "", "always", "interval", "never":
	default:
		return fmt.Errorf("store.fsync must be always, interval or never, got %q", c.Store.Fsync)
	}
	return nil
}
