package config

import (
	"os"
	"strconv"
	"time"
)

// FromEnv overlays TIDELOG_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("TIDELOG_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("TIDELOG_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TIDELOG_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Window = Duration(d)
		}
	}
	if v := os.Getenv("TIDELOG_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SweepInterval = Duration(d)
		}
	}
	if v := os.Getenv("TIDELOG_PERSIST_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PersistRetries = n
		}
	}
	if v := os.Getenv("TIDELOG_PERSIST_BACKOFF"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PersistBackoff = Duration(d)
		}
	}
	if v := os.Getenv("TIDELOG_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TIDELOG_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("TIDELOG_AUTH_MODE"); v != "" {
		cfg.Auth.Mode = v
	}
	if v := os.Getenv("TIDELOG_AUTH_KEY_ENV"); v != "" {
		cfg.Auth.KeyEnv = v
	}
	if v := os.Getenv("TIDELOG_STORE_FSYNC"); v != "" {
		cfg.Store.Fsync = v
	}
}
