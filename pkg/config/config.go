// Package config loads syncd's runtime configuration from the environment,
// with an optional YAML overlay file for operators who prefer files over
// env vars. Env vars always take precedence over the file so a stale
// mounted config never silently wins in a container deployment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultHost             = "localhost:3000"
	defaultDataDir          = "."
	defaultMaxStorageGB     = 10
	defaultMaxSitesPerUser  = 5
	defaultIdleTimeout      = 10 * time.Minute
	defaultMaxFrameBytes    = 64 << 20 // 64 MiB
	bytesPerGB          int64 = 1 << 30
)

// Config holds every recognized runtime key, loaded once at boot. It is
// passed explicitly through constructors rather than held as a process-wide
// singleton.
type Config struct {
	Host               string
	SignupKey          string
	DataDir            string
	MaxStorageGB       int64
	MaxSitesPerUser    int
	SnapshotOnConnect  bool
	IdleTimeout        time.Duration
	MaxFrameBytes      int64
}

// MaxStorageBytes is the per-vault quota in bytes derived from MaxStorageGB.
func (c Config) MaxStorageBytes() int64 {
	return c.MaxStorageGB * bytesPerGB
}

// fileOverlay mirrors the subset of Config keys an operator may also supply
// via YAML.
type fileOverlay struct {
	Host              string `yaml:"host"`
	SignupKey         string `yaml:"signup_key"`
	DataDir           string `yaml:"data_dir"`
	MaxStorageGB      int64  `yaml:"max_storage_gb"`
	MaxSitesPerUser   int    `yaml:"max_sites_per_user"`
	SnapshotOnConnect *bool  `yaml:"snapshot_on_connect"`
}

// Load builds a Config from defaults, an optional YAML file at yamlPath
// (ignored if empty or missing), then environment variables, in that order
// of increasing precedence.
func Load(yamlPath string) (Config, error) {
	cfg := Config{
		Host:              defaultHost,
		DataDir:           defaultDataDir,
		MaxStorageGB:      defaultMaxStorageGB,
		MaxSitesPerUser:   defaultMaxSitesPerUser,
		SnapshotOnConnect: true,
		IdleTimeout:       defaultIdleTimeout,
		MaxFrameBytes:     defaultMaxFrameBytes,
	}

	if yamlPath != "" {
		if err := applyYAML(&cfg, yamlPath); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}

	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if overlay.Host != "" {
		cfg.Host = overlay.Host
	}
	if overlay.SignupKey != "" {
		cfg.SignupKey = overlay.SignupKey
	}
	if overlay.DataDir != "" {
		cfg.DataDir = overlay.DataDir
	}
	if overlay.MaxStorageGB > 0 {
		cfg.MaxStorageGB = overlay.MaxStorageGB
	}
	if overlay.MaxSitesPerUser > 0 {
		cfg.MaxSitesPerUser = overlay.MaxSitesPerUser
	}
	if overlay.SnapshotOnConnect != nil {
		cfg.SnapshotOnConnect = *overlay.SnapshotOnConnect
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("SIGNUP_KEY"); v != "" {
		cfg.SignupKey = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("MAX_STORAGE_GB"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxStorageGB = n
		}
	}
	if v := os.Getenv("MAX_SITES_PER_USER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxSitesPerUser = n
		}
	}
	if v := os.Getenv("SNAPSHOT_ON_CONNECT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SnapshotOnConnect = b
		}
	}
}
