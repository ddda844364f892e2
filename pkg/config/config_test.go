package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Host != defaultHost {
		t.Errorf("Host = %q, want %q", cfg.Host, defaultHost)
	}
	if cfg.MaxStorageGB != defaultMaxStorageGB {
		t.Errorf("MaxStorageGB = %d, want %d", cfg.MaxStorageGB, defaultMaxStorageGB)
	}
	if !cfg.SnapshotOnConnect {
		t.Error("SnapshotOnConnect default should be true")
	}
	if cfg.MaxStorageBytes() != defaultMaxStorageGB*bytesPerGB {
		t.Errorf("MaxStorageBytes() = %d", cfg.MaxStorageBytes())
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "syncd.yaml")
	if err := os.WriteFile(path, []byte("host: \"0.0.0.0:9000\"\nmax_storage_gb: 20\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("HOST", "0.0.0.0:4000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Host != "0.0.0.0:4000" {
		t.Errorf("Host = %q, want env value to win", cfg.Host)
	}
	if cfg.MaxStorageGB != 20 {
		t.Errorf("MaxStorageGB = %d, want YAML value 20 to survive", cfg.MaxStorageGB)
	}
}

func TestLoadMissingYAMLIsNotError(t *testing.T) {
	clearEnv(t)

	if _, err := Load("/nonexistent/syncd.yaml"); err != nil {
		t.Errorf("Load() with missing file error = %v, want nil", err)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"HOST", "SIGNUP_KEY", "DATA_DIR", "MAX_STORAGE_GB", "MAX_SITES_PER_USER", "SNAPSHOT_ON_CONNECT"} {
		t.Setenv(k, "")
	}
}
