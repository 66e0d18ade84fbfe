package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "subdaap.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"connections": [{"name": "home", "url": "http://localhost:4040"}]}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Provider.DatabasePath != "./catalog.db" {
		t.Fatalf("got database path %q", cfg.Provider.DatabasePath)
	}
	if cfg.Connections[0].Synchronization != SyncInterval {
		t.Fatalf("got synchronization %q, want interval", cfg.Connections[0].Synchronization)
	}
	if cfg.Connections[0].SynchronizationInterval != 1440 {
		t.Fatalf("got interval %d, want 1440", cfg.Connections[0].SynchronizationInterval)
	}
}

func TestLoadRejectsMissingConnectionURL(t *testing.T) {
	path := writeConfig(t, `{"connections": [{"name": "home"}]}`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for missing url")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLoadRejectsInvalidSynchronizationMode(t *testing.T) {
	path := writeConfig(t, `{"connections": [{"name": "home", "url": "http://h", "synchronization": "bogus"}]}`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for invalid synchronization mode")
	}
}

func TestEnvOverrideDatabasePath(t *testing.T) {
	path := writeConfig(t, `{"connections": []}`)

	t.Setenv("SUBDAAP_DATABASE_PATH", "/tmp/override.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.DatabasePath != "/tmp/override.db" {
		t.Fatalf("got %q, want override", cfg.Provider.DatabasePath)
	}
}
