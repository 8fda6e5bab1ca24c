package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatch_ReloadOnChange(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	dataDir := yamlSafePath(filepath.Join(tmpDir, "data"))

	initial := "logging:\n  level: INFO\nstorage:\n  dir: \"" + dataDir + "\"\n"
	if err := os.WriteFile(configPath, []byte(initial), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	reloaded := make(chan *Config, 1)
	stop, err := Watch(configPath, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}
	defer stop()

	updated := "logging:\n  level: DEBUG\nstorage:\n  dir: \"" + dataDir + "\"\n"
	if err := os.WriteFile(configPath, []byte(updated), 0644); err != nil {
		t.Fatalf("Failed to update config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Logging.Level != "DEBUG" {
			t.Errorf("Expected reloaded level DEBUG, got %q", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for config reload")
	}
}

func TestWatch_InvalidReloadIgnored(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	dataDir := yamlSafePath(filepath.Join(tmpDir, "data"))

	initial := "storage:\n  dir: \"" + dataDir + "\"\n"
	if err := os.WriteFile(configPath, []byte(initial), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	reloaded := make(chan *Config, 1)
	stop, err := Watch(configPath, func(cfg *Config) {
		reloaded <- cfg
	})
	if err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}
	defer stop()

	// A config that fails validation must not reach the callback.
	broken := "logging:\n  level: BOGUS\nstorage:\n  dir: \"" + dataDir + "\"\n"
	if err := os.WriteFile(configPath, []byte(broken), 0644); err != nil {
		t.Fatalf("Failed to update config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		t.Fatalf("Unexpected reload with level %q", cfg.Logging.Level)
	case <-time.After(1 * time.Second):
	}
}
