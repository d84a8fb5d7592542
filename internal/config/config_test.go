package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEnsureCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Ensure(path)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if cfg.Version != SchemaVersion {
		t.Fatalf("version = %d", cfg.Version)
	}
	if cfg.Registry.URL != DefaultRegistryURL {
		t.Fatalf("registry URL = %q", cfg.Registry.URL)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file should be written: %v", err)
	}

	again, err := Ensure(path)
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if again.Storage.Root != cfg.Storage.Root {
		t.Fatal("Ensure should be idempotent")
	}
}

func TestLoadNormalizesPartialDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	partial := "version = 1\n\n[storage]\nroot = \"/tmp/hoonpm-test\"\n"
	if err := os.WriteFile(path, []byte(partial), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Network.MaxRetries != 3 || cfg.Logging.Level != "info" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Storage.Root != "/tmp/hoonpm-test" {
		t.Fatalf("explicit value lost: %q", cfg.Storage.Root)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "loud"
	if err := Validate(cfg); err == nil {
		t.Fatal("bad log level should fail validation")
	}

	cfg = DefaultConfig()
	cfg.Network.RetryDelay = "soon"
	if err := Validate(cfg); err == nil {
		t.Fatal("unparseable retry delay should fail validation")
	}
}

func TestDurationAccessors(t *testing.T) {
	n := NetworkConfig{RetryDelay: "250ms", HTTPTimeout: "10s"}
	if n.RetryDelayDuration() != 250*time.Millisecond {
		t.Fatalf("retry delay = %v", n.RetryDelayDuration())
	}
	if n.HTTPTimeoutDuration() != 10*time.Second {
		t.Fatalf("http timeout = %v", n.HTTPTimeoutDuration())
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err := ExpandPath("~/.hoonpm")
	if err != nil {
		t.Fatalf("ExpandPath: %v", err)
	}
	if got != filepath.Join(home, ".hoonpm") {
		t.Fatalf("ExpandPath = %q", got)
	}
	if _, err := ExpandPath(""); err == nil {
		t.Fatal("empty path should fail")
	}
}
