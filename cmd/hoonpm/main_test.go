package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	storageRoot := t.TempDir()
	path := filepath.Join(t.TempDir(), "config.toml")
	doc := fmt.Sprintf(`version = 1

[storage]
root = %q

[registry]
url = ""

[logging]
level = "error"
`, storageRoot)
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}

func run(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetArgs(args)
	return cmd.Execute()
}

func TestVersionCommand(t *testing.T) {
	if err := run(t, "--config", writeTestConfig(t), "version"); err != nil {
		t.Fatalf("version: %v", err)
	}
}

func TestInitAddListRemoveFlow(t *testing.T) {
	configPath := writeTestConfig(t)
	chdir(t, t.TempDir())

	if err := run(t, "--config", configPath, "init", "myapp"); err != nil {
		t.Fatalf("init: %v", err)
	}
	chdir(t, "myapp")

	if err := run(t, "--config", configPath, "add", "zuse@k413"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := run(t, "--config", configPath, "list"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := run(t, "--config", configPath, "remove", "zuse"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := run(t, "--config", configPath, "remove", "zuse"); err == nil {
		t.Fatal("expected second remove to fail")
	}
}

func TestRegistryLookupBuiltin(t *testing.T) {
	if err := run(t, "--config", writeTestConfig(t), "registry", "lookup", "urbit/zuse"); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if err := run(t, "--config", writeTestConfig(t), "registry", "lookup", "no-such-package"); err == nil {
		t.Fatal("expected lookup of unknown package to fail")
	}
}

func TestCacheStatsEmpty(t *testing.T) {
	if err := run(t, "--config", writeTestConfig(t), "cache", "stats"); err != nil {
		t.Fatalf("cache stats: %v", err)
	}
}
