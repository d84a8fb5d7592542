package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testCommit = "3333333333333333333333333333333333333333"

func writeTestConfig(t *testing.T) string {
	t.Helper()
	storageRoot := t.TempDir()
	path := filepath.Join(t.TempDir(), "config.toml")
	doc := fmt.Sprintf(`version = 1

[storage]
root = %q

[registry]
url = ""

[network]
max_retries = 0
retry_delay = "1ms"
http_timeout = "1s"

[logging]
level = "error"
`, storageRoot)
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// fakeExec serves ls-remote from refs and populates clone targets from
// trees, keyed by URL.
func fakeExec(t *testing.T, refs map[string]string, trees map[string]map[string]string) func(ctx context.Context, dir string, args ...string) ([]byte, error) {
	return func(_ context.Context, dir string, args ...string) ([]byte, error) {
		switch {
		case args[0] == "--version":
			return []byte("git version 2.43.0\n"), nil
		case args[0] == "ls-remote" && args[1] == "--tags":
			return []byte(""), nil
		case args[0] == "ls-remote":
			commit, ok := refs[args[1]+" "+args[2]]
			if !ok {
				return nil, fmt.Errorf("git ls-remote: ref %s not found", args[2])
			}
			return []byte(commit + "\t" + args[2] + "\n"), nil
		case args[0] == "clone":
			for rel, content := range trees[args[1]] {
				path := filepath.Join(args[2], filepath.FromSlash(rel))
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					t.Fatalf("fake clone: %v", err)
				}
				if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
					t.Fatalf("fake clone: %v", err)
				}
			}
			return nil, nil
		case args[0] == "checkout":
			return nil, nil
		}
		return nil, fmt.Errorf("fake git: unexpected command %v", args)
	}
}

func newTestService(t *testing.T, refs map[string]string, trees map[string]map[string]string) *Service {
	t.Helper()
	svc, err := New(Options{
		ConfigPath: writeTestConfig(t),
		Exec:       fakeExec(t, refs, trees),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

func TestNewCreatesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	t.Setenv("HOME", t.TempDir())
	svc, err := New(Options{ConfigPath: path, Exec: fakeExec(t, nil, nil)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if svc.Config.Network.MaxRetries != 3 {
		t.Fatalf("defaults not applied: %+v", svc.Config.Network)
	}
}

func TestInitAddList(t *testing.T) {
	svc := newTestService(t, nil, nil)

	projectDir, err := svc.Init(t.TempDir(), "myapp")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, err := os.Stat(filepath.Join(projectDir, "src", "lib.hoon")); err != nil {
		t.Fatalf("stub missing: %v", err)
	}

	if _, err := svc.Add(projectDir, "zuse@latest"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := svc.Add(projectDir, "zuse@k413"); err == nil {
		t.Fatal("expected duplicate add to fail")
	}

	deps, err := svc.List(projectDir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(deps) != 1 || deps[0].Name != "zuse" || deps[0].Spec != "*" || deps[0].Installed {
		t.Fatalf("deps = %+v", deps)
	}
}

func TestInitRefusesExistingManifest(t *testing.T) {
	svc := newTestService(t, nil, nil)
	dir := t.TempDir()
	if _, err := svc.Init(dir, "myapp"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, err := svc.Init(dir, "myapp"); err == nil {
		t.Fatal("expected second init to fail")
	}
}

func TestInstallRemoveRoundTrip(t *testing.T) {
	refs := map[string]string{
		"https://example.com/liba refs/tags/v1": testCommit,
	}
	trees := map[string]map[string]string{
		"https://example.com/liba": {"lib/util.hoon": "~\n"},
	}
	svc := newTestService(t, refs, trees)

	projectDir, err := svc.Init(t.TempDir(), "myapp")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, err := svc.Add(projectDir, "liba@tag:v1"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// The manifest records a bare version spec, so resolution must go
	// through the registry, which does not know liba. Rewrite the entry to
	// explicit git coordinates the way a real manifest would carry them.
	manifestPath := filepath.Join(projectDir, "hoon.toml")
	doc := `[package]
name = "myapp"

[dependencies]
liba = { git = "https://example.com/liba", tag = "v1" }
`
	if err := os.WriteFile(manifestPath, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := svc.Install(context.Background(), projectDir)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if res.Installed != 1 {
		t.Fatalf("installed = %d", res.Installed)
	}

	link := filepath.Join(projectDir, "hoon", "lib", "util.hoon")
	if _, err := os.Readlink(link); err != nil {
		t.Fatalf("link missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(projectDir, "hoon.lock")); err != nil {
		t.Fatalf("lockfile missing: %v", err)
	}

	if err := svc.Remove(projectDir, "liba"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Lstat(link); err == nil {
		t.Fatal("symlink should be removed")
	}
	entries, _ := os.ReadDir(filepath.Join(projectDir, "hoon", "packages"))
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "liba--") {
			t.Fatalf("installed tree %s should be removed", entry.Name())
		}
	}
	deps, err := svc.List(projectDir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(deps) != 0 {
		t.Fatalf("deps = %+v", deps)
	}
}

func TestRemoveUnknownDependency(t *testing.T) {
	svc := newTestService(t, nil, nil)
	projectDir, err := svc.Init(t.TempDir(), "myapp")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := svc.Remove(projectDir, "ghost"); err == nil {
		t.Fatal("expected remove of unknown dependency to fail")
	}
}

func TestInstallWithoutManifest(t *testing.T) {
	svc := newTestService(t, nil, nil)
	if _, err := svc.Install(context.Background(), t.TempDir()); err == nil {
		t.Fatal("expected install without manifest to fail")
	}
}
