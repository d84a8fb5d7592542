package manifest

import (
	"path/filepath"
	"testing"

	"hoonpm/internal/version"
)

const sampleManifest = `
[package]
name = "arcadia"
version = "0.1.0"

[dependencies]
seq = "^1.2.0"
arvo = { version = "k414" }

[dependencies.zuse]
git = "https://github.com/urbit/urbit"
branch = "master"
path = "pkg/arvo/sys"
files = ["zuse"]
`

func TestParseDependencyUnion(t *testing.T) {
	m, err := Parse([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Package.Name != "arcadia" {
		t.Fatalf("name = %q", m.Package.Name)
	}
	if len(m.Dependencies) != 3 {
		t.Fatalf("expected 3 dependencies, got %d", len(m.Dependencies))
	}

	seq := m.Dependencies["seq"]
	if seq.Version != "^1.2.0" || !seq.bare() {
		t.Fatalf("bare string dep parsed wrong: %+v", seq)
	}

	arvo := m.Dependencies["arvo"]
	if arvo.Version != "k414" {
		t.Fatalf("version table dep parsed wrong: %+v", arvo)
	}

	zuse := m.Dependencies["zuse"]
	if zuse.Git == "" || zuse.Branch != "master" || len(zuse.Files) != 1 {
		t.Fatalf("full dep parsed wrong: %+v", zuse)
	}
}

func TestParseRejectsUnknownField(t *testing.T) {
	bad := `
[package]
name = "x"

[dependencies.y]
git = "https://example.com/y"
bogus = true
`
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatal("unknown dependency field should fail")
	}
}

func TestParseRequiresName(t *testing.T) {
	if _, err := Parse([]byte("[package]\nversion = \"1.0\"\n")); err == nil {
		t.Fatal("missing package.name should fail")
	}
}

func TestDependencySpecPriority(t *testing.T) {
	dep := Dependency{
		Version: "^1.0.0",
		Commit:  "abc123",
		Tag:     "v2.0.0",
		Branch:  "main",
		Kelvin:  "k414",
	}
	spec, err := dep.Spec()
	if err != nil {
		t.Fatalf("Spec: %v", err)
	}
	if !spec.Equal(version.Commit("abc123")) {
		t.Fatalf("commit should win priority, got %v", spec)
	}

	dep.Commit = ""
	spec, _ = dep.Spec()
	if !spec.Equal(version.Tag("v2.0.0")) {
		t.Fatalf("tag should win over kelvin/branch/version, got %v", spec)
	}

	dep.Tag = ""
	spec, _ = dep.Spec()
	if !spec.Equal(version.Kelvin(414)) {
		t.Fatalf("kelvin should win over branch, got %v", spec)
	}

	if _, err := (Dependency{}).Spec(); err == nil {
		t.Fatal("empty dependency must not produce a spec")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	m := Manifest{
		Package: PackageMeta{Name: "demo", Version: "0.1.0"},
		Dependencies: map[string]Dependency{
			"seq":  {Version: "^1.2.0"},
			"zuse": {Git: "https://example.com/urbit", Branch: "master", Files: []string{"zuse"}},
		},
	}
	if err := Save(path, m); err != nil {
		t.Fatalf("Save: %v", err)
	}
	back, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if back.Dependencies["seq"].Version != "^1.2.0" || !back.Dependencies["seq"].bare() {
		t.Fatalf("bare dep did not round trip: %+v", back.Dependencies["seq"])
	}
	if back.Dependencies["zuse"].Branch != "master" {
		t.Fatalf("full dep did not round trip: %+v", back.Dependencies["zuse"])
	}
}

func TestLoadIfExists(t *testing.T) {
	m, err := LoadIfExists(filepath.Join(t.TempDir(), FileName))
	if err != nil {
		t.Fatalf("LoadIfExists: %v", err)
	}
	if m != nil {
		t.Fatal("missing manifest should yield nil")
	}
}

func TestLockfileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), LockFileName)

	empty, err := LoadLockfile(path)
	if err != nil || len(empty.Package) != 0 {
		t.Fatalf("missing lockfile should be empty, got %+v err %v", empty, err)
	}

	lock := Lockfile{Package: []LockedPackage{
		{Name: "zuse", Version: "latest", Source: LockSource{Type: "git", URL: "https://example.com/urbit", Commit: "abc123def456"}},
		{Name: "arvo", Version: "k414", Source: LockSource{Type: "git", URL: "https://example.com/urbit", Commit: "def456abc123"}},
	}}
	if err := SaveLockfile(path, lock); err != nil {
		t.Fatalf("SaveLockfile: %v", err)
	}
	back, err := LoadLockfile(path)
	if err != nil {
		t.Fatalf("LoadLockfile: %v", err)
	}
	if len(back.Package) != 2 {
		t.Fatalf("expected 2 records, got %d", len(back.Package))
	}
	if back.Package[0].Name != "arvo" {
		t.Fatalf("records should be sorted by name, got %q first", back.Package[0].Name)
	}
	if back.Package[1].Source.Commit != "abc123def456" {
		t.Fatalf("provenance lost: %+v", back.Package[1])
	}
}
