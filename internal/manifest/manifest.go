// Package manifest reads and writes hoon.toml manifests and hoon.lock
// lockfiles.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pelletier/go-toml/v2"

	"hoonpm/internal/fsutil"
	"hoonpm/internal/version"
)

// FileName is the manifest file looked up at a package root.
const FileName = "hoon.toml"

// LockFileName is the lockfile written next to the manifest.
const LockFileName = "hoon.lock"

// Manifest is the parsed hoon.toml document.
type Manifest struct {
	Package      PackageMeta
	Dependencies map[string]Dependency
}

// PackageMeta is the [package] table.
type PackageMeta struct {
	Name        string   `toml:"name"`
	Version     string   `toml:"version,omitempty"`
	Description string   `toml:"description,omitempty"`
	Authors     []string `toml:"authors,omitempty"`
	License     string   `toml:"license,omitempty"`
}

// Dependency is one entry under [dependencies]. The TOML form is a union:
// a bare version string, an inline {version = "..."} table, or a full table
// with explicit git coordinates. The zero-valued fields of the unused forms
// stay empty.
type Dependency struct {
	Version string   `toml:"version,omitempty"`
	Git     string   `toml:"git,omitempty"`
	Commit  string   `toml:"commit,omitempty"`
	Tag     string   `toml:"tag,omitempty"`
	Branch  string   `toml:"branch,omitempty"`
	Path    string   `toml:"path,omitempty"`
	Files   []string `toml:"files,omitempty"`
	Kelvin  string   `toml:"kelvin,omitempty"`
}

// bare reports whether the dependency carries only a version string and can
// be serialized back as one.
func (d Dependency) bare() bool {
	return d.Git == "" && d.Commit == "" && d.Tag == "" && d.Branch == "" &&
		d.Path == "" && len(d.Files) == 0 && d.Kelvin == ""
}

// HasGit reports whether explicit git coordinates were declared, bypassing
// the registry.
func (d Dependency) HasGit() bool { return d.Git != "" }

// Spec derives the version spec for cache keys and matching.
// Field priority follows commit > tag > kelvin > branch > version.
func (d Dependency) Spec() (version.Spec, error) {
	switch {
	case d.Commit != "":
		return version.Commit(d.Commit), nil
	case d.Tag != "":
		return version.Tag(d.Tag), nil
	case d.Kelvin != "":
		return version.Parse(d.Kelvin)
	case d.Branch != "":
		return version.Branch(d.Branch), nil
	case d.Version != "":
		return version.Parse(d.Version)
	default:
		return version.Spec{}, fmt.Errorf("DOC_MANIFEST: dependency has no version information")
	}
}

// rawManifest is the wire shape: dependency values decode as any so the
// string-or-table union can be normalized afterwards.
type rawManifest struct {
	Package      PackageMeta    `toml:"package"`
	Dependencies map[string]any `toml:"dependencies,omitempty"`
}

// Load reads and parses a manifest. A missing file is an error; use
// LoadIfExists when absence means "no dependencies".
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("DOC_MANIFEST: %w", err)
	}
	return Parse(data)
}

// LoadIfExists reads a manifest, returning nil when the file is absent.
func LoadIfExists(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("DOC_MANIFEST: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Parse decodes manifest TOML.
func Parse(data []byte) (Manifest, error) {
	var raw rawManifest
	if err := toml.Unmarshal(data, &raw); err != nil {
		return Manifest{}, fmt.Errorf("DOC_MANIFEST_PARSE: %w", err)
	}
	if raw.Package.Name == "" {
		return Manifest{}, fmt.Errorf("DOC_MANIFEST_SCHEMA: missing package.name")
	}
	m := Manifest{Package: raw.Package}
	if len(raw.Dependencies) > 0 {
		m.Dependencies = make(map[string]Dependency, len(raw.Dependencies))
		for name, v := range raw.Dependencies {
			dep, err := normalizeDependency(v)
			if err != nil {
				return Manifest{}, fmt.Errorf("DOC_MANIFEST_SCHEMA: dependency %q: %w", name, err)
			}
			m.Dependencies[name] = dep
		}
	}
	return m, nil
}

func normalizeDependency(v any) (Dependency, error) {
	switch val := v.(type) {
	case string:
		return Dependency{Version: val}, nil
	case map[string]any:
		var dep Dependency
		for key, field := range val {
			switch key {
			case "version":
				dep.Version, _ = field.(string)
			case "git":
				dep.Git, _ = field.(string)
			case "commit":
				dep.Commit, _ = field.(string)
			case "tag":
				dep.Tag, _ = field.(string)
			case "branch":
				dep.Branch, _ = field.(string)
			case "path":
				dep.Path, _ = field.(string)
			case "kelvin":
				dep.Kelvin, _ = field.(string)
			case "files":
				items, ok := field.([]any)
				if !ok {
					return Dependency{}, fmt.Errorf("files must be an array of strings")
				}
				for _, item := range items {
					s, ok := item.(string)
					if !ok {
						return Dependency{}, fmt.Errorf("files must be an array of strings")
					}
					dep.Files = append(dep.Files, s)
				}
			default:
				return Dependency{}, fmt.Errorf("unknown field %q", key)
			}
		}
		return dep, nil
	default:
		return Dependency{}, fmt.Errorf("expected version string or table, got %T", v)
	}
}

// Save writes the manifest atomically. Bare version-only dependencies
// serialize back to plain strings.
func Save(path string, m Manifest) error {
	raw := rawManifest{Package: m.Package}
	if len(m.Dependencies) > 0 {
		raw.Dependencies = make(map[string]any, len(m.Dependencies))
		for name, dep := range m.Dependencies {
			if dep.bare() {
				raw.Dependencies[name] = dep.Version
			} else {
				raw.Dependencies[name] = dep
			}
		}
	}
	blob, err := toml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("DOC_MANIFEST_ENCODE: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return fsutil.AtomicWrite(path, blob, 0o644)
}

// Lockfile is the parsed hoon.lock document. Every record pins an exact
// commit; the lockfile is derivable losslessly from a resolved graph.
type Lockfile struct {
	Package []LockedPackage `toml:"package"`
}

// LockedPackage is one [[package]] record.
type LockedPackage struct {
	Name    string     `toml:"name"`
	Version string     `toml:"version"`
	Source  LockSource `toml:"source"`
}

// LockSource records package provenance.
type LockSource struct {
	Type   string `toml:"type"`
	URL    string `toml:"url,omitempty"`
	Commit string `toml:"commit,omitempty"`
	Path   string `toml:"path,omitempty"`
}

// LoadLockfile reads hoon.lock; a missing file is an empty lockfile.
func LoadLockfile(path string) (Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Lockfile{}, nil
		}
		return Lockfile{}, err
	}
	var lock Lockfile
	if err := toml.Unmarshal(data, &lock); err != nil {
		return Lockfile{}, fmt.Errorf("DOC_LOCK_PARSE: %w", err)
	}
	for _, p := range lock.Package {
		if p.Name == "" || p.Version == "" {
			return Lockfile{}, fmt.Errorf("DOC_LOCK_SCHEMA: incomplete record %q", p.Name)
		}
	}
	return lock, nil
}

// SaveLockfile writes hoon.lock atomically with records sorted by name so
// regeneration is deterministic.
func SaveLockfile(path string, lock Lockfile) error {
	sort.Slice(lock.Package, func(i, j int) bool {
		return lock.Package[i].Name < lock.Package[j].Name
	})
	blob, err := toml.Marshal(lock)
	if err != nil {
		return fmt.Errorf("DOC_LOCK_ENCODE: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return fsutil.AtomicWrite(path, blob, 0o644)
}
