// Package cache stores fetched package source trees on disk, indexed by an
// append-only JSON document.
//
// Layout under the cache root:
//
//	git/                          clone cache (owned by gitfetch)
//	packages/<name>/<spec>/       cached source trees
//	registry/                     registry document scratch space
//	cache-index.json              the index
//	cache-index.lock              advisory lock for index read-modify-write
//
// The index read-modify-write cycle is serialized through an advisory file
// lock so concurrent hoonpm processes cannot lose each other's updates.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"hoonpm/internal/fsutil"
)

// CachedPackage is one index record: a source tree pinned to an exact
// commit, keyed by name and the canonical version-spec string. Records are
// appended or removed, never updated in place.
type CachedPackage struct {
	Name        string `json:"name"`
	VersionSpec string `json:"version_spec"`
	Commit      string `json:"commit"`
	CachedAt    int64  `json:"cached_at"`
	SourceURL   string `json:"source_url"`
}

// Index maps package name to the versions ever cached for it.
type Index struct {
	Packages map[string][]CachedPackage `json:"packages"`
}

// Stats aggregates cache contents.
type Stats struct {
	TotalPackages  int   `json:"total_packages"`
	UniquePackages int   `json:"unique_packages"`
	TotalSizeBytes int64 `json:"total_size_bytes"`
}

// TotalSizeMB reports the aggregate size in megabytes.
func (s Stats) TotalSizeMB() float64 {
	return float64(s.TotalSizeBytes) / (1024 * 1024)
}

const indexFile = "cache-index.json"

// PackageCache manages the on-disk cache rooted at a single directory.
type PackageCache struct {
	root string
	lock *flock.Flock
	now  func() time.Time
}

// New creates a PackageCache at root, creating the layout as needed.
func New(root string) (*PackageCache, error) {
	for _, sub := range []string{"git", "packages", "registry"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("CACHE_INIT: %w", err)
		}
	}
	return &PackageCache{
		root: root,
		lock: flock.New(filepath.Join(root, "cache-index.lock")),
		now:  time.Now,
	}, nil
}

// Root returns the cache root directory.
func (c *PackageCache) Root() string { return c.root }

// GitDir is the clone cache directory handed to the git fetcher.
func (c *PackageCache) GitDir() string { return filepath.Join(c.root, "git") }

// PackagesDir holds the cached source trees.
func (c *PackageCache) PackagesDir() string { return filepath.Join(c.root, "packages") }

// RegistryDir is scratch space for registry documents.
func (c *PackageCache) RegistryDir() string { return filepath.Join(c.root, "registry") }

// PackagePath is the deterministic location for a name + version-spec pair.
func (c *PackageCache) PackagePath(name, versionSpec string) string {
	return filepath.Join(c.PackagesDir(), name, sanitizeSpec(versionSpec))
}

// IsCached reports whether the package directory exists. Existence only;
// the index is not consulted.
func (c *PackageCache) IsCached(name, versionSpec string) bool {
	_, err := os.Stat(c.PackagePath(name, versionSpec))
	return err == nil
}

// CachePackage copies sourcePath into the cache (skipping .git) and appends
// an index record. Callers must key non-exact specs by a commit-bearing
// pseudo-spec; the same path with a different commit would otherwise be
// silently shadowed.
func (c *PackageCache) CachePackage(name, versionSpec, commit, sourceURL, sourcePath string) (string, error) {
	target := c.PackagePath(name, versionSpec)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("CACHE_STORE: %w", err)
	}
	if err := fsutil.CopyDir(sourcePath, target); err != nil {
		return "", fmt.Errorf("CACHE_STORE: %s: %w", name, err)
	}
	rec := CachedPackage{
		Name:        name,
		VersionSpec: versionSpec,
		Commit:      commit,
		CachedAt:    c.now().Unix(),
		SourceURL:   sourceURL,
	}
	err := c.withIndexLock(func() error {
		idx, err := c.loadIndexLocked()
		if err != nil {
			return err
		}
		idx.Packages[name] = append(idx.Packages[name], rec)
		return c.saveIndexLocked(idx)
	})
	if err != nil {
		return "", err
	}
	return target, nil
}

// FindCached returns the index record matching name and the exact
// version-spec string. A record whose directory is gone is a miss, not an
// error; the filesystem wins over the index.
func (c *PackageCache) FindCached(name, versionSpec string) (*CachedPackage, error) {
	idx, err := c.LoadIndex()
	if err != nil {
		return nil, err
	}
	for _, rec := range idx.Packages[name] {
		if rec.VersionSpec == versionSpec {
			if !c.IsCached(name, versionSpec) {
				return nil, nil
			}
			found := rec
			return &found, nil
		}
	}
	return nil, nil
}

// ListCached returns every index record, sorted by name then spec.
func (c *PackageCache) ListCached() ([]CachedPackage, error) {
	idx, err := c.LoadIndex()
	if err != nil {
		return nil, err
	}
	var all []CachedPackage
	for _, recs := range idx.Packages {
		all = append(all, recs...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Name != all[j].Name {
			return all[i].Name < all[j].Name
		}
		return all[i].VersionSpec < all[j].VersionSpec
	})
	return all, nil
}

// Stats aggregates package counts and the byte size of the packages tree.
func (c *PackageCache) Stats() (Stats, error) {
	idx, err := c.LoadIndex()
	if err != nil {
		return Stats{}, err
	}
	var total int
	for _, recs := range idx.Packages {
		total += len(recs)
	}
	size, err := fsutil.DirSize(c.PackagesDir())
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		TotalPackages:  total,
		UniquePackages: len(idx.Packages),
		TotalSizeBytes: size,
	}, nil
}

// Clean wipes and recreates the packages directory and resets the index.
func (c *PackageCache) Clean() error {
	return c.withIndexLock(func() error {
		if err := os.RemoveAll(c.PackagesDir()); err != nil {
			return fmt.Errorf("CACHE_CLEAN: %w", err)
		}
		if err := os.MkdirAll(c.PackagesDir(), 0o755); err != nil {
			return fmt.Errorf("CACHE_CLEAN: %w", err)
		}
		return c.saveIndexLocked(Index{Packages: map[string][]CachedPackage{}})
	})
}

// Prune keeps only the keepVersions newest records per name (by cache
// timestamp) and deletes the rest from disk and index.
func (c *PackageCache) Prune(keepVersions int) error {
	if keepVersions < 0 {
		return fmt.Errorf("CACHE_PRUNE: keep count must be >= 0")
	}
	return c.withIndexLock(func() error {
		idx, err := c.loadIndexLocked()
		if err != nil {
			return err
		}
		for name, recs := range idx.Packages {
			if len(recs) <= keepVersions {
				continue
			}
			sort.Slice(recs, func(i, j int) bool { return recs[i].CachedAt > recs[j].CachedAt })
			for _, old := range recs[keepVersions:] {
				path := c.PackagePath(old.Name, old.VersionSpec)
				if err := os.RemoveAll(path); err != nil {
					return fmt.Errorf("CACHE_PRUNE: %s: %w", path, err)
				}
			}
			idx.Packages[name] = append([]CachedPackage(nil), recs[:keepVersions]...)
		}
		return c.saveIndexLocked(idx)
	})
}

// LoadIndex reads the whole index; a missing file is an empty index.
func (c *PackageCache) LoadIndex() (Index, error) {
	if err := c.lock.RLock(); err != nil {
		return Index{}, fmt.Errorf("CACHE_INDEX: lock: %w", err)
	}
	defer c.lock.Unlock()
	return c.loadIndexLocked()
}

// SaveIndex rewrites the whole index atomically.
func (c *PackageCache) SaveIndex(idx Index) error {
	return c.withIndexLock(func() error {
		return c.saveIndexLocked(idx)
	})
}

func (c *PackageCache) withIndexLock(fn func() error) error {
	if err := c.lock.Lock(); err != nil {
		return fmt.Errorf("CACHE_INDEX: lock: %w", err)
	}
	defer c.lock.Unlock()
	return fn()
}

func (c *PackageCache) loadIndexLocked() (Index, error) {
	path := filepath.Join(c.root, indexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Index{Packages: map[string][]CachedPackage{}}, nil
		}
		return Index{}, fmt.Errorf("CACHE_INDEX: %w", err)
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return Index{}, fmt.Errorf("CACHE_INDEX_PARSE: %w", err)
	}
	if idx.Packages == nil {
		idx.Packages = map[string][]CachedPackage{}
	}
	return idx, nil
}

func (c *PackageCache) saveIndexLocked(idx Index) error {
	blob, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("CACHE_INDEX_ENCODE: %w", err)
	}
	return fsutil.AtomicWrite(filepath.Join(c.root, indexFile), blob, 0o644)
}

// sanitizeSpec maps a version-spec string to a filesystem- and
// identifier-safe path component.
func sanitizeSpec(spec string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		":", "_",
		"@", "_",
		"^", "caret_",
		"~", "tilde_",
		">", "gt_",
		"<", "lt_",
	)
	return replacer.Replace(spec)
}
