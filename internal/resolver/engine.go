package resolver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/mod/semver"

	"hoonpm/internal/cache"
	"hoonpm/internal/gitfetch"
	"hoonpm/internal/manifest"
	"hoonpm/internal/registry"
	"hoonpm/internal/version"
)

// Resolver turns a manifest's dependency declarations into a Graph of
// packages pinned to exact commits, consulting the package cache before the
// network and discovering transitive dependencies along the way.
type Resolver struct {
	cache    *cache.PackageCache
	fetcher  *gitfetch.Fetcher
	registry *registry.Registry
	logger   *log.Logger
}

// New assembles a resolver over the given cache, fetcher, and registry.
func New(c *cache.PackageCache, f *gitfetch.Fetcher, r *registry.Registry, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.New(os.Stderr)
	}
	return &Resolver{cache: c, fetcher: f, registry: r, logger: logger}
}

type workItem struct {
	name string
	dep  manifest.Dependency
}

// Resolve walks the dependency closure of the manifest. The first spec
// encountered for a name wins; later conflicting specs are skipped with a
// warning. Transitive dependencies named by the registry or by a nested
// hoon.toml are resolved at their latest version unless already pinned.
func (r *Resolver) Resolve(ctx context.Context, m *manifest.Manifest) (*Graph, error) {
	graph := NewGraph()
	if len(m.Dependencies) == 0 {
		return graph, nil
	}

	seeds := make([]string, 0, len(m.Dependencies))
	for name := range m.Dependencies {
		seeds = append(seeds, name)
	}
	sort.Strings(seeds)

	queue := make([]workItem, 0, len(seeds))
	for _, name := range seeds {
		queue = append(queue, workItem{name: name, dep: m.Dependencies[name]})
	}

	chosen := map[string]string{}
	for len(queue) > 0 {
		item := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		spec, err := item.dep.Spec()
		if err != nil {
			return nil, fmt.Errorf("RES_DEP: dependency %q: %w", item.name, err)
		}
		if prior, visited := chosen[item.name]; visited {
			if prior != spec.Canonical() {
				r.logger.Warn("conflicting version spec ignored, first one wins",
					"package", item.name, "kept", prior, "ignored", spec.Canonical())
			}
			continue
		}
		chosen[item.name] = spec.Canonical()

		r.logger.Info("resolving package", "package", item.name, "spec", spec.Canonical())
		pkg, err := r.fromCache(ctx, item.name, item.dep, spec)
		if err != nil {
			return nil, fmt.Errorf("RES_DEP: dependency %q: %w", item.name, err)
		}
		if pkg == nil {
			pkg, err = r.resolveFresh(ctx, item.name, item.dep, spec)
			if err != nil {
				return nil, fmt.Errorf("RES_DEP: dependency %q: %w", item.name, err)
			}
		}
		graph.Add(pkg)

		for _, next := range r.transitives(ctx, pkg) {
			if _, visited := chosen[next.name]; !visited {
				queue = append(queue, next)
			}
		}
	}

	if err := graph.ComputeInstallOrder(); err != nil {
		return nil, err
	}
	return graph, nil
}

// transitives collects the package's onward dependencies from its nested
// manifest and the registry, deduplicated, nested manifest declarations
// taking precedence over the registry's bare names.
func (r *Resolver) transitives(ctx context.Context, pkg *ResolvedPackage) []workItem {
	items := make([]workItem, 0, len(pkg.Dependencies))
	seen := map[string]bool{}
	names := make([]string, 0, len(pkg.Dependencies))
	for name := range pkg.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		seen[name] = true
		items = append(items, workItem{name: name, dep: pkg.Dependencies[name]})
	}
	for _, name := range r.registry.Dependencies(ctx, pkg.Name) {
		if seen[name] {
			continue
		}
		seen[name] = true
		items = append(items, workItem{name: name, dep: manifest.Dependency{Version: "latest"}})
	}
	return items
}

// fromCache reconstructs a resolved package from a cache record without
// touching the network. A wildcard spec is cached under a commit pseudo-key
// and so always misses here. Returns nil when the cache has no usable entry.
func (r *Resolver) fromCache(ctx context.Context, name string, dep manifest.Dependency, spec version.Spec) (*ResolvedPackage, error) {
	rec, err := r.cache.FindCached(name, spec.Canonical())
	if err != nil || rec == nil {
		return nil, err
	}
	sourcePath, installPath, file, err := r.coordinates(ctx, name, dep)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("package cache hit", "package", name, "spec", spec.Canonical())
	return &ResolvedPackage{
		Name:         name,
		Spec:         spec,
		Commit:       rec.Commit,
		SourceURL:    rec.SourceURL,
		SourcePath:   sourcePath,
		InstallPath:  installPath,
		SourceFiles:  sourceFiles(dep.Files, file),
		Dependencies: map[string]manifest.Dependency{},
	}, nil
}

// resolveFresh fetches the package sources, pins the exact commit, validates
// any requested files, discovers a nested manifest, and stores the tree in
// the package cache.
func (r *Resolver) resolveFresh(ctx context.Context, name string, dep manifest.Dependency, spec version.Spec) (*ResolvedPackage, error) {
	gitSpec, err := r.gitSpecFor(ctx, name, dep, spec)
	if err != nil {
		return nil, err
	}
	commit, err := r.fetcher.TargetCommit(ctx, gitSpec)
	if err != nil {
		return nil, err
	}
	gitSpec.Commit = commit

	repoPath, err := r.fetcher.Fetch(ctx, gitSpec)
	if err != nil {
		return nil, err
	}
	sourceDir := repoPath
	if gitSpec.Path != "" {
		sourceDir = filepath.Join(repoPath, filepath.FromSlash(gitSpec.Path))
	}
	if _, err := os.Stat(sourceDir); err != nil {
		return nil, fmt.Errorf("RES_PATH: source path %q not found in %s", gitSpec.Path, gitSpec.URL)
	}

	files := sourceFiles(dep.Files, gitSpec.File)
	for _, f := range files {
		if _, err := os.Stat(filepath.Join(sourceDir, filepath.FromSlash(f))); err != nil {
			return nil, fmt.Errorf("RES_FILE: requested file %q not found in package %q", f, name)
		}
	}

	deps := map[string]manifest.Dependency{}
	nested, err := manifest.LoadIfExists(filepath.Join(sourceDir, manifest.FileName))
	if err != nil {
		return nil, err
	}
	if nested != nil {
		deps = nested.Dependencies
	}

	cacheKey := spec.Canonical()
	if spec.IsWildcard() {
		cacheKey = "commit:" + commit
	}
	if _, err := r.cache.CachePackage(name, cacheKey, commit, gitSpec.URL, sourceDir); err != nil {
		return nil, err
	}

	return &ResolvedPackage{
		Name:         name,
		Spec:         spec,
		Commit:       commit,
		SourceURL:    gitSpec.URL,
		SourcePath:   gitSpec.Path,
		InstallPath:  gitSpec.InstallPath,
		SourceFiles:  files,
		Dependencies: deps,
	}, nil
}

// gitSpecFor maps a dependency declaration to fetch coordinates. Explicit
// git declarations pass through; registry names pick up the entry's repo and
// paths, with the version spec deciding which ref to pin.
func (r *Resolver) gitSpecFor(ctx context.Context, name string, dep manifest.Dependency, spec version.Spec) (gitfetch.Spec, error) {
	if dep.HasGit() {
		return gitfetch.Spec{
			URL:    dep.Git,
			Commit: dep.Commit,
			Tag:    dep.Tag,
			Branch: dep.Branch,
			Path:   dep.Path,
		}, nil
	}

	entry, ok := r.registry.Lookup(ctx, name)
	if !ok {
		return gitfetch.Spec{}, fmt.Errorf("RES_LOOKUP: package %q not found in registry; declare explicit git coordinates", name)
	}

	var tag, branch string
	switch spec.Kind() {
	case version.KindKelvin:
		tag = fmt.Sprintf("%dk", spec.KelvinValue())
	case version.KindTag:
		tag = spec.Value()
	case version.KindBranch:
		branch = spec.Value()
	case version.KindSemver:
		if !spec.IsWildcard() {
			picked, err := r.latestMatchingTag(ctx, entry.GitURL, spec)
			if err != nil {
				return gitfetch.Spec{}, err
			}
			tag = picked
		}
	}

	gitSpec := registry.ToGitSpec(entry, tag, branch)
	if spec.Kind() == version.KindCommit {
		gitSpec.Commit = spec.Value()
	}
	return gitSpec, nil
}

// latestMatchingTag lists the remote's tags and picks the highest one
// satisfying the range.
func (r *Resolver) latestMatchingTag(ctx context.Context, url string, spec version.Spec) (string, error) {
	tags, err := r.fetcher.ListTags(ctx, url)
	if err != nil {
		return "", err
	}
	best := ""
	for _, tag := range tags {
		if !spec.Matches(tag) {
			continue
		}
		if best == "" || semver.Compare(canonicalTag(tag), canonicalTag(best)) > 0 {
			best = tag
		}
	}
	if best == "" {
		return "", fmt.Errorf("RES_SEMVER: no tag of %s satisfies %s", url, spec.Canonical())
	}
	return best, nil
}

func canonicalTag(tag string) string {
	return "v" + strings.TrimPrefix(tag, "v")
}

// coordinates returns the fetch and install paths for a dependency without
// resolving any ref, for use on the cache-hit path.
func (r *Resolver) coordinates(ctx context.Context, name string, dep manifest.Dependency) (sourcePath, installPath, file string, err error) {
	if dep.HasGit() {
		return dep.Path, "", "", nil
	}
	entry, ok := r.registry.Lookup(ctx, name)
	if !ok {
		return "", "", "", fmt.Errorf("RES_LOOKUP: package %q not found in registry; declare explicit git coordinates", name)
	}
	return entry.Path, entry.InstallPath, entry.File, nil
}

// sourceFiles applies the .hoon suffix to requested file names, falling back
// to the registry's single file filter when the manifest names none.
func sourceFiles(requested []string, registryFile string) []string {
	if len(requested) == 0 {
		if registryFile != "" {
			return []string{registryFile}
		}
		return nil
	}
	files := make([]string, 0, len(requested))
	for _, f := range requested {
		if !strings.HasSuffix(f, ".hoon") {
			f += ".hoon"
		}
		files = append(files, f)
	}
	return files
}
