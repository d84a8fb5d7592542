// Package app wires the configuration, cache, fetcher, registry, resolver,
// and installer into the service the CLI drives.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/log"

	"hoonpm/internal/cache"
	"hoonpm/internal/config"
	"hoonpm/internal/doctor"
	"hoonpm/internal/gitfetch"
	"hoonpm/internal/installer"
	"hoonpm/internal/manifest"
	"hoonpm/internal/registry"
	"hoonpm/internal/resolver"
	"hoonpm/internal/version"
)

type Options struct {
	ConfigPath string
	HTTPClient *http.Client
	Verbose    bool

	// Exec overrides the git runner, for tests.
	Exec gitfetch.ExecFunc
}

type Service struct {
	ConfigPath string
	Config     config.Config
	Logger     *log.Logger

	Cache     *cache.PackageCache
	Fetcher   *gitfetch.Fetcher
	Registry  *registry.Registry
	Resolver  *resolver.Resolver
	Installer *installer.Installer
}

func New(opts Options) (*Service, error) {
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	cfg, err := config.Ensure(configPath)
	if err != nil {
		return nil, err
	}

	logger := log.New(os.Stderr)
	if level, parseErr := log.ParseLevel(cfg.Logging.Level); parseErr == nil {
		logger.SetLevel(level)
	}
	if opts.Verbose {
		logger.SetLevel(log.DebugLevel)
	}

	storageRoot, err := config.ResolveStorageRoot(cfg)
	if err != nil {
		return nil, err
	}
	packageCache, err := cache.New(config.CacheRoot(storageRoot))
	if err != nil {
		return nil, err
	}

	retryDelay := cfg.Network.RetryDelayDuration()
	fetcherOpts := []gitfetch.Option{
		gitfetch.WithLogger(logger),
		gitfetch.WithRetry(cfg.Network.MaxRetries, retryDelay),
	}
	if opts.Exec != nil {
		fetcherOpts = append(fetcherOpts, gitfetch.WithExec(opts.Exec))
	}
	fetcher := gitfetch.New(packageCache.GitDir(), fetcherOpts...)

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Network.HTTPTimeoutDuration()}
	}
	reg := registry.New(registry.Options{
		URL:        cfg.Registry.URL,
		HTTPClient: httpClient,
		Logger:     logger,
		MaxRetries: cfg.Network.MaxRetries,
		RetryDelay: retryDelay,
	})

	return &Service{
		ConfigPath: configPath,
		Config:     cfg,
		Logger:     logger,
		Cache:      packageCache,
		Fetcher:    fetcher,
		Registry:   reg,
		Resolver:   resolver.New(packageCache, fetcher, reg, logger),
		Installer:  installer.New(packageCache, logger),
	}, nil
}

// loadManifest reads the project manifest, failing when none exists.
func loadManifest(projectDir string) (manifest.Manifest, string, error) {
	path := filepath.Join(projectDir, manifest.FileName)
	m, err := manifest.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return manifest.Manifest{}, "", fmt.Errorf("APP_MANIFEST: no %s found in %s", manifest.FileName, projectDir)
		}
		return manifest.Manifest{}, "", err
	}
	return m, path, nil
}

// Install resolves the project's dependency graph and installs it.
func (s *Service) Install(ctx context.Context, projectDir string) (installer.Result, error) {
	m, _, err := loadManifest(projectDir)
	if err != nil {
		return installer.Result{}, err
	}
	if err := s.Fetcher.CheckGitAvailable(ctx); err != nil && len(m.Dependencies) > 0 {
		return installer.Result{}, err
	}
	s.Logger.Info("installing dependencies", "package", m.Package.Name)
	graph, err := s.Resolver.Resolve(ctx, &m)
	if err != nil {
		return installer.Result{}, err
	}
	return s.Installer.Install(projectDir, graph)
}

// Add records a dependency in the manifest. The ref is name@spec; a bare
// name is rejected so the pin is always explicit.
func (s *Service) Add(projectDir, ref string) (string, error) {
	name, spec, err := version.ParsePackageSpec(ref)
	if err != nil {
		return "", err
	}
	m, path, err := loadManifest(projectDir)
	if err != nil {
		return "", err
	}
	if m.Dependencies == nil {
		m.Dependencies = map[string]manifest.Dependency{}
	}
	if _, exists := m.Dependencies[name]; exists {
		return "", fmt.Errorf("APP_ADD: package %q already in dependencies, remove it first to change the version", name)
	}
	m.Dependencies[name] = manifest.Dependency{Version: spec.Canonical()}
	if err := manifest.Save(path, m); err != nil {
		return "", err
	}
	s.Logger.Info("added dependency", "package", name, "spec", spec.Canonical())
	return name, nil
}

// Remove deletes a dependency from the manifest and cleans up its installed
// trees and the symlinks pointing into them.
func (s *Service) Remove(projectDir, name string) error {
	m, path, err := loadManifest(projectDir)
	if err != nil {
		return err
	}
	if _, exists := m.Dependencies[name]; !exists {
		return fmt.Errorf("APP_REMOVE: package %q not found in dependencies", name)
	}
	delete(m.Dependencies, name)
	if err := manifest.Save(path, m); err != nil {
		return err
	}

	hoonDir := filepath.Join(projectDir, "hoon")
	prefix := strings.ReplaceAll(name, "/", "-") + "--"
	packagesDir := filepath.Join(hoonDir, "packages")
	entries, _ := os.ReadDir(packagesDir)
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(packagesDir, entry.Name())); err != nil {
			return fmt.Errorf("APP_REMOVE: %w", err)
		}
		s.Logger.Info("removed installed tree", "dir", entry.Name())
	}
	if err := removeLinksInto(hoonDir, prefix); err != nil {
		return err
	}
	s.Logger.Info("removed dependency", "package", name)
	return nil
}

// removeLinksInto deletes symlinks anywhere under hoonDir whose target
// points into a packages/<prefix>* tree. The packages dir itself is skipped.
func removeLinksInto(hoonDir, prefix string) error {
	marker := "packages/" + prefix
	work := []string{hoonDir}
	for len(work) > 0 {
		dir := work[len(work)-1]
		work = work[:len(work)-1]
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())
			if entry.IsDir() {
				if dir == hoonDir && entry.Name() == "packages" {
					continue
				}
				work = append(work, path)
				continue
			}
			if entry.Type()&os.ModeSymlink == 0 {
				continue
			}
			target, err := os.Readlink(path)
			if err != nil {
				continue
			}
			if strings.Contains(target, marker) {
				if err := os.Remove(path); err != nil {
					return fmt.Errorf("APP_REMOVE: %w", err)
				}
			}
		}
	}
	return nil
}

// DependencyStatus pairs a manifest declaration with its locked state.
type DependencyStatus struct {
	Name      string `json:"name"`
	Spec      string `json:"spec"`
	Installed bool   `json:"installed"`
	Version   string `json:"version,omitempty"`
}

// List reports each declared dependency and whether the lockfile has it.
func (s *Service) List(projectDir string) ([]DependencyStatus, error) {
	m, _, err := loadManifest(projectDir)
	if err != nil {
		return nil, err
	}
	lock, err := manifest.LoadLockfile(filepath.Join(projectDir, manifest.LockFileName))
	if err != nil {
		return nil, err
	}
	locked := make(map[string]string, len(lock.Package))
	for _, pkg := range lock.Package {
		locked[pkg.Name] = pkg.Version
	}

	out := make([]DependencyStatus, 0, len(m.Dependencies))
	for name, dep := range m.Dependencies {
		spec, specErr := dep.Spec()
		display := "?"
		if specErr == nil {
			display = spec.Canonical()
		}
		installedVersion, ok := locked[name]
		out = append(out, DependencyStatus{
			Name:      name,
			Spec:      display,
			Installed: ok,
			Version:   installedVersion,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Init scaffolds a new library package: a manifest and a src/lib.hoon stub.
// With a name, a fresh directory is created under dir; without one, dir
// itself becomes the package.
func (s *Service) Init(dir, name string) (string, error) {
	projectDir := dir
	if name != "" {
		projectDir = filepath.Join(dir, name)
		if err := os.MkdirAll(projectDir, 0o755); err != nil {
			return "", fmt.Errorf("APP_INIT: %w", err)
		}
	} else {
		name = filepath.Base(dir)
	}

	path := filepath.Join(projectDir, manifest.FileName)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("APP_INIT: %s already exists in %s", manifest.FileName, projectDir)
	}
	m := manifest.Manifest{
		Package:      manifest.PackageMeta{Name: name},
		Dependencies: map[string]manifest.Dependency{},
	}
	if err := manifest.Save(path, m); err != nil {
		return "", err
	}

	srcDir := filepath.Join(projectDir, "src")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		return "", fmt.Errorf("APP_INIT: %w", err)
	}
	stub := filepath.Join(srcDir, "lib.hoon")
	if err := os.WriteFile(stub, []byte("|=  *@  ^-(^  +<-)\n"), 0o644); err != nil {
		return "", fmt.Errorf("APP_INIT: %w", err)
	}
	s.Logger.Info("created library package", "name", name, "dir", projectDir)
	return projectDir, nil
}

// Tags lists a remote repository's tags.
func (s *Service) Tags(ctx context.Context, url string) ([]string, error) {
	tags, err := s.Fetcher.ListTags(ctx, url)
	if err != nil {
		return nil, err
	}
	sort.Strings(tags)
	return tags, nil
}

// RegistryLookup resolves a package name to its git coordinates.
func (s *Service) RegistryLookup(ctx context.Context, name string) (registry.Entry, bool) {
	return s.Registry.Lookup(ctx, name)
}

// RegistryDeps returns the dependencies the registry declares for a name.
func (s *Service) RegistryDeps(ctx context.Context, name string) []string {
	return s.Registry.Dependencies(ctx, name)
}

// Doctor checks the environment: config document, git binary, cache.
func (s *Service) Doctor(ctx context.Context) doctor.Report {
	return (&doctor.Service{
		ConfigPath: s.ConfigPath,
		Fetcher:    s.Fetcher,
		Cache:      s.Cache,
	}).Run(ctx)
}

// CacheStats summarizes the package cache.
func (s *Service) CacheStats() (cache.Stats, error) { return s.Cache.Stats() }

// CacheList enumerates cached package versions.
func (s *Service) CacheList() ([]cache.CachedPackage, error) { return s.Cache.ListCached() }

// CacheClean wipes the cache.
func (s *Service) CacheClean() error { return s.Cache.Clean() }

// CachePrune drops all but the newest versions of each cached package.
func (s *Service) CachePrune(keepVersions int) error { return s.Cache.Prune(keepVersions) }
