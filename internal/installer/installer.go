// Package installer materializes a resolved graph inside a project tree:
// cached package sources are copied under hoon/packages/ and the declared
// files are symlinked into the project's hoon hierarchy.
package installer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"hoonpm/internal/cache"
	"hoonpm/internal/fsutil"
	"hoonpm/internal/manifest"
	"hoonpm/internal/resolver"
)

// Installer copies resolved packages out of the cache into a project.
type Installer struct {
	cache  *cache.PackageCache
	logger *log.Logger
}

// New assembles an installer over the package cache.
func New(c *cache.PackageCache, logger *log.Logger) *Installer {
	if logger == nil {
		logger = log.New(os.Stderr)
	}
	return &Installer{cache: c, logger: logger}
}

// Result summarizes an install run.
type Result struct {
	Installed int
	LockPath  string
}

// Install places every package of the graph under
// <projectDir>/hoon/packages/<name>--<version>/ in install order, links the
// package's files into the hoon hierarchy, and writes the lockfile. The
// resolver has already cached every package; a missing cache entry is logged
// and skipped rather than failing the whole run.
func (i *Installer) Install(projectDir string, graph *resolver.Graph) (Result, error) {
	hoonDir := filepath.Join(projectDir, "hoon")
	packagesDir := filepath.Join(hoonDir, "packages")
	for _, dir := range []string{packagesDir, filepath.Join(hoonDir, "lib"), filepath.Join(hoonDir, "sur")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Result{}, fmt.Errorf("INST_LAYOUT: %w", err)
		}
	}

	lockPath := filepath.Join(projectDir, manifest.LockFileName)
	locked := make([]manifest.LockedPackage, 0, len(graph.InstallOrder))
	installed := 0

	for _, name := range graph.InstallOrder {
		pkg, ok := graph.Packages[name]
		if !ok {
			return Result{}, fmt.Errorf("INST_GRAPH: package %q missing from resolved graph", name)
		}

		displayVersion, cacheVersion := versionKeys(pkg)
		cachedPath := i.cache.PackagePath(name, cacheVersion)
		if _, err := os.Stat(cachedPath); err != nil {
			i.logger.Warn("package missing from cache, skipping", "package", name, "version", cacheVersion)
			continue
		}

		installDir := filepath.Join(packagesDir, installDirName(name, displayVersion))
		if _, err := os.Stat(installDir); err == nil {
			i.logger.Debug("already installed", "package", name, "version", displayVersion)
		} else if err := fsutil.CopyDir(cachedPath, installDir); err != nil {
			return Result{}, fmt.Errorf("INST_COPY: %q: %w", name, err)
		}
		i.logger.Info("installed package", "package", name, "version", displayVersion)

		if err := i.linkPackage(hoonDir, installDir, pkg); err != nil {
			return Result{}, fmt.Errorf("INST_LINK: %q: %w", name, err)
		}

		installed++
		locked = append(locked, manifest.LockedPackage{
			Name:    name,
			Version: displayVersion,
			Source: manifest.LockSource{
				Type:   "git",
				URL:    pkg.SourceURL,
				Commit: pkg.Commit,
				Path:   pkg.SourcePath,
			},
		})
	}

	if err := manifest.SaveLockfile(lockPath, manifest.Lockfile{Package: locked}); err != nil {
		return Result{}, err
	}
	return Result{Installed: installed, LockPath: lockPath}, nil
}

// versionKeys maps a package's spec to what the user sees and where the
// cache stored it. Wildcard resolutions display as latest and are cached
// under the pinned commit.
func versionKeys(pkg *resolver.ResolvedPackage) (display, cacheKey string) {
	canonical := pkg.Spec.Canonical()
	if canonical == "*" {
		return "latest", "commit:" + pkg.Commit
	}
	return canonical, canonical
}

// installDirName builds the hoon/packages entry name. Slashes in the name
// and dots and colons in the version would not survive as a Hoon term, so
// they become hyphens.
func installDirName(name, version string) string {
	safeName := strings.ReplaceAll(name, "/", "-")
	safeVersion := strings.NewReplacer(".", "-", ":", "-").Replace(version)
	return safeName + "--" + safeVersion
}

func (i *Installer) linkPackage(hoonDir, installDir string, pkg *resolver.ResolvedPackage) error {
	switch {
	case pkg.InstallPath != "" && len(pkg.SourceFiles) > 0:
		return i.linkAtInstallPath(hoonDir, installDir, pkg.InstallPath, pkg.SourceFiles)
	case len(pkg.SourceFiles) > 0:
		return i.linkNamedFiles(hoonDir, installDir, pkg.SourceFiles)
	default:
		return i.linkConventionalDirs(hoonDir, installDir, pkg.Name)
	}
}

// linkAtInstallPath mirrors the registry's install path under hoon/ and
// links each declared file there.
func (i *Installer) linkAtInstallPath(hoonDir, installDir, installPath string, files []string) error {
	rel := strings.TrimPrefix(installPath, "hoon/")
	targetDir := filepath.Join(hoonDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return err
	}
	depth := len(strings.Split(strings.Trim(rel, "/"), "/"))
	for _, file := range files {
		source := filepath.Join(installDir, filepath.FromSlash(file))
		if _, err := os.Stat(source); err != nil {
			return fmt.Errorf("file %q not found in installed package", file)
		}
		target := strings.Repeat("../", depth) + "packages/" + filepath.Base(installDir) + "/" + file
		if err := replaceLink(filepath.Join(targetDir, filepath.Base(file)), target); err != nil {
			return err
		}
		i.logger.Debug("linked file", "file", file, "dir", rel)
	}
	return nil
}

// linkNamedFiles links each declared file by its own path prefix: a file
// like lib/lagoon.hoon lands in hoon/lib/, a bare name defaults to lib.
func (i *Installer) linkNamedFiles(hoonDir, installDir string, files []string) error {
	for _, file := range files {
		source := filepath.Join(installDir, filepath.FromSlash(file))
		if _, err := os.Stat(source); err != nil {
			return fmt.Errorf("file %q not found in installed package", file)
		}
		subdir := "lib"
		if prefix, _, found := strings.Cut(file, "/"); found {
			subdir = prefix
		}
		destDir := filepath.Join(hoonDir, subdir)
		if err := os.MkdirAll(destDir, 0o755); err != nil {
			return err
		}
		target := "../packages/" + filepath.Base(installDir) + "/" + file
		if err := replaceLink(filepath.Join(destDir, filepath.Base(filepath.FromSlash(file))), target); err != nil {
			return err
		}
		i.logger.Debug("linked file", "file", file, "dir", subdir)
	}
	return nil
}

// linkConventionalDirs links the .hoon files a desk-shaped package keeps in
// its lib and sur directories. Only direct children are linked.
func (i *Installer) linkConventionalDirs(hoonDir, installDir, name string) error {
	sources := []struct {
		dest string
		rel  string
	}{
		{"lib", "lib"},
		{"lib", "desk/lib"},
		{"lib", "src/lib"},
		{"sur", "sur"},
		{"sur", "desk/sur"},
		{"sur", "src/sur"},
	}
	found := false
	for _, src := range sources {
		sourceDir := filepath.Join(installDir, filepath.FromSlash(src.rel))
		entries, err := os.ReadDir(sourceDir)
		if err != nil {
			continue
		}
		destDir := filepath.Join(hoonDir, src.dest)
		if err := os.MkdirAll(destDir, 0o755); err != nil {
			return err
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".hoon") {
				continue
			}
			found = true
			target := "../packages/" + filepath.Base(installDir) + "/" + src.rel + "/" + entry.Name()
			if err := replaceLink(filepath.Join(destDir, entry.Name()), target); err != nil {
				return err
			}
			i.logger.Debug("linked file", "file", entry.Name(), "dir", src.dest)
		}
	}
	if !found {
		i.logger.Warn("no .hoon files found to link", "package", name)
	}
	return nil
}

// replaceLink creates a symlink, replacing any existing file or link at the
// path.
func replaceLink(linkPath, target string) error {
	if _, err := os.Lstat(linkPath); err == nil {
		if err := os.Remove(linkPath); err != nil {
			return err
		}
	}
	return os.Symlink(target, linkPath)
}
