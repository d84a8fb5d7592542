// Package gitfetch resolves git refs and clones package sources into a
// commit-addressed cache.
//
// Ref resolution uses ls-remote so no clone is needed to pin a branch or tag
// to a commit. Clones land under <cacheDir>/<hash(url)>/<commit[:12]>; a
// directory that already exists at that path is trusted without
// revalidation — content at an exact-commit path is immutable, and other
// components rely on that to skip network calls.
package gitfetch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
)

// Spec is a fully-resolved fetch request. At most one of Commit, Tag, and
// Branch is normally set; when several are, priority is commit > tag >
// branch. With none set, the remote's main branch is tried, then master.
type Spec struct {
	URL         string
	Commit      string
	Tag         string
	Branch      string
	Path        string // subdir within the repo to fetch from
	InstallPath string // subdir to install to
	File        string // single file filter
}

// ExecFunc runs a git command in dir (repo root, or "" for none) and returns
// its standard output. Implementations must surface stderr in the error.
type ExecFunc func(ctx context.Context, dir string, args ...string) ([]byte, error)

func defaultExec(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Fetcher clones and inspects remote repositories.
type Fetcher struct {
	cacheDir   string
	execGit    ExecFunc
	logger     *log.Logger
	maxRetries uint64
	retryDelay time.Duration
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithExec substitutes the git exec function, for tests.
func WithExec(fn ExecFunc) Option {
	return func(f *Fetcher) { f.execGit = fn }
}

// WithLogger sets the progress logger.
func WithLogger(l *log.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// WithRetry bounds retries around network-bound git commands.
func WithRetry(maxRetries int, baseDelay time.Duration) Option {
	return func(f *Fetcher) {
		if maxRetries >= 0 {
			f.maxRetries = uint64(maxRetries)
		}
		if baseDelay > 0 {
			f.retryDelay = baseDelay
		}
	}
}

// New creates a Fetcher caching under cacheDir.
func New(cacheDir string, opts ...Option) *Fetcher {
	f := &Fetcher{
		cacheDir:   cacheDir,
		execGit:    defaultExec,
		logger:     log.New(os.Stderr),
		maxRetries: 3,
		retryDelay: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// retryNetwork runs op with jittered exponential backoff. Only commands that
// talk to a remote go through here; local git operations fail immediately.
func (f *Fetcher) retryNetwork(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.retryDelay
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, f.maxRetries), ctx))
}

// ResolveRef resolves a fully-qualified ref to a commit hash via ls-remote.
func (f *Fetcher) ResolveRef(ctx context.Context, url, refName string) (string, error) {
	var out []byte
	err := f.retryNetwork(ctx, func() error {
		var execErr error
		out, execErr = f.execGit(ctx, "", "ls-remote", url, refName)
		return execErr
	})
	if err != nil {
		return "", fmt.Errorf("GIT_RESOLVE: ref %q in %s: %w", refName, url, err)
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", fmt.Errorf("GIT_RESOLVE: no commit found for ref %q in %s", refName, url)
	}
	return fields[0], nil
}

// ResolveBranch resolves a branch head to a commit hash.
func (f *Fetcher) ResolveBranch(ctx context.Context, url, branch string) (string, error) {
	return f.ResolveRef(ctx, url, "refs/heads/"+branch)
}

// ResolveTag resolves a tag to a commit hash.
func (f *Fetcher) ResolveTag(ctx context.Context, url, tag string) (string, error) {
	return f.ResolveRef(ctx, url, "refs/tags/"+tag)
}

// TargetCommit determines the exact commit a spec points at, in priority
// order commit > tag > branch > main-then-master.
func (f *Fetcher) TargetCommit(ctx context.Context, spec Spec) (string, error) {
	switch {
	case spec.Commit != "":
		return spec.Commit, nil
	case spec.Tag != "":
		return f.ResolveTag(ctx, spec.URL, spec.Tag)
	case spec.Branch != "":
		return f.ResolveBranch(ctx, spec.URL, spec.Branch)
	}
	commit, err := f.ResolveBranch(ctx, spec.URL, "main")
	if err != nil {
		return f.ResolveBranch(ctx, spec.URL, "master")
	}
	return commit, nil
}

// Fetch materializes the spec's source tree in the cache and returns its
// local path. An existing commit-addressed directory is a hit: no network.
func (f *Fetcher) Fetch(ctx context.Context, spec Spec) (string, error) {
	commit, err := f.TargetCommit(ctx, spec)
	if err != nil {
		return "", err
	}
	repoPath := f.repoCachePath(spec.URL, commit)
	if _, statErr := os.Stat(repoPath); statErr == nil {
		f.logger.Debug("git cache hit", "url", spec.URL, "commit", shortCommit(commit))
		return repoPath, nil
	}
	if err := f.clone(ctx, spec.URL, repoPath, commit); err != nil {
		return "", err
	}
	return repoPath, nil
}

// FetchSubdir is Fetch restricted to one subdirectory via sparse checkout.
// The returned path points at the subdirectory inside the cached clone.
func (f *Fetcher) FetchSubdir(ctx context.Context, spec Spec, subdir string) (string, error) {
	commit, err := f.TargetCommit(ctx, spec)
	if err != nil {
		return "", err
	}
	repoPath := f.repoCachePath(spec.URL, commit)
	if _, statErr := os.Stat(repoPath); statErr == nil {
		return filepath.Join(repoPath, subdir), nil
	}
	if err := f.cloneSparse(ctx, spec.URL, repoPath, commit, subdir); err != nil {
		return "", err
	}
	return filepath.Join(repoPath, subdir), nil
}

// Checkout checks out an exact commit in a cloned repo.
func (f *Fetcher) Checkout(ctx context.Context, repoPath, commit string) error {
	if _, err := f.execGit(ctx, repoPath, "checkout", commit); err != nil {
		return fmt.Errorf("GIT_CHECKOUT: %s: %w", shortCommit(commit), err)
	}
	return nil
}

// ListTags lists the remote's tag names, refs/tags/ prefix stripped and
// peeled ^{} entries dropped.
func (f *Fetcher) ListTags(ctx context.Context, url string) ([]string, error) {
	var out []byte
	err := f.retryNetwork(ctx, func() error {
		var execErr error
		out, execErr = f.execGit(ctx, "", "ls-remote", "--tags", url)
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("GIT_TAGS: %s: %w", url, err)
	}
	var tags []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		name, ok := strings.CutPrefix(fields[1], "refs/tags/")
		if !ok || strings.HasSuffix(name, "^{}") {
			continue
		}
		tags = append(tags, name)
	}
	return tags, nil
}

// CheckGitAvailable verifies the git binary is usable.
func (f *Fetcher) CheckGitAvailable(ctx context.Context) error {
	if _, err := f.execGit(ctx, "", "--version"); err != nil {
		return fmt.Errorf("GIT_MISSING: git not found or not working: %w", err)
	}
	return nil
}

func (f *Fetcher) clone(ctx context.Context, url, target, commit string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("GIT_CLONE: %w", err)
	}
	f.logger.Debug("cloning", "url", url, "commit", shortCommit(commit))
	err := f.retryNetwork(ctx, func() error {
		// A partial tree from a failed attempt would poison the
		// commit-addressed path; clear it before retrying.
		if err := os.RemoveAll(target); err != nil {
			return backoff.Permanent(err)
		}
		_, execErr := f.execGit(ctx, "", "clone", url, target)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("GIT_CLONE: %s: %w", url, err)
	}
	return f.Checkout(ctx, target, commit)
}

func (f *Fetcher) cloneSparse(ctx context.Context, url, target, commit, subdir string) error {
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("GIT_SPARSE: %w", err)
	}
	if _, err := f.execGit(ctx, target, "init"); err != nil {
		return fmt.Errorf("GIT_SPARSE: %w", err)
	}
	if _, err := f.execGit(ctx, target, "config", "core.sparseCheckout", "true"); err != nil {
		return fmt.Errorf("GIT_SPARSE: %w", err)
	}
	sparseFile := filepath.Join(target, ".git", "info", "sparse-checkout")
	if err := os.MkdirAll(filepath.Dir(sparseFile), 0o755); err != nil {
		return fmt.Errorf("GIT_SPARSE: %w", err)
	}
	if err := os.WriteFile(sparseFile, []byte(subdir+"\n"), 0o644); err != nil {
		return fmt.Errorf("GIT_SPARSE: %w", err)
	}
	if _, err := f.execGit(ctx, target, "remote", "add", "origin", url); err != nil {
		return fmt.Errorf("GIT_SPARSE: %w", err)
	}
	err := f.retryNetwork(ctx, func() error {
		_, execErr := f.execGit(ctx, target, "fetch", "--depth=1", "origin", commit)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("GIT_SPARSE: fetch %s: %w", url, err)
	}
	return f.Checkout(ctx, target, commit)
}

// repoCachePath is <cacheDir>/<hash(url)>/<commit[:12]>.
func (f *Fetcher) repoCachePath(url, commit string) string {
	return filepath.Join(f.cacheDir, hashURL(url), shortCommit(commit))
}

// hashURL maps a URL to a stable directory-safe name. Not a security
// boundary; collisions are accepted as negligible.
func hashURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:16]
}

func shortCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}
