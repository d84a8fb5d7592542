// Package registry maps short package names to git coordinates.
//
// Lookups consult an online TOML document first and fall back to a built-in
// table. The online document is fetched lazily, at most once per Registry
// lifetime, and a failed fetch degrades capability silently: packages in the
// built-in table keep resolving offline.
package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/pelletier/go-toml/v2"

	"hoonpm/internal/gitfetch"
)

// Entry is the git coordinates a name resolves to.
type Entry struct {
	GitURL      string
	Path        string // subdir within the repo to fetch from
	InstallPath string // subdir to install to
	File        string // single file filter
}

// Document is the online registry TOML shape: workspaces supply repo
// coordinates, packages supply paths relative to a workspace, aliases map
// alternate names to canonical ones.
type Document struct {
	Workspace map[string]Workspace `toml:"workspace"`
	Package   []Package            `toml:"package"`
	Alias     []Alias              `toml:"alias"`
}

type Workspace struct {
	GitURL      string `toml:"git_url"`
	Ref         string `toml:"ref"`
	Description string `toml:"description,omitempty"`
	RootPath    string `toml:"root_path"`
}

type Package struct {
	Name         string   `toml:"name"`
	Workspace    string   `toml:"workspace"`
	Path         string   `toml:"path"`
	File         string   `toml:"file"`
	Dependencies []string `toml:"dependencies,omitempty"`
}

type Alias struct {
	Name   string `toml:"name"`
	Target string `toml:"target"`
}

// Registry performs name lookups. Construct with New; the zero value is not
// usable. Safe for concurrent use.
type Registry struct {
	url        string
	client     *http.Client
	logger     *log.Logger
	local      map[string]Entry
	maxRetries uint64
	retryDelay time.Duration

	// Write-once online document cache, check-then-fill under mu. The lock
	// is released during the fetch, so two concurrent first-callers may both
	// fetch; both write the same value, so the race is benign.
	mu      sync.RWMutex
	doc     *Document
	settled bool
}

// Options configures a Registry.
type Options struct {
	URL        string // online document URL; empty disables the online registry
	HTTPClient *http.Client
	Logger     *log.Logger
	MaxRetries int
	RetryDelay time.Duration
}

// New creates a Registry with the built-in fallback table.
func New(opts Options) *Registry {
	r := &Registry{
		url:        opts.URL,
		client:     opts.HTTPClient,
		logger:     opts.Logger,
		local:      builtinTable(),
		maxRetries: 3,
		retryDelay: 500 * time.Millisecond,
	}
	if r.client == nil {
		r.client = &http.Client{Timeout: 30 * time.Second}
	}
	if r.logger == nil {
		r.logger = log.New(os.Stderr)
	}
	if opts.MaxRetries >= 0 {
		r.maxRetries = uint64(opts.MaxRetries)
	}
	if opts.RetryDelay > 0 {
		r.retryDelay = opts.RetryDelay
	}
	return r
}

// Lookup resolves a package name to git coordinates. The online document is
// tried first (after single-hop alias rewriting); unknown names fall back to
// the built-in table. The second return is false when the name is unknown
// everywhere.
func (r *Registry) Lookup(ctx context.Context, name string) (Entry, bool) {
	if doc := r.document(ctx); doc != nil {
		resolved := resolveAlias(doc, name)
		if pkg := findPackage(doc, resolved); pkg != nil {
			if ws, ok := doc.Workspace[pkg.Workspace]; ok {
				// Fetch path includes the workspace root; install path is
				// the package path relative to the destination tree.
				return Entry{
					GitURL:      ws.GitURL,
					Path:        ws.RootPath + "/" + pkg.Path,
					InstallPath: pkg.Path,
					File:        pkg.File,
				}, true
			}
			r.logger.Warn("registry package references unknown workspace",
				"package", resolved, "workspace", pkg.Workspace)
		}
	}
	entry, ok := r.local[name]
	return entry, ok
}

// Dependencies returns the names a package declares in the online registry.
// Unknown packages have no dependencies.
func (r *Registry) Dependencies(ctx context.Context, name string) []string {
	doc := r.document(ctx)
	if doc == nil {
		return nil
	}
	resolved := resolveAlias(doc, name)
	if pkg := findPackage(doc, resolved); pkg != nil {
		return pkg.Dependencies
	}
	return nil
}

// ToGitSpec converts an entry into a fetch request carrying the given
// version refs.
func ToGitSpec(entry Entry, tag, branch string) gitfetch.Spec {
	return gitfetch.Spec{
		URL:         entry.GitURL,
		Tag:         tag,
		Branch:      branch,
		Path:        entry.Path,
		InstallPath: entry.InstallPath,
		File:        entry.File,
	}
}

// document returns the cached online document, fetching it on first use.
// Both fetch failure and success settle the cache for the process lifetime;
// a restart is the only way to observe registry updates.
func (r *Registry) document(ctx context.Context) *Document {
	if r.url == "" {
		return nil
	}
	r.mu.RLock()
	if r.settled {
		doc := r.doc
		r.mu.RUnlock()
		return doc
	}
	r.mu.RUnlock()

	doc, err := r.fetch(ctx)
	if err != nil {
		// Registry unavailability degrades capability, it never aborts
		// resolution of packages served by the built-in table.
		r.logger.Debug("online registry unavailable, using built-in table", "err", err)
	}

	r.mu.Lock()
	if !r.settled {
		r.doc = doc
		r.settled = true
	}
	doc = r.doc
	r.mu.Unlock()
	return doc
}

func (r *Registry) fetch(ctx context.Context) (*Document, error) {
	var body []byte
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.retryDelay
	err := backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			err = fmt.Errorf("REG_FETCH: %s returned %s", r.url, resp.Status)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}
		body, err = io.ReadAll(resp.Body)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, r.maxRetries), ctx))
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := toml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("REG_PARSE: %w", err)
	}
	return &doc, nil
}

// resolveAlias rewrites a name through the alias table. Single hop only: an
// alias pointing at another alias resolves to the intermediate name.
func resolveAlias(doc *Document, name string) string {
	for _, a := range doc.Alias {
		if a.Name == name {
			return a.Target
		}
	}
	return name
}

func findPackage(doc *Document, name string) *Package {
	for i := range doc.Package {
		if doc.Package[i].Name == name {
			return &doc.Package[i]
		}
	}
	return nil
}
