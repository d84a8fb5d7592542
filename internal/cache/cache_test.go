package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestCache(t *testing.T) *PackageCache {
	t.Helper()
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func sourceTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return dir
}

func TestSanitizeSpec(t *testing.T) {
	cases := map[string]string{
		"k414":          "k414",
		"commit:abc123": "commit_abc123",
		"^1.2.0":        "caret_1.2.0",
		"~1.2.3":        "tilde_1.2.3",
		"@tag:v1.0":     "_tag_v1.0",
		">=2.0.0":       "gt_=2.0.0",
		"<2.0.0":        "lt_2.0.0",
	}
	for in, want := range cases {
		if got := sanitizeSpec(in); got != want {
			t.Errorf("sanitizeSpec(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeSpecNoCollisions(t *testing.T) {
	specs := []string{"k414", "commit:abc123", "^1.2.0", "~1.2.3", "@tag:v1.0"}
	seen := map[string]string{}
	for _, s := range specs {
		got := sanitizeSpec(s)
		if prev, ok := seen[got]; ok {
			t.Fatalf("specs %q and %q collide on %q", prev, s, got)
		}
		seen[got] = s
	}
}

func TestPackagePath(t *testing.T) {
	c := newTestCache(t)
	want := filepath.Join(c.Root(), "packages", "arvo", "k414")
	if got := c.PackagePath("arvo", "k414"); got != want {
		t.Fatalf("PackagePath = %q, want %q", got, want)
	}
}

func TestCachePackageAndFind(t *testing.T) {
	c := newTestCache(t)
	src := sourceTree(t, map[string]string{
		"lib/seq.hoon": "|=(a=@ a)",
		".git/HEAD":    "ref",
	})

	installed, err := c.CachePackage("seq", "^1.2.0", "abc123def456", "https://example.com/seq", src)
	if err != nil {
		t.Fatalf("CachePackage: %v", err)
	}
	if _, err := os.Stat(filepath.Join(installed, "lib", "seq.hoon")); err != nil {
		t.Fatalf("source tree not copied: %v", err)
	}
	if _, err := os.Stat(filepath.Join(installed, ".git")); !os.IsNotExist(err) {
		t.Fatal(".git must not be cached")
	}
	if !c.IsCached("seq", "^1.2.0") {
		t.Fatal("IsCached should see the new entry")
	}

	rec, err := c.FindCached("seq", "^1.2.0")
	if err != nil {
		t.Fatalf("FindCached: %v", err)
	}
	if rec == nil || rec.Commit != "abc123def456" || rec.SourceURL != "https://example.com/seq" {
		t.Fatalf("record = %+v", rec)
	}

	if rec, _ := c.FindCached("seq", "k414"); rec != nil {
		t.Fatal("different spec must not match")
	}
}

func TestFindCachedMissingDirectoryIsMiss(t *testing.T) {
	c := newTestCache(t)
	src := sourceTree(t, map[string]string{"a.hoon": "x"})
	if _, err := c.CachePackage("seq", "k414", "abc", "u", src); err != nil {
		t.Fatalf("CachePackage: %v", err)
	}
	// Simulate an index entry whose tree was removed out of band.
	if err := os.RemoveAll(c.PackagePath("seq", "k414")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	rec, err := c.FindCached("seq", "k414")
	if err != nil {
		t.Fatalf("a stale index entry must be a miss, not an error: %v", err)
	}
	if rec != nil {
		t.Fatal("stale index entry should not resolve")
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	c := newTestCache(t)
	stamps := []int64{100, 200, 300}
	specs := []string{"commit:aaa", "commit:bbb", "commit:ccc"}
	for i, spec := range specs {
		ts := stamps[i]
		c.now = func() time.Time { return time.Unix(ts, 0) }
		src := sourceTree(t, map[string]string{"f.hoon": spec})
		if _, err := c.CachePackage("seq", spec, spec[7:], "u", src); err != nil {
			t.Fatalf("CachePackage: %v", err)
		}
	}

	if err := c.Prune(1); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	idx, err := c.LoadIndex()
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	recs := idx.Packages["seq"]
	if len(recs) != 1 || recs[0].VersionSpec != "commit:ccc" {
		t.Fatalf("expected only the newest record, got %+v", recs)
	}
	if !c.IsCached("seq", "commit:ccc") {
		t.Fatal("newest tree must survive prune")
	}
	for _, gone := range []string{"commit:aaa", "commit:bbb"} {
		if c.IsCached("seq", gone) {
			t.Fatalf("%s should be pruned from disk", gone)
		}
	}
}

func TestClean(t *testing.T) {
	c := newTestCache(t)
	src := sourceTree(t, map[string]string{"f.hoon": "x"})
	if _, err := c.CachePackage("seq", "k414", "abc", "u", src); err != nil {
		t.Fatalf("CachePackage: %v", err)
	}
	if err := c.Clean(); err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if c.IsCached("seq", "k414") {
		t.Fatal("clean should remove cached trees")
	}
	idx, _ := c.LoadIndex()
	if len(idx.Packages) != 0 {
		t.Fatalf("index should be empty, got %+v", idx.Packages)
	}
	if _, err := os.Stat(c.PackagesDir()); err != nil {
		t.Fatal("packages dir should be recreated")
	}
}

func TestStats(t *testing.T) {
	c := newTestCache(t)
	src := sourceTree(t, map[string]string{"f.hoon": "12345"})
	c.CachePackage("seq", "k414", "abc", "u", src)
	c.CachePackage("seq", "commit:abc", "abc", "u", src)
	c.CachePackage("tiny", "k414", "def", "u", src)

	stats, err := c.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalPackages != 3 || stats.UniquePackages != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.TotalSizeBytes != 15 {
		t.Fatalf("size = %d, want 15", stats.TotalSizeBytes)
	}
}

func TestLoadIndexMissingFile(t *testing.T) {
	c := newTestCache(t)
	idx, err := c.LoadIndex()
	if err != nil {
		t.Fatalf("LoadIndex on fresh cache: %v", err)
	}
	if len(idx.Packages) != 0 {
		t.Fatalf("fresh index should be empty, got %+v", idx)
	}
}
