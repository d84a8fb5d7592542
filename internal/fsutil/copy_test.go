package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestCopyDirSkipsGit(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "out")

	writeFile(t, filepath.Join(src, "lib", "seq.hoon"), "|=(a=@ a)")
	writeFile(t, filepath.Join(src, "desk.bill"), "bill")
	writeFile(t, filepath.Join(src, ".git", "HEAD"), "ref: refs/heads/main")
	writeFile(t, filepath.Join(src, "lib", "nested", "deep.hoon"), "..")

	if err := CopyDir(src, dst); err != nil {
		t.Fatalf("CopyDir: %v", err)
	}

	for _, rel := range []string{"lib/seq.hoon", "desk.bill", "lib/nested/deep.hoon"} {
		if _, err := os.Stat(filepath.Join(dst, rel)); err != nil {
			t.Errorf("expected %s to be copied: %v", rel, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dst, ".git")); !os.IsNotExist(err) {
		t.Error(".git must not be copied")
	}
}

func TestCopyDirMissingSource(t *testing.T) {
	if err := CopyDir(filepath.Join(t.TempDir(), "absent"), t.TempDir()); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestDirSize(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.hoon"), "12345")
	writeFile(t, filepath.Join(root, "sub", "b.hoon"), "123")

	size, err := DirSize(root)
	if err != nil {
		t.Fatalf("DirSize: %v", err)
	}
	if size != 8 {
		t.Errorf("size = %d, want 8", size)
	}

	missing, err := DirSize(filepath.Join(root, "nope"))
	if err != nil || missing != 0 {
		t.Errorf("missing dir should size to 0, got %d err %v", missing, err)
	}
}
