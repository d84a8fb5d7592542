package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CopyDir copies the tree rooted at src into dst, creating dst as needed.
// Entries named .git are skipped at any depth. The walk uses an explicit
// worklist so arbitrarily deep trees cannot exhaust the call stack.
func CopyDir(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("FS_COPY: source %s: %w", src, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("FS_COPY: source %s is not a directory", src)
	}

	type job struct{ src, dst string }
	work := []job{{src, dst}}

	for len(work) > 0 {
		j := work[len(work)-1]
		work = work[:len(work)-1]

		if err := os.MkdirAll(j.dst, 0o755); err != nil {
			return fmt.Errorf("FS_COPY: %w", err)
		}
		entries, err := os.ReadDir(j.src)
		if err != nil {
			return fmt.Errorf("FS_COPY: %w", err)
		}
		for _, entry := range entries {
			if entry.Name() == ".git" {
				continue
			}
			srcPath := filepath.Join(j.src, entry.Name())
			dstPath := filepath.Join(j.dst, entry.Name())
			if entry.IsDir() {
				work = append(work, job{srcPath, dstPath})
				continue
			}
			if err := copyFile(srcPath, dstPath); err != nil {
				return err
			}
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("FS_COPY: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("FS_COPY: %w", err)
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("FS_COPY: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("FS_COPY: copy %s: %w", dst, err)
	}
	return out.Close()
}

// DirSize returns the total byte size of regular files under root.
// A missing root counts as zero. Iterative for the same reason as CopyDir.
func DirSize(root string) (int64, error) {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return 0, nil
	}
	var total int64
	work := []string{root}
	for len(work) > 0 {
		dir := work[len(work)-1]
		work = work[:len(work)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			return 0, fmt.Errorf("FS_SIZE: %w", err)
		}
		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())
			if entry.IsDir() {
				work = append(work, path)
				continue
			}
			info, err := entry.Info()
			if err != nil {
				return 0, fmt.Errorf("FS_SIZE: %w", err)
			}
			total += info.Size()
		}
	}
	return total, nil
}
