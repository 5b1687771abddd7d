package pathmap

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FromDir walks root and returns a store of every regular file beneath it,
// keyed by slash-separated path relative to root. Symlinks and other
// non-regular files are skipped.
func FromDir(ctx context.Context, root string) (*Store, error) {
	entries := make(map[string]FileRef)

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}

		ref, err := NewFsRef(p)
		if err != nil {
			return err
		}
		entries[filepath.ToSlash(rel)] = ref
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	return New(entries)
}

// WriteFile copies the content of ref to dest, creating parent directories.
// The file gets ref's mode, or 0644 when ref records none.
func WriteFile(ctx context.Context, ref FileRef, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	src, err := ref.Open(ctx)
	if err != nil {
		return err
	}
	defer src.Close()

	mode := ref.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	// OpenFile honours the umask and keeps the mode of an existing file
	return os.Chmod(dest, mode)
}
