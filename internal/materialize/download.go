// Package materialize writes file references to local disk so that external
// tooling can operate on them.
package materialize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/ssr-builder/internal/pathmap"
)

// Downloader materializes a store into a directory
type Downloader interface {
	// Download writes every entry of files below destDir and returns a store
	// of references to the written files, keyed identically.
	Download(ctx context.Context, files *pathmap.Store, destDir string) (*pathmap.Store, error)
}

// FsDownloader writes files to the local filesystem
type FsDownloader struct{}

// NewFsDownloader creates a filesystem downloader
func NewFsDownloader() *FsDownloader {
	return &FsDownloader{}
}

// Download implements Downloader
func (d *FsDownloader) Download(ctx context.Context, files *pathmap.Store, destDir string) (*pathmap.Store, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}

	written := make(map[string]pathmap.FileRef, files.Len())
	var total int64

	for _, key := range files.Keys() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ref, _ := files.Get(key)
		dest := filepath.Join(destDir, filepath.FromSlash(key))

		// A FileRef already at its destination does not need copying
		if fsRef, ok := ref.(*pathmap.FsRef); ok && fsRef.Path == dest {
			written[key] = fsRef
			continue
		}

		if err := pathmap.WriteFile(ctx, ref, dest); err != nil {
			return nil, fmt.Errorf("failed to materialize %s: %w", key, err)
		}

		fsRef, err := pathmap.NewFsRef(dest)
		if err != nil {
			return nil, err
		}
		written[key] = fsRef
		total += fsRef.Size()
	}

	log.Debug().
		Str("dir", destDir).
		Int("files", len(written)).
		Int64("bytes", total).
		Msg("Files materialized")

	return pathmap.New(written)
}
