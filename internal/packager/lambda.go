package packager

import (
	"bytes"
	"context"
	"io"
	"io/fs"

	"github.com/fluxbase-eu/ssr-builder/internal/pathmap"
)

// Lambda is a packaged handler. It is a FileRef over the archive bytes
// so it can live in the same store as static files.
type Lambda struct {
	Handler string
	Runtime string
	Files   *pathmap.Store

	archive []byte
}

// NewLambda wraps a finished archive
func NewLambda(handler, runtime string, files *pathmap.Store, archive []byte) *Lambda {
	return &Lambda{
		Handler: handler,
		Runtime: runtime,
		Files:   files,
		archive: archive,
	}
}

// Open implements pathmap.FileRef
func (l *Lambda) Open(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.archive)), nil
}

// Size is the archive size in bytes
func (l *Lambda) Size() int64 {
	return int64(len(l.archive))
}

// Mode implements pathmap.FileRef
func (l *Lambda) Mode() fs.FileMode {
	return 0644
}

// UncompressedSize is the sum of the packaged file sizes
func (l *Lambda) UncompressedSize() int64 {
	if l.Files == nil {
		return 0
	}
	return l.Files.TotalSize()
}
