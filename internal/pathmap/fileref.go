// Package pathmap provides the path-keyed file mapping that every build stage
// consumes and produces.
package pathmap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// FileRef is an immutable handle to file content plus its metadata.
// A FileRef may be shared by any number of stores.
type FileRef interface {
	// Open returns a reader over the file content.
	Open(ctx context.Context) (io.ReadCloser, error)

	// Size returns the content length in bytes
	Size() int64

	// Mode returns the file permission bits (0755 for executables)
	Mode() fs.FileMode
}

// FsRef references a file on local disk
type FsRef struct {
	Path string
	size int64
	mode fs.FileMode
}

// NewFsRef stats path and returns a reference to it
func NewFsRef(path string) (*FsRef, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	return &FsRef{
		Path: path,
		size: info.Size(),
		mode: info.Mode().Perm(),
	}, nil
}

// Open opens the file for reading
func (r *FsRef) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Open(r.Path)
}

// Size returns the size recorded when the reference was created
func (r *FsRef) Size() int64 {
	return r.size
}

// Mode returns the permission bits recorded when the reference was created
func (r *FsRef) Mode() fs.FileMode {
	return r.mode
}

// BlobRef holds file content in memory
type BlobRef struct {
	data []byte
	mode fs.FileMode
}

// NewBlobRef copies data into a new in-memory reference.
// A zero mode defaults to 0644.
func NewBlobRef(data []byte, mode fs.FileMode) *BlobRef {
	if mode == 0 {
		mode = 0644
	}
	return &BlobRef{
		data: append([]byte(nil), data...),
		mode: mode,
	}
}

// Open returns a reader over the blob
func (b *BlobRef) Open(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

// Size returns the blob length
func (b *BlobRef) Size() int64 {
	return int64(len(b.data))
}

// Mode returns the blob permission bits
func (b *BlobRef) Mode() fs.FileMode {
	return b.mode
}

// Bytes returns a copy of the blob content
func (b *BlobRef) Bytes() []byte {
	return append([]byte(nil), b.data...)
}

// ReadAll reads the full content of a reference
func ReadAll(ctx context.Context, ref FileRef) ([]byte, error) {
	rc, err := ref.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return io.ReadAll(rc)
}
