package packager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/fluxbase-eu/ssr-builder/internal/pathmap"
)

// ErrPackagingFailed is returned when the packaging collaborator rejects its input
var ErrPackagingFailed = errors.New("packaging failed")

// PackageRequest is the input to a Packager
type PackageRequest struct {
	Files   *pathmap.Store
	Handler string
	Runtime string
}

// Packager turns a file set into an executable handler package
type Packager interface {
	CreatePackage(ctx context.Context, req PackageRequest) (*Lambda, error)
}

// epoch is stamped on every archive entry so identical inputs produce identical archives
var epoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// ZipPackager builds deterministic zip archives
type ZipPackager struct{}

// NewZipPackager creates a zip packager
func NewZipPackager() *ZipPackager {
	return &ZipPackager{}
}

// CreatePackage archives req.Files in key order
func (p *ZipPackager) CreatePackage(ctx context.Context, req PackageRequest) (*Lambda, error) {
	if req.Files == nil || req.Files.Len() == 0 {
		return nil, fmt.Errorf("%w: empty file set", ErrPackagingFailed)
	}
	if req.Handler == "" || req.Runtime == "" {
		return nil, fmt.Errorf("%w: handler and runtime are required", ErrPackagingFailed)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, name := range req.Files.Keys() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ref, _ := req.Files.Get(name)
		if err := addEntry(ctx, zw, name, ref); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrPackagingFailed, name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPackagingFailed, err)
	}

	return NewLambda(req.Handler, req.Runtime, req.Files, buf.Bytes()), nil
}

func addEntry(ctx context.Context, zw *zip.Writer, name string, ref pathmap.FileRef) error {
	header := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: epoch,
	}
	header.SetMode(ref.Mode())

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}

	rc, err := ref.Open(ctx)
	if err != nil {
		return err
	}
	defer rc.Close()

	_, err = io.Copy(w, rc)
	return err
}
