package packager

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/ssr-builder/internal/discover"
	"github.com/fluxbase-eu/ssr-builder/internal/pathmap"
)

// recordingPackager captures requests and tracks peak concurrency
type recordingPackager struct {
	mu      sync.Mutex
	requests   []PackageRequest
	active  int32
	peak    int32
	delay   time.Duration
	failFor string
}

func (r *recordingPackager) CreatePackage(ctx context.Context, req PackageRequest) (*Lambda, error) {
	n := atomic.AddInt32(&r.active, 1)
	defer atomic.AddInt32(&r.active, -1)
	for {
		p := atomic.LoadInt32(&r.peak)
		if n <= p || atomic.CompareAndSwapInt32(&r.peak, p, n) {
			break
		}
	}

	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()

	if r.failFor != "" {
		page, _ := req.Files.Get(PageFileName)
		data, _ := pathmap.ReadAll(ctx, page)
		if string(data) == r.failFor {
			return nil, errors.New("platform rejected package")
		}
	}

	return NewLambda(req.Handler, req.Runtime, req.Files, []byte("zip")), nil
}

func sizedBootstrap() *pathmap.Store {
	return pathmap.MustNew(map[string]pathmap.FileRef{
		BridgeFileName:   pathmap.NewBlobRef(bytes.Repeat([]byte("b"), 10), 0644),
		LauncherFileName: pathmap.NewBlobRef(bytes.Repeat([]byte("l"), 10), 0644),
	})
}

func route(name, content string) discover.Route {
	return discover.Route{
		Name: name,
		Page: name + ".js",
		File: pathmap.NewBlobRef([]byte(content), 0644),
	}
}

func TestBootstrap(t *testing.T) {
	files, err := Bootstrap()
	require.NoError(t, err)

	assert.Equal(t, []string{BridgeFileName, LauncherFileName}, files.Keys())

	ref, _ := files.Get(LauncherFileName)
	data, err := pathmap.ReadAll(context.Background(), ref)
	require.NoError(t, err)
	assert.Contains(t, string(data), "require('./now__bridge.js')")
	assert.Contains(t, string(data), "exports.launcher")
}

func TestCreateHandler_AssemblesFileSet(t *testing.T) {
	rec := &recordingPackager{}
	h := NewHandlerPackager(rec, sizedBootstrap())

	lambda, err := h.CreateHandler(context.Background(), route("blog/post", "module.exports = {}"))
	require.NoError(t, err)

	require.Len(t, rec.requests, 1)
	req := rec.requests[0]
	assert.Equal(t, DefaultHandler, req.Handler)
	assert.Equal(t, DefaultRuntime, req.Runtime)
	assert.Equal(t, []string{BridgeFileName, LauncherFileName, PageFileName}, req.Files.Keys())

	page, _ := req.Files.Get(PageFileName)
	data, err := pathmap.ReadAll(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, "module.exports = {}", string(data))

	assert.Equal(t, DefaultHandler, lambda.Handler)
	assert.Equal(t, int64(20+len("module.exports = {}")), lambda.UncompressedSize())
}

func TestCreateHandler_SizeCeiling(t *testing.T) {
	tests := []struct {
		name    string
		limit   int64
		wantErr bool
	}{
		{name: "under limit", limit: 101},
		{name: "exactly at limit", limit: 100},
		{name: "one byte over", limit: 99, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingPackager{}
			h := NewHandlerPackager(rec, sizedBootstrap(), WithMaxSize(tt.limit))

			// 10 + 10 + 80 = 100 bytes assembled
			_, err := h.CreateHandler(context.Background(), route("index", strings.Repeat("x", 80)))
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrPackageTooLarge))

			var sizeErr *SizeError
			require.True(t, errors.As(err, &sizeErr))
			assert.Equal(t, "index", sizeErr.Route)
			assert.Equal(t, int64(100), sizeErr.Size)
			assert.Contains(t, err.Error(), `"index"`)
			assert.Empty(t, rec.requests, "oversized file sets never reach the packager")
		})
	}
}

func TestCreateHandler_PackagerFailure(t *testing.T) {
	rec := &recordingPackager{failFor: "bad"}
	h := NewHandlerPackager(rec, sizedBootstrap())

	_, err := h.CreateHandler(context.Background(), route("broken", "bad"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPackagingFailed))
	assert.Contains(t, err.Error(), "broken")
}

func TestPackageAll(t *testing.T) {
	rec := &recordingPackager{}
	h := NewHandlerPackager(rec, sizedBootstrap(), WithInvocation("launcher.handler", "nodejs20.x"))

	out, err := h.PackageAll(context.Background(), "api/pages", []discover.Route{
		route("home", "a"),
		route("blog/post", "b"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"api/pages/blog/post", "api/pages/home"}, out.Keys())

	ref, _ := out.Get("api/pages/home")
	lambda, ok := ref.(*Lambda)
	require.True(t, ok)
	assert.Equal(t, "launcher.handler", lambda.Handler)
	assert.Equal(t, "nodejs20.x", lambda.Runtime)
}

func TestPackageAll_RootEntryDirectory(t *testing.T) {
	h := NewHandlerPackager(&recordingPackager{}, sizedBootstrap())

	out, err := h.PackageAll(context.Background(), ".", []discover.Route{route("index", "a")})
	require.NoError(t, err)
	assert.Equal(t, []string{"index"}, out.Keys())
}

func TestPackageAll_BoundedConcurrency(t *testing.T) {
	rec := &recordingPackager{delay: 10 * time.Millisecond}
	h := NewHandlerPackager(rec, sizedBootstrap(), WithConcurrency(2))

	var routes []discover.Route
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		routes = append(routes, route(name, name))
	}

	out, err := h.PackageAll(context.Background(), ".", routes)
	require.NoError(t, err)
	assert.Equal(t, 6, out.Len())
	assert.LessOrEqual(t, atomic.LoadInt32(&rec.peak), int32(2))
}

func TestPackageAll_FailureAbortsBuild(t *testing.T) {
	h := NewHandlerPackager(&recordingPackager{}, sizedBootstrap(), WithMaxSize(25))

	out, err := h.PackageAll(context.Background(), ".", []discover.Route{
		route("small", "x"),
		route("huge", strings.Repeat("x", 100)),
	})
	require.Error(t, err)
	assert.Nil(t, out)
	assert.True(t, errors.Is(err, ErrPackageTooLarge))
	assert.Contains(t, err.Error(), "huge")
}

func TestZipPackager(t *testing.T) {
	ctx := context.Background()
	files := pathmap.MustNew(map[string]pathmap.FileRef{
		PageFileName:     pathmap.NewBlobRef([]byte("page"), 0644),
		LauncherFileName: pathmap.NewBlobRef([]byte("launcher"), 0755),
	})

	p := NewZipPackager()
	lambda, err := p.CreatePackage(ctx, PackageRequest{Files: files, Handler: DefaultHandler, Runtime: DefaultRuntime})
	require.NoError(t, err)

	rc, err := lambda.Open(ctx)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, lambda.Size(), int64(len(data)))

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, LauncherFileName, zr.File[0].Name)
	assert.Equal(t, PageFileName, zr.File[1].Name)
	assert.Equal(t, "-rwxr-xr-x", zr.File[0].Mode().String())

	f, err := zr.File[1].Open()
	require.NoError(t, err)
	content, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "page", string(content))

	again, err := p.CreatePackage(ctx, PackageRequest{Files: files, Handler: DefaultHandler, Runtime: DefaultRuntime})
	require.NoError(t, err)
	rc2, _ := again.Open(ctx)
	data2, _ := io.ReadAll(rc2)
	assert.Equal(t, data, data2, "archives are deterministic")
}

func TestZipPackager_RejectsMalformedInput(t *testing.T) {
	p := NewZipPackager()

	_, err := p.CreatePackage(context.Background(), PackageRequest{Files: pathmap.Empty(), Handler: "h", Runtime: "r"})
	assert.True(t, errors.Is(err, ErrPackagingFailed))

	files := pathmap.MustNew(map[string]pathmap.FileRef{"a": pathmap.NewBlobRef([]byte("a"), 0)})
	_, err = p.CreatePackage(context.Background(), PackageRequest{Files: files})
	assert.True(t, errors.Is(err, ErrPackagingFailed))
}
