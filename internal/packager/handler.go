package packager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fluxbase-eu/ssr-builder/internal/discover"
	"github.com/fluxbase-eu/ssr-builder/internal/pathmap"
)

// ErrPackageTooLarge is returned when a handler exceeds the size ceiling
var ErrPackageTooLarge = errors.New("package too large")

// Defaults for the handler invocation contract
const (
	DefaultHandler        = "now__launcher.launcher"
	DefaultRuntime        = "nodejs8.10"
	DefaultMaxPackageSize = int64(5 * 1024 * 1024)
	DefaultConcurrency    = 8
)

// SizeError names the route whose package exceeded the ceiling
type SizeError struct {
	Route string
	Size  int64
	Limit int64
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("handler for route %q is %d bytes, %d over the %d byte limit",
		e.Route, e.Size, e.Size-e.Limit, e.Limit)
}

// Unwrap lets errors.Is match ErrPackageTooLarge
func (e *SizeError) Unwrap() error {
	return ErrPackageTooLarge
}

// HandlerPackager builds one handler per discovered route
type HandlerPackager struct {
	packager    Packager
	bootstrap   *pathmap.Store
	handler     string
	runtime     string
	maxSize     int64
	concurrency int
}

// Option configures a HandlerPackager
type Option func(*HandlerPackager)

// WithMaxSize sets the size ceiling in bytes
func WithMaxSize(n int64) Option {
	return func(h *HandlerPackager) {
		if n > 0 {
			h.maxSize = n
		}
	}
}

// WithConcurrency bounds the number of routes packaged at once
func WithConcurrency(n int) Option {
	return func(h *HandlerPackager) {
		if n > 0 {
			h.concurrency = n
		}
	}
}

// WithInvocation overrides the handler entry and runtime identifier
func WithInvocation(handler, runtime string) Option {
	return func(h *HandlerPackager) {
		if handler != "" {
			h.handler = handler
		}
		if runtime != "" {
			h.runtime = runtime
		}
	}
}

// NewHandlerPackager creates a handler packager around a packaging collaborator
func NewHandlerPackager(p Packager, bootstrap *pathmap.Store, opts ...Option) *HandlerPackager {
	h := &HandlerPackager{
		packager:    p,
		bootstrap:   bootstrap,
		handler:     DefaultHandler,
		runtime:     DefaultRuntime,
		maxSize:     DefaultMaxPackageSize,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Assemble returns the file set packaged for a route
func (h *HandlerPackager) Assemble(route discover.Route) (*pathmap.Store, error) {
	files := h.bootstrap
	if files == nil {
		files = pathmap.Empty()
	}
	return files.With(PageFileName, route.File)
}

// CreateHandler assembles and packages a single route
func (h *HandlerPackager) CreateHandler(ctx context.Context, route discover.Route) (*Lambda, error) {
	files, err := h.Assemble(route)
	if err != nil {
		return nil, fmt.Errorf("%w: route %q: %w", ErrPackagingFailed, route.Name, err)
	}

	if size := files.TotalSize(); size > h.maxSize {
		return nil, &SizeError{Route: route.Name, Size: size, Limit: h.maxSize}
	}

	lambda, err := h.packager.CreatePackage(ctx, PackageRequest{
		Files:   files,
		Handler: h.handler,
		Runtime: h.runtime,
	})
	if err != nil {
		if errors.Is(err, ErrPackagingFailed) {
			return nil, fmt.Errorf("route %q: %w", route.Name, err)
		}
		return nil, fmt.Errorf("%w: route %q: %w", ErrPackagingFailed, route.Name, err)
	}

	log.Debug().
		Str("route", route.Name).
		Int64("size", lambda.Size()).
		Msg("Handler packaged")

	return lambda, nil
}

// PackageAll packages every route concurrently and keys each handler by
// join(entryDir, route name). The first failure cancels the rest.
func (h *HandlerPackager) PackageAll(ctx context.Context, entryDir string, routes []discover.Route) (*pathmap.Store, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)

	var mu sync.Mutex
	handlers := make(map[string]pathmap.FileRef, len(routes))

	for _, route := range routes {
		g.Go(func() error {
			lambda, err := h.CreateHandler(gctx, route)
			if err != nil {
				return err
			}

			mu.Lock()
			handlers[pathmap.Join(entryDir, route.Name)] = lambda
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return pathmap.New(handlers)
}
