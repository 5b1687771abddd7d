// Package discover finds the compiled pages and client bundle a build left in
// the work directory.
package discover

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/ssr-builder/internal/pathmap"
)

// ErrNoRoutesDiscovered is returned when a build produced no routable page
var ErrNoRoutesDiscovered = errors.New("no serverless pages were built")

// CompiledModuleExt is the extension of compiled page modules
const CompiledModuleExt = ".js"

// Default build output locations, relative to the work directory
const (
	DefaultRouteDir        = ".nuxt/dist/client/pages"
	DefaultStaticBundleDir = ".nuxt/dist/client"
)

// ReservedPages are framework shells that are never served directly
var ReservedPages = map[string]bool{
	"_app.js":      true,
	"_error.js":    true,
	"_document.js": true,
}

// Layout locates build output relative to the work directory
type Layout struct {
	RouteDir        string
	StaticBundleDir string
}

// Route is one compiled page that becomes a handler
type Route struct {
	Name string // page path without extension, e.g. "blog/post"
	Page string // page path relative to the route directory
	File pathmap.FileRef
}

// Result holds everything discovered after a build
type Result struct {
	Routes       []Route
	StaticBundle *pathmap.Store
}

// Discover scans the route and static bundle directories below workDir
func Discover(ctx context.Context, workDir string, layout Layout) (*Result, error) {
	pages, err := scan(ctx, filepath.Join(workDir, filepath.FromSlash(layout.RouteDir)))
	if err != nil {
		return nil, err
	}
	pages = pages.Filter(func(key string) bool {
		return strings.HasSuffix(key, CompiledModuleExt)
	})

	if pages.Len() == 0 {
		return nil, fmt.Errorf("%w: no %s files in %s", ErrNoRoutesDiscovered, CompiledModuleExt, layout.RouteDir)
	}

	routes := make([]Route, 0, pages.Len())
	pages.Range(func(page string, ref pathmap.FileRef) bool {
		// These pages would always 404 on their own
		if ReservedPages[page] {
			log.Debug().Str("page", page).Msg("Skipping reserved page")
			return true
		}
		routes = append(routes, Route{
			Name: strings.TrimSuffix(page, CompiledModuleExt),
			Page: page,
			File: ref,
		})
		return true
	})

	if len(routes) == 0 {
		return nil, fmt.Errorf("%w: only reserved pages found in %s", ErrNoRoutesDiscovered, layout.RouteDir)
	}

	sort.Slice(routes, func(i, j int) bool { return routes[i].Name < routes[j].Name })

	bundle, err := scan(ctx, filepath.Join(workDir, filepath.FromSlash(layout.StaticBundleDir)))
	if err != nil {
		return nil, err
	}

	log.Info().
		Int("pages", pages.Len()).
		Int("routes", len(routes)).
		Int("static_files", bundle.Len()).
		Msg("Build output discovered")

	return &Result{
		Routes:       routes,
		StaticBundle: bundle,
	}, nil
}

// scan lists dir recursively; a missing directory is empty
func scan(ctx context.Context, dir string) (*pathmap.Store, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return pathmap.Empty(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read build output: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("build output %s is not a directory", dir)
	}

	return pathmap.FromDir(ctx, dir)
}
