package discover

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLayout = Layout{
	RouteDir:        ".nuxt/dist/client/pages",
	StaticBundleDir: ".nuxt/dist/client",
}

func writeFiles(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		p := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte("// "+f), 0644))
	}
}

func routeNames(routes []Route) []string {
	names := make([]string, len(routes))
	for i, r := range routes {
		names[i] = r.Name
	}
	return names
}

func TestDiscover(t *testing.T) {
	workDir := t.TempDir()
	writeFiles(t, workDir,
		".nuxt/dist/client/pages/index.js",
		".nuxt/dist/client/pages/about.js",
		".nuxt/dist/client/pages/blog/post.js",
		".nuxt/dist/client/pages/_app.js",
		".nuxt/dist/client/pages/_error.js",
		".nuxt/dist/client/pages/styles.css",
		".nuxt/dist/client/app.3f2a.js",
		".nuxt/dist/client/img/logo.png",
	)

	result, err := Discover(context.Background(), workDir, testLayout)
	require.NoError(t, err)

	assert.Equal(t, []string{"about", "blog/post", "index"}, routeNames(result.Routes))
	assert.Equal(t, "blog/post.js", result.Routes[1].Page)

	assert.True(t, result.StaticBundle.Has("app.3f2a.js"))
	assert.True(t, result.StaticBundle.Has("img/logo.png"))
	assert.True(t, result.StaticBundle.Has("pages/styles.css"))
	assert.Equal(t, 8, result.StaticBundle.Len())
}

func TestDiscover_RoutableCount(t *testing.T) {
	tests := []struct {
		name      string
		pages     []string
		wantCount int
		wantErr   bool
	}{
		{name: "no pages", pages: nil, wantErr: true},
		{name: "only non-js files", pages: []string{"a.css", "b.map.json"}, wantErr: true},
		{name: "only reserved pages", pages: []string{"_app.js", "_error.js", "_document.js"}, wantErr: true},
		{name: "one reserved one routable", pages: []string{"_app.js", "home.js"}, wantCount: 1},
		{name: "nested reserved names are routable", pages: []string{"admin/_app.js"}, wantCount: 1},
		{name: "n minus k", pages: []string{"a.js", "b.js", "c.js", "_document.js"}, wantCount: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			workDir := t.TempDir()
			for _, p := range tt.pages {
				writeFiles(t, workDir, ".nuxt/dist/client/pages/"+p)
			}

			result, err := Discover(context.Background(), workDir, testLayout)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrNoRoutesDiscovered))
				return
			}
			require.NoError(t, err)
			assert.Len(t, result.Routes, tt.wantCount)
		})
	}
}

func TestDiscover_MissingStaticBundle(t *testing.T) {
	workDir := t.TempDir()
	writeFiles(t, workDir, "out/pages/index.js")

	result, err := Discover(context.Background(), workDir, Layout{RouteDir: "out/pages", StaticBundleDir: "out/client"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.StaticBundle.Len())
	assert.Len(t, result.Routes, 1)
}
