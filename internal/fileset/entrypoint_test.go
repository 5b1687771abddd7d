package fileset

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/ssr-builder/internal/pathmap"
)

func fixture(keys ...string) *pathmap.Store {
	entries := make(map[string]pathmap.FileRef, len(keys))
	for _, key := range keys {
		entries[key] = pathmap.NewBlobRef([]byte(key), 0)
	}
	return pathmap.MustNew(entries)
}

func TestResolver_Resolve(t *testing.T) {
	files := fixture(
		"package.json",
		"web/package.json",
		"web/nuxt.config.js",
		"api/pages/home.manifest",
		"README.md",
	)

	tests := []struct {
		name       string
		patterns   []string
		entrypoint string
		wantPath   string
		wantDir    string
		wantErr    bool
	}{
		{name: "root manifest", entrypoint: "package.json", wantPath: "package.json", wantDir: "."},
		{name: "nested manifest", entrypoint: "web/package.json", wantPath: "web/package.json", wantDir: "web"},
		{name: "nuxt config", entrypoint: "web/nuxt.config.js", wantPath: "web/nuxt.config.js", wantDir: "web"},
		{name: "windows separators", entrypoint: "web\\package.json", wantPath: "web/package.json", wantDir: "web"},
		{name: "custom pattern", patterns: []string{"*.manifest"}, entrypoint: "api/pages/home.manifest", wantPath: "api/pages/home.manifest", wantDir: "api/pages"},
		{name: "wrong file name", entrypoint: "README.md", wantErr: true},
		{name: "missing file", entrypoint: "other/package.json", wantErr: true},
		{name: "absolute path", entrypoint: "/package.json", wantErr: true},
		{name: "path traversal", entrypoint: "../package.json", wantErr: true},
		{name: "empty", entrypoint: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := NewResolver(tt.patterns...)
			gotPath, gotDir, err := resolver.Resolve(files, tt.entrypoint)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidEntrypoint))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPath, gotPath)
			assert.Equal(t, tt.wantDir, gotDir)
		})
	}
}

func TestIncludeOnlyEntryDirectory(t *testing.T) {
	files := fixture("web/package.json", "web/pages/index.vue", "webapp/package.json", "api/web/x.js", "root.js")

	t.Run("keeps only the entry directory", func(t *testing.T) {
		got := IncludeOnlyEntryDirectory(files, "web")
		assert.Equal(t, []string{"web/package.json", "web/pages/index.vue"}, got.Keys())
		for _, key := range got.Keys() {
			assert.True(t, files.Has(key))
		}
	})

	t.Run("root keeps everything", func(t *testing.T) {
		got := IncludeOnlyEntryDirectory(files, ".")
		assert.Equal(t, files.Keys(), got.Keys())
	})

	t.Run("input is untouched", func(t *testing.T) {
		_ = IncludeOnlyEntryDirectory(files, "web")
		assert.Equal(t, 5, files.Len())
	})
}

func TestMoveEntryDirectoryToRoot(t *testing.T) {
	files := fixture("web/package.json", "web/pages/index.vue", "api/web/x.js")

	t.Run("strips the prefix after inclusion", func(t *testing.T) {
		included := IncludeOnlyEntryDirectory(files, "web")
		moved, err := MoveEntryDirectoryToRoot(included, "web")
		require.NoError(t, err)
		assert.Equal(t, []string{"package.json", "pages/index.vue"}, moved.Keys())

		reprefixed, err := moved.Rekey(func(key string) string { return pathmap.Join("web", key) })
		require.NoError(t, err)
		assert.Equal(t, included.Keys(), reprefixed.Keys())
	})

	t.Run("root is identity", func(t *testing.T) {
		moved, err := MoveEntryDirectoryToRoot(files, ".")
		require.NoError(t, err)
		assert.Equal(t, files.Keys(), moved.Keys())
	})

	t.Run("rejects stores that were not narrowed first", func(t *testing.T) {
		_, err := MoveEntryDirectoryToRoot(files, "web")
		assert.Error(t, err)
	})
}
