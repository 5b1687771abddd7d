package fileset

import (
	"github.com/fluxbase-eu/ssr-builder/internal/pathmap"
)

// DefaultStaticDirectory is the top-level folder whose files are served as-is
const DefaultStaticDirectory = "static"

func inStaticDirectory(key, staticDir string) bool {
	return pathmap.HasDirPrefix(key, staticDir)
}

// ExcludeStaticDirectory returns every entry outside staticDir. The static
// folder is never part of the compiled build graph.
func ExcludeStaticDirectory(files *pathmap.Store, staticDir string) *pathmap.Store {
	return files.Filter(func(key string) bool {
		return !inStaticDirectory(key, staticDir)
	})
}

// OnlyStaticDirectory returns the entries under staticDir, keys unchanged.
// Together with ExcludeStaticDirectory it partitions the store exactly.
func OnlyStaticDirectory(files *pathmap.Store, staticDir string) *pathmap.Store {
	return files.Filter(func(key string) bool {
		return inStaticDirectory(key, staticDir)
	})
}
