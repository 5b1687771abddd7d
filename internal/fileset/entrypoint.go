// Package fileset narrows an uploaded project tree down to the files that
// belong to a single entrypoint and splits out the static passthrough folder.
package fileset

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/fluxbase-eu/ssr-builder/internal/pathmap"
)

// ErrInvalidEntrypoint is returned for malformed or missing entrypoints
var ErrInvalidEntrypoint = errors.New("invalid entrypoint")

// DefaultEntrypointPatterns are the file names a builder may be pointed at
var DefaultEntrypointPatterns = []string{"package.json", "nuxt.config.js"}

// Resolver validates entrypoints against a set of base-name patterns
type Resolver struct {
	// Patterns are path.Match patterns applied to the entrypoint base name
	Patterns []string
}

// NewResolver creates a resolver. With no patterns the defaults apply.
func NewResolver(patterns ...string) *Resolver {
	if len(patterns) == 0 {
		patterns = DefaultEntrypointPatterns
	}
	return &Resolver{Patterns: patterns}
}

// Resolve validates entrypoint against files and returns its normalized form
// together with the entry directory ("." for the project root).
func (r *Resolver) Resolve(files *pathmap.Store, entrypoint string) (string, string, error) {
	normalized, err := pathmap.Normalize(entrypoint)
	if err != nil {
		return "", "", fmt.Errorf("%w %q: %v", ErrInvalidEntrypoint, entrypoint, err)
	}

	if !r.matches(path.Base(normalized)) {
		return "", "", fmt.Errorf("%w %q: file name must match one of %s",
			ErrInvalidEntrypoint, entrypoint, strings.Join(r.Patterns, ", "))
	}

	if !files.Has(normalized) {
		return "", "", fmt.Errorf("%w %q: file not found in uploaded files", ErrInvalidEntrypoint, entrypoint)
	}

	return normalized, path.Dir(normalized), nil
}

func (r *Resolver) matches(base string) bool {
	for _, pattern := range r.Patterns {
		if ok, err := path.Match(pattern, base); err == nil && ok {
			return true
		}
	}
	return false
}

// IncludeOnlyEntryDirectory keeps the entries under dir, without renaming.
// For the root directory every entry is kept.
func IncludeOnlyEntryDirectory(files *pathmap.Store, dir string) *pathmap.Store {
	return files.Filter(func(key string) bool {
		return pathmap.HasDirPrefix(key, dir)
	})
}

// MoveEntryDirectoryToRoot strips the dir prefix from every key. It must run
// after IncludeOnlyEntryDirectory; a key outside dir is an error.
func MoveEntryDirectoryToRoot(files *pathmap.Store, dir string) (*pathmap.Store, error) {
	if dir == "." || dir == "" {
		return files, nil
	}

	for _, key := range files.Keys() {
		if !pathmap.HasDirPrefix(key, dir) {
			return nil, fmt.Errorf("file %q is outside entry directory %q", key, dir)
		}
	}

	return files.Rekey(func(key string) string {
		return strings.TrimPrefix(key, dir+"/")
	})
}
