// Package compose merges handlers and static files into the final output store.
package compose

import (
	"errors"
	"fmt"

	"github.com/fluxbase-eu/ssr-builder/internal/pathmap"
)

// ErrOutputKeyCollision is returned when two sources produce the same output key
var ErrOutputKeyCollision = errors.New("output key collision")

// DefaultAssetPrefix is the namespace the client bundle is served under
const DefaultAssetPrefix = "_nuxt"

// Source tags where an output entry came from
type Source string

const (
	SourceHandler     Source = "handler"
	SourceBundle      Source = "bundle"
	SourcePassthrough Source = "passthrough"
)

// Input groups everything the composer merges
type Input struct {
	EntryDir    string
	AssetPrefix string
	Handlers    *pathmap.Store // already keyed by final path
	Bundle      *pathmap.Store // relative to the static bundle directory
	Passthrough *pathmap.Store // relative to the project root, under the static dir
}

// Compose builds the final store. Bundle files land under
// entryDir/assetPrefix, passthrough files under entryDir.
func Compose(in Input) (*pathmap.Store, error) {
	prefix := in.AssetPrefix
	if prefix == "" {
		prefix = DefaultAssetPrefix
	}

	out := make(map[string]pathmap.FileRef)
	origin := make(map[string]Source)

	add := func(src Source, files *pathmap.Store, rekey func(string) string) error {
		if files == nil {
			return nil
		}
		var err error
		files.Range(func(key string, ref pathmap.FileRef) bool {
			final := rekey(key)
			if prev, ok := origin[final]; ok {
				err = fmt.Errorf("%w: %q produced by %s and %s", ErrOutputKeyCollision, final, prev, src)
				return false
			}
			out[final] = ref
			origin[final] = src
			return true
		})
		return err
	}

	if err := add(SourceHandler, in.Handlers, func(k string) string { return k }); err != nil {
		return nil, err
	}
	if err := add(SourceBundle, in.Bundle, func(k string) string {
		return pathmap.Join(in.EntryDir, prefix, k)
	}); err != nil {
		return nil, err
	}
	if err := add(SourcePassthrough, in.Passthrough, func(k string) string {
		return pathmap.Join(in.EntryDir, k)
	}); err != nil {
		return nil, err
	}

	return pathmap.New(out)
}
