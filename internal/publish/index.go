// Package publish writes a finished build to object storage or a local
// directory, together with a deployment.json index.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"path"

	"github.com/fluxbase-eu/ssr-builder/internal/packager"
	"github.com/fluxbase-eu/ssr-builder/internal/pathmap"
)

// IndexFileName is the name of the deployment index object
const IndexFileName = "deployment.json"

// Entry kinds
const (
	KindHandler = "handler"
	KindStatic  = "static"
)

const (
	handlerExt         = ".zip"
	handlerContentType = "application/zip"
)

// Entry describes one output path
type Entry struct {
	Path    string `json:"path" yaml:"path"`
	Object  string `json:"object" yaml:"object"`
	Kind    string `json:"kind" yaml:"kind"`
	Size    int64  `json:"size" yaml:"size"`
	Digest  string `json:"digest,omitempty" yaml:"digest,omitempty"`
	Handler string `json:"handler,omitempty" yaml:"handler,omitempty"`
	Runtime string `json:"runtime,omitempty" yaml:"runtime,omitempty"`
}

// Index lists every output path of a deployment
type Index struct {
	Entries []Entry `json:"entries" yaml:"entries"`
}

// Describe lists the output without hashing content
func Describe(output *pathmap.Store) []Entry {
	entries := make([]Entry, 0, output.Len())
	output.Range(func(key string, ref pathmap.FileRef) bool {
		entries = append(entries, describe(key, ref))
		return true
	})
	return entries
}

// BuildIndex describes every output entry and computes its blake3 digest
func BuildIndex(ctx context.Context, output *pathmap.Store) (*Index, error) {
	entries := Describe(output)
	objects := make(map[string]string, len(entries))

	for i := range entries {
		e := &entries[i]
		if prev, ok := objects[e.Object]; ok {
			return nil, fmt.Errorf("object %q is produced by both %q and %q", e.Object, prev, e.Path)
		}
		objects[e.Object] = e.Path

		ref, _ := output.Get(e.Path)
		digest, err := pathmap.Digest(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s: %w", e.Path, err)
		}
		e.Digest = digest
	}

	return &Index{Entries: entries}, nil
}

// ParseIndex decodes a deployment index
func ParseIndex(data []byte) (*Index, error) {
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", IndexFileName, err)
	}
	return &idx, nil
}

// Marshal encodes the index as indented JSON
func (idx *Index) Marshal() ([]byte, error) {
	return json.MarshalIndent(idx, "", "  ")
}

func describe(key string, ref pathmap.FileRef) Entry {
	e := Entry{
		Path:   key,
		Object: key,
		Kind:   KindStatic,
		Size:   ref.Size(),
	}
	if lambda, ok := ref.(*packager.Lambda); ok {
		e.Object = key + handlerExt
		e.Kind = KindHandler
		e.Handler = lambda.Handler
		e.Runtime = lambda.Runtime
	}
	return e
}

// ContentType guesses an object's content type from its name
func ContentType(name string) string {
	if path.Ext(name) == handlerExt {
		return handlerContentType
	}
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
