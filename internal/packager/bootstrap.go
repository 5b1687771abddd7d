package packager

import (
	"embed"
	"fmt"

	"github.com/fluxbase-eu/ssr-builder/internal/pathmap"
)

// Protocol file names shared by every handler package
const (
	BridgeFileName   = "now__bridge.js"
	LauncherFileName = "now__launcher.js"
	PageFileName     = "page.js"
)

//go:embed bootstrap/now__bridge.js bootstrap/now__launcher.js
var bootstrapFS embed.FS

// Bootstrap returns the shared launcher and bridge files as a store
func Bootstrap() (*pathmap.Store, error) {
	entries := make(map[string]pathmap.FileRef, 2)
	for _, name := range []string{BridgeFileName, LauncherFileName} {
		data, err := bootstrapFS.ReadFile("bootstrap/" + name)
		if err != nil {
			return nil, fmt.Errorf("failed to load bootstrap file %s: %w", name, err)
		}
		entries[name] = pathmap.NewBlobRef(data, 0644)
	}
	return pathmap.New(entries)
}
