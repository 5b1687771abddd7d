package manifest

import "encoding/json"

const (
	// DefaultBuildScript is the script the platform runs after install
	DefaultBuildScript = "now-build"

	// DefaultBuildCommand is injected when the build script is missing
	DefaultBuildCommand = "nuxt build"
)

// Normalizer fills in the fields the build toolchain depends on
type Normalizer struct {
	BuildScript  string
	BuildCommand string
}

// NewNormalizer returns a normalizer with the platform defaults
func NewNormalizer() *Normalizer {
	return &Normalizer{
		BuildScript:  DefaultBuildScript,
		BuildCommand: DefaultBuildCommand,
	}
}

// Normalize returns a copy of m with non-nil dependency maps and the build
// script present. Existing entries are never removed or overwritten. A nil
// manifest is treated as an empty package.json.
func (n *Normalizer) Normalize(m *Manifest) *Manifest {
	var out *Manifest
	if m == nil {
		out = &Manifest{}
	} else {
		out = m.clone()
	}

	if out.Dependencies == nil {
		out.Dependencies = map[string]string{}
	}
	if out.DevDependencies == nil {
		out.DevDependencies = map[string]string{}
	}
	if out.Scripts == nil {
		out.Scripts = map[string]string{}
	}
	if out.extra == nil {
		out.extra = map[string]json.RawMessage{}
	}

	if _, ok := out.Scripts[n.BuildScript]; !ok {
		out.Scripts[n.BuildScript] = n.BuildCommand
	}

	return out
}
