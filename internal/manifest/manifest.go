// Package manifest reads, normalizes and writes the project's package.json.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the canonical manifest file name
const FileName = "package.json"

// ErrManifestRead is returned when a manifest cannot be parsed
var ErrManifestRead = errors.New("failed to read manifest")

// Manifest is the subset of package.json the builder reasons about. All other
// top-level fields are carried through untouched.
type Manifest struct {
	Dependencies    map[string]string
	DevDependencies map[string]string
	Scripts         map[string]string

	// extra holds every other top-level field verbatim
	extra map[string]json.RawMessage
}

var knownFields = map[string]bool{
	"dependencies":    true,
	"devDependencies": true,
	"scripts":         true,
}

// Parse decodes a package.json document
func Parse(data []byte) (*Manifest, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestRead, err)
	}

	m := &Manifest{extra: make(map[string]json.RawMessage)}
	for key, value := range raw {
		if !knownFields[key] {
			m.extra[key] = value
		}
	}

	fields := []struct {
		name   string
		target *map[string]string
	}{
		{"dependencies", &m.Dependencies},
		{"devDependencies", &m.DevDependencies},
		{"scripts", &m.Scripts},
	}
	for _, f := range fields {
		value, ok := raw[f.name]
		if !ok || string(value) == "null" {
			continue
		}
		if err := json.Unmarshal(value, f.target); err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrManifestRead, f.name, err)
		}
	}

	return m, nil
}

// ReadFile reads the manifest at path. A missing file yields (nil, nil).
func ReadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestRead, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Extra returns the raw value of a field the manifest does not model
func (m *Manifest) Extra(key string) (json.RawMessage, bool) {
	value, ok := m.extra[key]
	return value, ok
}

// MarshalJSON encodes the manifest, re-merging preserved fields
func (m *Manifest) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(m.extra)+3)
	for key, value := range m.extra {
		out[key] = value
	}
	if m.Dependencies != nil {
		out["dependencies"] = m.Dependencies
	}
	if m.DevDependencies != nil {
		out["devDependencies"] = m.DevDependencies
	}
	if m.Scripts != nil {
		out["scripts"] = m.Scripts
	}
	return json.Marshal(out)
}

// WriteFile writes the manifest into dir as package.json, indented by two spaces
func WriteFile(dir string, m *Manifest) error {
	compact, err := m.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, compact, "", "  "); err != nil {
		return fmt.Errorf("failed to indent manifest: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, FileName), buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func (m *Manifest) clone() *Manifest {
	c := &Manifest{
		Dependencies:    copyStrings(m.Dependencies),
		DevDependencies: copyStrings(m.DevDependencies),
		Scripts:         copyStrings(m.Scripts),
		extra:           make(map[string]json.RawMessage, len(m.extra)),
	}
	for key, value := range m.extra {
		c.extra[key] = append(json.RawMessage(nil), value...)
	}
	return c
}

func copyStrings(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
