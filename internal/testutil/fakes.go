package testutil

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/fluxbase-eu/ssr-builder/internal/runner"
)

// RunnerCall records one invocation of FakeRunner
type RunnerCall struct {
	Kind        string // "install" or "script"
	WorkDir     string
	Args        []string
	NpmrcExists bool // whether .npmrc was present during the call
}

// FakeRunner implements runner.Runner without running a package manager
type FakeRunner struct {
	mu    sync.Mutex
	Calls []RunnerCall

	// OnScript runs when a script is requested, typically to write build output
	OnScript  func(workDir, script string) error
	OnInstall func(workDir string, flags []string) error
}

var _ runner.Runner = (*FakeRunner)(nil)

// RunInstall implements runner.Runner
func (f *FakeRunner) RunInstall(ctx context.Context, workDir string, flags ...string) error {
	f.record("install", workDir, flags)
	if f.OnInstall != nil {
		return f.OnInstall(workDir, flags)
	}
	return nil
}

// RunScript implements runner.Runner
func (f *FakeRunner) RunScript(ctx context.Context, workDir, script string) error {
	f.record("script", workDir, []string{script})
	if f.OnScript != nil {
		return f.OnScript(workDir, script)
	}
	return nil
}

// CallKinds returns the kind of every call in order
func (f *FakeRunner) CallKinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]string, len(f.Calls))
	for i, c := range f.Calls {
		kinds[i] = c.Kind
	}
	return kinds
}

func (f *FakeRunner) record(kind, workDir string, args []string) {
	_, err := os.Stat(filepath.Join(workDir, runner.NpmrcFileName))

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, RunnerCall{
		Kind:        kind,
		WorkDir:     workDir,
		Args:        append([]string(nil), args...),
		NpmrcExists: err == nil,
	})
}

// WriteBuildOutput writes files with placeholder content below root
func WriteBuildOutput(root string, files map[string]string) error {
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			return err
		}
	}
	return nil
}
