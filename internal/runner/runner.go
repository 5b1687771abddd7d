// Package runner drives the project's package manager: dependency install,
// the build script, and the production prune.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrBuildScriptFailed is returned when an install or script exits non-zero
var ErrBuildScriptFailed = errors.New("build script failed")

// maxOutputTail is how much command output is kept in error messages
const maxOutputTail = 4096

// Runner runs package manager commands inside a work directory
type Runner interface {
	// RunInstall installs dependencies with the given extra flags
	RunInstall(ctx context.Context, workDir string, flags ...string) error

	// RunScript runs a script from the manifest's script table
	RunScript(ctx context.Context, workDir, script string) error
}

// NpmRunner runs npm as a subprocess
type NpmRunner struct {
	npmPath string
	env     []string
}

// NewNpmRunner creates a runner for the npm binary at npmPath (looked up on
// PATH when it has no separator)
func NewNpmRunner(npmPath string) (*NpmRunner, error) {
	if npmPath == "" {
		npmPath = "npm"
	}

	resolved, err := exec.LookPath(npmPath)
	if err != nil {
		return nil, fmt.Errorf("npm executable not found: %w", err)
	}

	return &NpmRunner{
		npmPath: resolved,
		env:     os.Environ(),
	}, nil
}

// RunInstall runs "npm install" with flags
func (r *NpmRunner) RunInstall(ctx context.Context, workDir string, flags ...string) error {
	args := append([]string{"install"}, flags...)
	return r.run(ctx, workDir, args...)
}

// RunScript runs "npm run <script>"
func (r *NpmRunner) RunScript(ctx context.Context, workDir, script string) error {
	return r.run(ctx, workDir, "run", script)
}

func (r *NpmRunner) run(ctx context.Context, workDir string, args ...string) error {
	command := "npm " + strings.Join(args, " ")
	log.Info().Str("dir", workDir).Str("command", command).Msg("Running package manager")

	cmd := exec.CommandContext(ctx, r.npmPath, args...)
	cmd.Dir = workDir
	cmd.Env = r.env

	output, err := cmd.CombinedOutput()
	log.Debug().Str("command", command).Msg(string(output))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %q: %v: %s", ErrBuildScriptFailed, command, err, tail(output))
	}

	return nil
}

func tail(output []byte) string {
	output = bytes.TrimSpace(output)
	if len(output) > maxOutputTail {
		output = output[len(output)-maxOutputTail:]
	}
	return string(output)
}
