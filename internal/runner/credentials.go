package runner

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// NpmrcFileName is the credential file npm reads from the project directory
const NpmrcFileName = ".npmrc"

// DefaultRegistryHost is the registry the auth token is scoped to
const DefaultRegistryHost = "registry.npmjs.org"

// WithRegistryCredentials runs fn with an .npmrc carrying token in workDir.
// The file is removed on every exit path, including when fn fails or
// panics; a project .npmrc that was already present is restored instead.
// An empty token runs fn without touching the directory.
func WithRegistryCredentials(workDir, token string, fn func() error) (err error) {
	if token == "" {
		return fn()
	}

	path := filepath.Join(workDir, NpmrcFileName)

	previous, readErr := os.ReadFile(path)
	hadPrevious := readErr == nil
	if readErr != nil && !os.IsNotExist(readErr) {
		return fmt.Errorf("failed to read existing %s: %w", NpmrcFileName, readErr)
	}

	content := fmt.Sprintf("//%s/:_authToken=%s\n", DefaultRegistryHost, token)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", NpmrcFileName, err)
	}
	log.Info().Msg("Registry token found in environment, created .npmrc")

	defer func() {
		var cleanupErr error
		if hadPrevious {
			cleanupErr = os.WriteFile(path, previous, 0644)
		} else {
			cleanupErr = os.Remove(path)
		}
		if cleanupErr != nil {
			log.Error().Err(cleanupErr).Msg("Failed to remove registry credentials")
			if err == nil {
				err = fmt.Errorf("failed to remove %s: %w", NpmrcFileName, cleanupErr)
			}
		}
	}()

	return fn()
}
