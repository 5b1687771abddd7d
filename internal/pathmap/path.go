package pathmap

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrInvalidPath is returned for keys that are absolute, empty or escape the root
var ErrInvalidPath = errors.New("invalid path")

// Normalize converts p into the canonical store key form: forward slashes,
// cleaned, relative, and free of ".." segments.
func Normalize(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %q is absolute", ErrInvalidPath, p)
	}

	for _, segment := range strings.Split(p, "/") {
		if segment == ".." {
			return "", fmt.Errorf("%w: %q contains '..'", ErrInvalidPath, p)
		}
	}

	cleaned := path.Clean(p)
	if cleaned == "." {
		return "", fmt.Errorf("%w: %q does not name a file", ErrInvalidPath, p)
	}

	return cleaned, nil
}

// Join joins path elements into a store key. A "." element contributes nothing,
// so Join(".", "home") is "home".
func Join(elem ...string) string {
	return path.Join(elem...)
}

// HasDirPrefix reports whether key lies under dir. The root directory "."
// contains every key.
func HasDirPrefix(key, dir string) bool {
	if dir == "." || dir == "" {
		return true
	}
	return strings.HasPrefix(key, dir+"/")
}
