package storage

import (
	"fmt"
	"strings"

	"github.com/fluxbase-eu/ssr-builder/internal/config"
)

// NewProvider creates the storage provider selected by cfg.Provider
func NewProvider(cfg *config.StorageConfig) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "local":
		provider, err := NewLocalStorage(cfg.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize local storage: %w", err)
		}
		return provider, nil

	case "s3":
		endpoint, useSSL := splitEndpoint(cfg.S3Endpoint, cfg.S3UseSSL)
		provider, err := NewS3Storage(endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Region, useSSL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		return provider, nil

	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.Provider)
	}
}

// splitEndpoint strips a URL scheme from endpoint. An explicit scheme
// decides TLS, a bare host keeps useSSL, and an empty endpoint means AWS.
func splitEndpoint(endpoint string, useSSL bool) (string, bool) {
	switch {
	case endpoint == "":
		return "s3.amazonaws.com", true
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimPrefix(endpoint, "https://"), true
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimPrefix(endpoint, "http://"), false
	}
	return endpoint, useSSL
}
