package pathmap

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"

	"lukechampine.com/blake3"
)

// Digest returns the hex-encoded BLAKE3-256 hash of the referenced content
func Digest(ctx context.Context, ref FileRef) (string, error) {
	rc, err := ref.Open(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to open file for digest: %w", err)
	}
	defer rc.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, rc); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
