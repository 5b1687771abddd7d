package materialize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/cenk/backoff"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/ssr-builder/internal/pathmap"
	"github.com/fluxbase-eu/ssr-builder/internal/storage"
)

// maxFetchRetries bounds the retries for one remote object
const maxFetchRetries = 4

// RemoteRef references an object held in a storage bucket
type RemoteRef struct {
	store  storage.Storage
	Bucket string
	Key    string
	size   int64
	mode   fs.FileMode

	// newBackOff is swapped in tests to avoid real sleeps
	newBackOff func() backoff.BackOff
}

// NewRemoteRef creates a reference to bucket/key of the given size
func NewRemoteRef(store storage.Storage, bucket, key string, size int64) *RemoteRef {
	return &RemoteRef{
		store:  store,
		Bucket: bucket,
		Key:    key,
		size:   size,
		mode:   0644,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
}

// Size returns the object size reported by the listing
func (r *RemoteRef) Size() int64 {
	return r.size
}

// Mode returns the permission bits used when the object is materialized
func (r *RemoteRef) Mode() fs.FileMode {
	return r.mode
}

// Open downloads the object, retrying transient failures with exponential
// backoff. A missing object is not retried.
func (r *RemoteRef) Open(ctx context.Context) (io.ReadCloser, error) {
	var (
		body     io.ReadCloser
		notFound error
		attempt  int
	)

	operation := func() error {
		attempt++
		reader, _, err := r.store.Get(ctx, r.Bucket, r.Key)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				notFound = err
				return nil
			}
			log.Debug().
				Err(err).
				Str("bucket", r.Bucket).
				Str("key", r.Key).
				Int("attempt", attempt).
				Msg("Remote file download failed, retrying")
			return err
		}
		body = reader
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), maxFetchRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("failed to download %s/%s: %w", r.Bucket, r.Key, err)
	}
	if notFound != nil {
		return nil, notFound
	}

	return body, nil
}

// StoreFromBucket lists every object under prefix and returns them as a
// store keyed by the path relative to prefix.
func StoreFromBucket(ctx context.Context, store storage.Storage, bucket, prefix string) (*pathmap.Store, error) {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	entries := make(map[string]pathmap.FileRef)
	err := store.Walk(ctx, bucket, prefix, func(obj storage.Object) error {
		entries[strings.TrimPrefix(obj.Key, prefix)] = NewRemoteRef(store, bucket, obj.Key, obj.Size)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list uploaded files: %w", err)
	}

	log.Debug().
		Str("bucket", bucket).
		Str("prefix", prefix).
		Int("count", len(entries)).
		Msg("Listed uploaded files")

	return pathmap.New(entries)
}
