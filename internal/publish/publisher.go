package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fluxbase-eu/ssr-builder/internal/pathmap"
	"github.com/fluxbase-eu/ssr-builder/internal/storage"
)

const defaultUploadConcurrency = 8

// digestMetadataKey carries the blake3 digest of a published object
const digestMetadataKey = "digest"

// Publisher uploads build output to a storage bucket
type Publisher struct {
	storage     storage.Storage
	bucket      string
	prefix      string
	concurrency int
}

// NewPublisher creates a publisher for bucket. Object keys are placed under prefix.
func NewPublisher(store storage.Storage, bucket, prefix string, concurrency int) *Publisher {
	if concurrency <= 0 {
		concurrency = defaultUploadConcurrency
	}
	return &Publisher{
		storage:     store,
		bucket:      bucket,
		prefix:      prefix,
		concurrency: concurrency,
	}
}

// Report summarizes a Publish call
type Report struct {
	Index    *Index
	Uploaded int
	Skipped  int
	Removed  []string
}

// Publish uploads every output entry, then the index, then removes objects
// listed by the previous index under the same prefix that this output no
// longer produces. An object whose stored digest already matches is not
// uploaded again.
func (p *Publisher) Publish(ctx context.Context, output *pathmap.Store) (*Report, error) {
	index, err := BuildIndex(ctx, output)
	if err != nil {
		return nil, err
	}

	previous, err := p.previousIndex(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{Index: index}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, entry := range index.Entries {
		ref, _ := output.Get(entry.Path)
		g.Go(func() error {
			uploaded, err := p.upload(gctx, entry, ref)
			if err != nil {
				return err
			}
			mu.Lock()
			if uploaded {
				report.Uploaded++
			} else {
				report.Skipped++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	data, err := index.Marshal()
	if err != nil {
		return nil, err
	}
	_, err = p.storage.Put(ctx, p.bucket, p.key(IndexFileName), bytes.NewReader(data), int64(len(data)), storage.PutOptions{
		ContentType:  "application/json",
		CacheControl: "no-cache",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", IndexFileName, err)
	}

	if previous != nil {
		report.Removed, err = p.prune(ctx, previous, index)
		if err != nil {
			return nil, err
		}
	}

	log.Info().
		Str("bucket", p.bucket).
		Str("prefix", p.prefix).
		Int("uploaded", report.Uploaded).
		Int("unchanged", report.Skipped).
		Int("removed", len(report.Removed)).
		Msg("Deployment published")

	return report, nil
}

// previousIndex reads the index of an earlier deployment under the same
// prefix. It returns nil when there is none.
func (p *Publisher) previousIndex(ctx context.Context) (*Index, error) {
	rc, _, err := p.storage.Get(ctx, p.bucket, p.key(IndexFileName))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read previous %s: %w", IndexFileName, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read previous %s: %w", IndexFileName, err)
	}
	previous, err := ParseIndex(data)
	if err != nil {
		log.Warn().Err(err).Str("key", p.key(IndexFileName)).Msg("Ignoring unreadable previous deployment index")
		return nil, nil
	}
	return previous, nil
}

func (p *Publisher) prune(ctx context.Context, previous, current *Index) ([]string, error) {
	keep := make(map[string]bool, len(current.Entries))
	for _, e := range current.Entries {
		keep[e.Object] = true
	}

	var removed []string
	for _, e := range previous.Entries {
		if keep[e.Object] {
			continue
		}
		err := p.storage.Remove(ctx, p.bucket, p.key(e.Object))
		if err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			return removed, fmt.Errorf("failed to remove stale object %s: %w", e.Object, err)
		}
		removed = append(removed, e.Object)
	}
	return removed, nil
}

// upload stores one entry unless the stored object already carries the
// same digest. It reports whether anything was written.
func (p *Publisher) upload(ctx context.Context, entry Entry, ref pathmap.FileRef) (bool, error) {
	key := p.key(entry.Object)

	existing, err := p.storage.Stat(ctx, p.bucket, key)
	switch {
	case err == nil && existing.Metadata[digestMetadataKey] == entry.Digest:
		log.Debug().Str("key", key).Msg("Object unchanged, skipping upload")
		return false, nil
	case err != nil && !errors.Is(err, storage.ErrObjectNotFound):
		return false, fmt.Errorf("failed to stat %s: %w", entry.Path, err)
	}

	rc, err := ref.Open(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", entry.Path, err)
	}
	defer rc.Close()

	opts := storage.PutOptions{
		ContentType: ContentType(entry.Object),
		Metadata:    map[string]string{digestMetadataKey: entry.Digest},
	}
	if entry.Kind == KindHandler {
		opts.Metadata["handler"] = entry.Handler
		opts.Metadata["runtime"] = entry.Runtime
	}

	if _, err := p.storage.Put(ctx, p.bucket, key, rc, entry.Size, opts); err != nil {
		return false, fmt.Errorf("failed to upload %s: %w", entry.Path, err)
	}

	log.Debug().Str("key", key).Int64("size", entry.Size).Msg("Object uploaded")
	return true, nil
}

func (p *Publisher) key(name string) string {
	if p.prefix == "" {
		return name
	}
	return pathmap.Join(p.prefix, name)
}

// WriteDir writes the output and its index below dir
func WriteDir(ctx context.Context, output *pathmap.Store, dir string) (*Index, error) {
	index, err := BuildIndex(ctx, output)
	if err != nil {
		return nil, err
	}

	for _, entry := range index.Entries {
		ref, _ := output.Get(entry.Path)
		if err := pathmap.WriteFile(ctx, ref, filepath.Join(dir, filepath.FromSlash(entry.Object))); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", entry.Path, err)
		}
	}

	data, err := index.Marshal()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, IndexFileName), data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", IndexFileName, err)
	}

	log.Info().Str("dir", dir).Int("files", len(index.Entries)).Msg("Deployment written")
	return index, nil
}
