package storage

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"lukechampine.com/blake3"
)

// metaDir holds one JSON sidecar per object, mirroring the bucket tree
const metaDir = ".meta"

// LocalStorage keeps buckets as directories under a root path
type LocalStorage struct {
	root string
}

// sidecar is the on-disk form of the headers stored with an object
type sidecar struct {
	ContentType  string            `json:"content_type,omitempty"`
	CacheControl string            `json:"cache_control,omitempty"`
	ETag         string            `json:"etag"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// NewLocalStorage creates root if needed and returns a provider rooted there
func NewLocalStorage(root string) (*LocalStorage, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{root: root}, nil
}

func (ls *LocalStorage) Name() string {
	return "local"
}

// Health verifies the root is writable
func (ls *LocalStorage) Health(ctx context.Context) error {
	f, err := os.CreateTemp(ls.root, ".health-*")
	if err != nil {
		return fmt.Errorf("storage directory not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// resolve maps bucket/key to the object path and its sidecar path. Keys
// that escape the bucket are rejected.
func (ls *LocalStorage) resolve(bucket, key string) (string, string, error) {
	if bucket == "" || bucket == metaDir || strings.ContainsAny(bucket, `/\`) {
		return "", "", fmt.Errorf("invalid bucket name %q", bucket)
	}
	bucketDir := filepath.Join(ls.root, bucket)
	objectPath := filepath.Join(bucketDir, filepath.FromSlash(key))
	if !strings.HasPrefix(objectPath, bucketDir+string(filepath.Separator)) {
		return "", "", fmt.Errorf("key %q is outside of bucket %q", key, bucket)
	}
	rel := strings.TrimPrefix(objectPath, bucketDir)
	return objectPath, filepath.Join(ls.root, metaDir, bucket, rel+".json"), nil
}

func (ls *LocalStorage) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, opts PutOptions) (*Object, error) {
	objectPath, metaPath, err := ls.resolve(bucket, key)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(objectPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to a temp file in the same directory so readers never see a
	// partial object.
	tmp, err := os.CreateTemp(filepath.Dir(objectPath), ".put-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	h := blake3.New(32, nil)
	written, err := io.Copy(io.MultiWriter(tmp, h), body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write %s/%s: %w", bucket, key, err)
	}
	if size >= 0 && written != size {
		return nil, fmt.Errorf("short write for %s/%s: got %d bytes, want %d", bucket, key, written, size)
	}
	if err := os.Rename(tmp.Name(), objectPath); err != nil {
		return nil, fmt.Errorf("failed to store %s/%s: %w", bucket, key, err)
	}

	meta := sidecar{
		ContentType:  opts.ContentType,
		CacheControl: opts.CacheControl,
		ETag:         hex.EncodeToString(h.Sum(nil)),
		Metadata:     opts.Metadata,
	}
	if err := writeSidecar(metaPath, meta); err != nil {
		return nil, err
	}

	log.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int64("size", written).
		Msg("Object stored on local disk")

	return ls.Stat(ctx, bucket, key)
}

func (ls *LocalStorage) Get(ctx context.Context, bucket, key string) (io.ReadCloser, *Object, error) {
	obj, err := ls.Stat(ctx, bucket, key)
	if err != nil {
		return nil, nil, err
	}
	objectPath, _, _ := ls.resolve(bucket, key)
	f, err := os.Open(objectPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s/%s: %w", bucket, key, err)
	}
	return f, obj, nil
}

func (ls *LocalStorage) Stat(ctx context.Context, bucket, key string) (*Object, error) {
	objectPath, metaPath, err := ls.resolve(bucket, key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(objectPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
		}
		return nil, fmt.Errorf("failed to stat %s/%s: %w", bucket, key, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
	}

	obj := &Object{
		Key:         key,
		Size:        info.Size(),
		ContentType: "application/octet-stream",
		ModTime:     info.ModTime(),
	}
	if meta, err := readSidecar(metaPath); err == nil {
		if meta.ContentType != "" {
			obj.ContentType = meta.ContentType
		}
		obj.ETag = meta.ETag
		obj.Metadata = meta.Metadata
	}
	return obj, nil
}

func (ls *LocalStorage) Remove(ctx context.Context, bucket, key string) error {
	objectPath, metaPath, err := ls.resolve(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(objectPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
		}
		return fmt.Errorf("failed to remove %s/%s: %w", bucket, key, err)
	}
	_ = os.Remove(metaPath)

	log.Debug().Str("bucket", bucket).Str("key", key).Msg("Object removed from local disk")
	return nil
}

// Walk visits objects under prefix. A missing bucket holds no objects.
func (ls *LocalStorage) Walk(ctx context.Context, bucket, prefix string, fn WalkFunc) error {
	if _, _, err := ls.resolve(bucket, "x"); err != nil {
		return err
	}
	bucketDir := filepath.Join(ls.root, bucket)

	var keys []string
	err := filepath.WalkDir(bucketDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == bucketDir {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(bucketDir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) && !strings.HasPrefix(filepath.Base(p), ".put-") {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk bucket %s: %w", bucket, err)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		obj, err := ls.Stat(ctx, bucket, key)
		if err != nil {
			return err
		}
		if err := fn(*obj); err != nil {
			return err
		}
	}
	return nil
}

func writeSidecar(path string, meta sidecar) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func readSidecar(path string) (sidecar, error) {
	var meta sidecar
	data, err := os.ReadFile(path)
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(data, &meta)
	return meta, err
}
