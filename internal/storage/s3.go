package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// S3Storage talks to any S3-compatible endpoint (AWS S3, MinIO)
type S3Storage struct {
	client *minio.Client
}

// NewS3Storage creates a client for endpoint using static credentials
func NewS3Storage(endpoint, accessKey, secretKey, region string, useSSL bool) (*S3Storage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	log.Debug().
		Str("endpoint", endpoint).
		Str("region", region).
		Bool("ssl", useSSL).
		Msg("S3 storage client created")

	return &S3Storage{client: client}, nil
}

func (s *S3Storage) Name() string {
	return "s3"
}

func (s *S3Storage) Health(ctx context.Context) error {
	if _, err := s.client.ListBuckets(ctx); err != nil {
		return fmt.Errorf("S3 health check failed: %w", err)
	}
	return nil
}

func (s *S3Storage) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, opts PutOptions) (*Object, error) {
	info, err := s.client.PutObject(ctx, bucket, key, body, size, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		CacheControl: opts.CacheControl,
		UserMetadata: opts.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s/%s: %w", bucket, key, err)
	}

	log.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int64("size", info.Size).
		Msg("Object uploaded to S3")

	return &Object{
		Key:         key,
		Size:        info.Size,
		ContentType: opts.ContentType,
		ModTime:     info.LastModified,
		ETag:        info.ETag,
		Metadata:    opts.Metadata,
	}, nil
}

func (s *S3Storage) Get(ctx context.Context, bucket, key string) (io.ReadCloser, *Object, error) {
	obj, err := s.Stat(ctx, bucket, key)
	if err != nil {
		return nil, nil, err
	}
	reader, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to download %s/%s: %w", bucket, key, err)
	}
	return reader, obj, nil
}

func (s *S3Storage) Stat(ctx context.Context, bucket, key string) (*Object, error) {
	info, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
		}
		return nil, fmt.Errorf("failed to stat %s/%s: %w", bucket, key, err)
	}
	return objectFromInfo(info), nil
}

func (s *S3Storage) Remove(ctx context.Context, bucket, key string) error {
	if _, err := s.Stat(ctx, bucket, key); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove %s/%s: %w", bucket, key, err)
	}
	log.Debug().Str("bucket", bucket).Str("key", key).Msg("Object removed from S3")
	return nil
}

// Walk lists recursively under prefix. S3 listings are already in key order.
func (s *S3Storage) Walk(ctx context.Context, bucket, prefix string, fn WalkFunc) error {
	// Cancelling stops the listing goroutine when fn ends the walk early
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for info := range s.client.ListObjects(listCtx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			return fmt.Errorf("failed to list %s/%s: %w", bucket, prefix, info.Err)
		}
		if strings.HasSuffix(info.Key, "/") {
			continue
		}
		if err := fn(*objectFromInfo(info)); err != nil {
			return err
		}
	}
	return nil
}

// objectFromInfo lowercases metadata keys, which S3 returns in canonical
// header form.
func objectFromInfo(info minio.ObjectInfo) *Object {
	var meta map[string]string
	if len(info.UserMetadata) > 0 {
		meta = make(map[string]string, len(info.UserMetadata))
		for k, v := range info.UserMetadata {
			meta[strings.ToLower(k)] = v
		}
	}
	return &Object{
		Key:         info.Key,
		Size:        info.Size,
		ContentType: info.ContentType,
		ModTime:     info.LastModified,
		ETag:        info.ETag,
		Metadata:    meta,
	}
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return true
	}
	return false
}
