package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is returned when a key does not exist in a bucket
var ErrObjectNotFound = errors.New("object not found")

// Object describes a stored deployment artifact or uploaded project file
type Object struct {
	Key         string            `json:"key"`
	Size        int64             `json:"size"`
	ContentType string            `json:"content_type,omitempty"`
	ModTime     time.Time         `json:"mod_time"`
	ETag        string            `json:"etag,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// PutOptions carries the headers stored alongside an object
type PutOptions struct {
	ContentType  string
	CacheControl string
	Metadata     map[string]string
}

// WalkFunc is called once per object. Returning an error stops the walk
// and is returned from Walk unchanged.
type WalkFunc func(obj Object) error

// Storage is the object store the builder reads uploads from and
// publishes deployments to.
type Storage interface {
	Put(ctx context.Context, bucket, key string, body io.Reader, size int64, opts PutOptions) (*Object, error)

	// Get opens bucket/key. The caller closes the reader.
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, *Object, error)

	// Stat returns the object description including its metadata
	Stat(ctx context.Context, bucket, key string) (*Object, error)

	Remove(ctx context.Context, bucket, key string) error

	// Walk visits every object under prefix in key order
	Walk(ctx context.Context, bucket, prefix string, fn WalkFunc) error
}

// Provider is a Storage backend with a name that can report its health
type Provider interface {
	Storage
	Name() string
	Health(ctx context.Context) error
}
