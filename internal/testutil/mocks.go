// Package testutil provides shared test utilities and mocks for unit testing.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fluxbase-eu/ssr-builder/internal/storage"
)

type mockObject struct {
	data []byte
	opts storage.PutOptions
}

// MockStorageProvider implements storage.Provider in memory
type MockStorageProvider struct {
	mu      sync.RWMutex
	buckets map[string]map[string]mockObject
	puts    int

	// Callbacks for custom behavior
	OnPut func(ctx context.Context, bucket, key string) error
	OnGet func(ctx context.Context, bucket, key string) error
}

// NewMockStorageProvider creates a new mock storage provider
func NewMockStorageProvider() *MockStorageProvider {
	return &MockStorageProvider{
		buckets: make(map[string]map[string]mockObject),
	}
}

func (m *MockStorageProvider) Name() string {
	return "mock"
}

func (m *MockStorageProvider) Health(ctx context.Context) error {
	return nil
}

// Seed stores an object directly, bypassing callbacks and the put counter
func (m *MockStorageProvider) Seed(bucket, key string, data []byte) {
	m.store(bucket, key, data, storage.PutOptions{})
}

func (m *MockStorageProvider) store(bucket, key string, data []byte, opts storage.PutOptions) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.buckets[bucket]; !exists {
		m.buckets[bucket] = make(map[string]mockObject)
	}
	m.buckets[bucket][key] = mockObject{data: append([]byte(nil), data...), opts: opts}
}

// Object returns the stored content of bucket/key
func (m *MockStorageProvider) Object(bucket, key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.buckets[bucket][key]
	return obj.data, ok
}

// ContentType returns the content type recorded for bucket/key
func (m *MockStorageProvider) ContentType(bucket, key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.buckets[bucket][key].opts.ContentType
}

// Puts returns how many Put calls stored an object
func (m *MockStorageProvider) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.puts
}

// Keys returns the sorted keys stored in bucket
func (m *MockStorageProvider) Keys(bucket string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.buckets[bucket]))
	for key := range m.buckets[bucket] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (m *MockStorageProvider) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, opts storage.PutOptions) (*storage.Object, error) {
	if m.OnPut != nil {
		if err := m.OnPut(ctx, bucket, key); err != nil {
			return nil, err
		}
	}

	content, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	m.store(bucket, key, content, opts)

	m.mu.Lock()
	m.puts++
	m.mu.Unlock()

	return m.Stat(ctx, bucket, key)
}

func (m *MockStorageProvider) Get(ctx context.Context, bucket, key string) (io.ReadCloser, *storage.Object, error) {
	if m.OnGet != nil {
		if err := m.OnGet(ctx, bucket, key); err != nil {
			return nil, nil, err
		}
	}

	obj, err := m.Stat(ctx, bucket, key)
	if err != nil {
		return nil, nil, err
	}
	data, _ := m.Object(bucket, key)
	return io.NopCloser(bytes.NewReader(data)), obj, nil
}

func (m *MockStorageProvider) Stat(ctx context.Context, bucket, key string) (*storage.Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.buckets[bucket][key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", storage.ErrObjectNotFound, bucket, key)
	}
	return &storage.Object{
		Key:         key,
		Size:        int64(len(obj.data)),
		ContentType: obj.opts.ContentType,
		ModTime:     time.Now(),
		Metadata:    obj.opts.Metadata,
	}, nil
}

func (m *MockStorageProvider) Remove(ctx context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.buckets[bucket][key]; !ok {
		return fmt.Errorf("%w: %s/%s", storage.ErrObjectNotFound, bucket, key)
	}
	delete(m.buckets[bucket], key)
	return nil
}

func (m *MockStorageProvider) Walk(ctx context.Context, bucket, prefix string, fn storage.WalkFunc) error {
	for _, key := range m.Keys(bucket) {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		obj, err := m.Stat(ctx, bucket, key)
		if err != nil {
			continue
		}
		if err := fn(*obj); err != nil {
			return err
		}
	}
	return nil
}
