package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Backend is durable key-value storage. Values are opaque blobs; Get returns
// nil, nil for a key that was never written.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Ping(ctx context.Context) error
	Close() error
}

// MemoryBackend keeps values in process memory. Used for tests and ephemeral
// sessions.
type MemoryBackend struct {
	mu     sync.Mutex
	values map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string][]byte)}
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	value, ok := b.values[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), value...), nil
}

func (b *MemoryBackend) Put(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[key] = append([]byte(nil), value...)
	return nil
}

func (b *MemoryBackend) Ping(context.Context) error { return nil }

func (b *MemoryBackend) Close() error { return nil }

// FileBackend stores each key as <dir>/<key>.json, replaced atomically via a
// temp file and rename.
type FileBackend struct {
	dir string
}

func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: strings.TrimSpace(dir)}
}

func (b *FileBackend) path(key string) string {
	return filepath.Join(b.dir, key+".json")
}

func (b *FileBackend) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (b *FileBackend) Put(_ context.Context, key string, value []byte) error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return err
	}
	target := b.path(key)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

func (b *FileBackend) Ping(context.Context) error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return err
	}
	_, err := os.Stat(b.dir)
	return err
}

func (b *FileBackend) Close() error { return nil }
