package store

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeBackend records writes and lets tests inject failures.
type fakeBackend struct {
	mu     sync.Mutex
	values map[string][]byte
	puts   int
	getFn  func(key string) ([]byte, error)
	putFn  func(key string, value []byte) error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{values: map[string][]byte{}}
}

func (f *fakeBackend) Get(_ context.Context, key string) ([]byte, error) {
	if f.getFn != nil {
		return f.getFn(key)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[key], nil
}

func (f *fakeBackend) Put(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.putFn != nil {
		if err := f.putFn(key, value); err != nil {
			return err
		}
	}
	f.values[key] = append([]byte(nil), value...)
	return nil
}

func (f *fakeBackend) Ping(context.Context) error { return nil }
func (f *fakeBackend) Close() error               { return nil }

func (f *fakeBackend) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

var errDiskFull = errors.New("disk full")

// stepClock returns a clock advancing one second per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return "doc_" + string(rune('a'+n-1))
	}
}
