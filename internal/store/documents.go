package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"noteforge/api/internal/content"
	"noteforge/api/internal/util"
)

// DocumentStore owns the document collection. The in-memory slice is the
// source of truth for the session; every persisting operation writes the whole
// collection under DocumentsKey.
type DocumentStore struct {
	backend Backend
	log     logrus.FieldLogger
	now     func() time.Time
	newID   func() string

	mu   sync.RWMutex
	docs []Document

	// writeMu orders snapshots and backend writes so a later save can never
	// be overtaken by an earlier one.
	writeMu sync.Mutex
}

type Option func(*DocumentStore)

func WithClock(now func() time.Time) Option {
	return func(s *DocumentStore) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *DocumentStore) { s.newID = newID }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *DocumentStore) { s.log = log }
}

func NewDocumentStore(backend Backend, opts ...Option) *DocumentStore {
	s := &DocumentStore{
		backend: backend,
		log:     logrus.StandardLogger(),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return util.NewID("doc") },
		docs:    []Document{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "document_store")
	return s
}

// LoadAll replaces the in-memory collection with the durable one. A missing
// key yields an empty collection; an undecodable blob is an error so the
// caller never overwrites data it could not read.
func (s *DocumentStore) LoadAll(ctx context.Context) error {
	raw, err := s.backend.Get(ctx, DocumentsKey)
	if err != nil {
		return fmt.Errorf("read %s: %w", DocumentsKey, err)
	}

	docs := []Document{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &docs); err != nil {
			return fmt.Errorf("decode %s: %w", DocumentsKey, err)
		}
	}

	seen := make(map[string]bool, len(docs))
	loaded := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if doc.ID == "" || seen[doc.ID] {
			s.log.WithField("document_id", doc.ID).Warn("dropping stored document with missing or duplicate id")
			continue
		}
		seen[doc.ID] = true
		if doc.Content.Ops == nil {
			doc.Content = content.Empty()
		}
		doc.Title = normalizeTitle(doc.Title)
		doc.reproject()
		if doc.LastModified.Before(doc.CreatedAt) {
			doc.LastModified = doc.CreatedAt
		}
		loaded = append(loaded, doc)
	}

	s.mu.Lock()
	s.docs = loaded
	s.mu.Unlock()

	s.log.WithField("count", len(loaded)).Info("documents loaded")
	return nil
}

// Create inserts a new empty document at the front and persists. On a
// persistence failure the document stays in memory and is returned with the
// error.
func (s *DocumentStore) Create(ctx context.Context) (Document, error) {
	now := s.now()
	doc := Document{
		ID:           s.newID(),
		Title:        DefaultTitle,
		Content:      content.Empty(),
		CreatedAt:    now,
		LastModified: now,
	}
	doc.reproject()

	s.mu.Lock()
	s.docs = append([]Document{doc}, s.docs...)
	s.mu.Unlock()

	return doc.Clone(), s.persist(ctx)
}

// Load looks the id up in memory only.
func (s *DocumentStore) Load(id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(id)
	if i < 0 {
		return Document{}, ErrNotFound
	}
	return s.docs[i].Clone(), nil
}

// Save replaces the stored title and content with doc's, reprojects the
// derived fields, stamps LastModified and persists the whole collection.
func (s *DocumentStore) Save(ctx context.Context, doc Document) (Document, error) {
	s.mu.Lock()
	i := s.indexOf(doc.ID)
	if i < 0 {
		s.mu.Unlock()
		return Document{}, ErrNotFound
	}
	stored := &s.docs[i]
	stored.Title = normalizeTitle(doc.Title)
	if doc.Content.Ops != nil {
		stored.Content = doc.Content.Clone()
	}
	stored.reproject()
	stored.touch(s.now())
	saved := stored.Clone()
	s.mu.Unlock()

	if err := s.persist(ctx); err != nil {
		return saved, err
	}
	return saved, nil
}

// Delete removes the document and persists. The relative order of the
// remaining documents is unchanged.
func (s *DocumentStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	s.docs = append(s.docs[:i:i], s.docs[i+1:]...)
	s.mu.Unlock()

	return s.persist(ctx)
}

// UpdateContent applies new content to a document in memory, reprojecting
// and bumping LastModified. Nothing is persisted.
func (s *DocumentStore) UpdateContent(id string, delta content.Delta) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return Document{}, ErrNotFound
	}
	doc := &s.docs[i]
	doc.Content = delta.Clone()
	doc.reproject()
	doc.touch(s.now())
	return doc.Clone(), nil
}

// UpdateTitle renames a document in memory. An empty title becomes
// DefaultTitle. Nothing is persisted.
func (s *DocumentStore) UpdateTitle(id, title string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return Document{}, ErrNotFound
	}
	doc := &s.docs[i]
	doc.Title = normalizeTitle(title)
	doc.touch(s.now())
	return doc.Clone(), nil
}

// List returns copies of every document, newest-created first.
func (s *DocumentStore) List() []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Document, len(s.docs))
	for i, doc := range s.docs {
		out[i] = doc.Clone()
	}
	return out
}

// First returns the document at the head of the list.
func (s *DocumentStore) First() (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.docs) == 0 {
		return Document{}, false
	}
	return s.docs[0].Clone(), true
}

func (s *DocumentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Snapshot serializes the collection exactly as it is written to the backend.
func (s *DocumentStore) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(s.docs)
}

// Flush persists the current collection without mutating it.
func (s *DocumentStore) Flush(ctx context.Context) error {
	return s.persist(ctx)
}

func (s *DocumentStore) persist(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := s.Snapshot()
	if err != nil {
		return &PersistenceError{Key: DocumentsKey, Err: err}
	}
	if err := s.backend.Put(ctx, DocumentsKey, data); err != nil {
		s.log.WithError(err).WithField("key", DocumentsKey).Error("persist documents failed")
		return &PersistenceError{Key: DocumentsKey, Err: err}
	}
	return nil
}

func (s *DocumentStore) indexOf(id string) int {
	for i := range s.docs {
		if s.docs[i].ID == id {
			return i
		}
	}
	return -1
}
