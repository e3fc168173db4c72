package session

import (
	"context"
	"sync"
	"time"
)

type pending struct {
	verifier  string
	expiresAt time.Time
}

// MemoryStore keeps tokens for the life of the process.
type MemoryStore struct {
	mu      sync.Mutex
	tokens  map[string]Token
	pending map[string]pending
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens:  map[string]Token{},
		pending: map[string]pending{},
		now:     time.Now,
	}
}

func (s *MemoryStore) SaveToken(_ context.Context, provider string, token Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[provider] = token
	return nil
}

func (s *MemoryStore) LoadToken(_ context.Context, provider string) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[provider]
	if !ok {
		return Token{}, ErrNotFound
	}
	return token, nil
}

func (s *MemoryStore) DeleteToken(_ context.Context, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, provider)
	return nil
}

func (s *MemoryStore) SavePending(_ context.Context, nonce, verifier string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[nonce] = pending{verifier: verifier, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) TakePending(_ context.Context, nonce string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[nonce]
	delete(s.pending, nonce)
	if !ok || !s.now().Before(p.expiresAt) {
		return "", ErrNotFound
	}
	return p.verifier, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
