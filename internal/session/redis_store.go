package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"noteforge/api/internal/auth"
)

// RedisStore implements token storage using Redis. Token values are sealed
// before they leave the process.
type RedisStore struct {
	client *redis.Client
	sealer *Sealer
	prefix string
}

// NewRedisStore creates a new Redis-backed session store
func NewRedisStore(redisURL string, sealer *Sealer) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, sealer), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, sealer *Sealer) *RedisStore {
	return &RedisStore{
		client: client,
		sealer: sealer,
		prefix: "noteforge:",
	}
}

func (s *RedisStore) tokenKey(provider string) string {
	return s.prefix + "token:" + provider
}

func (s *RedisStore) pendingKey(nonce string) string {
	return s.prefix + "pkce:" + auth.HashToken(nonce)
}

func (s *RedisStore) SaveToken(ctx context.Context, provider string, token Token) error {
	jsonData, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	sealed, err := s.sealer.Seal(jsonData)
	if err != nil {
		return err
	}

	var ttl time.Duration
	if !token.Expiry.IsZero() && token.RefreshToken == "" {
		ttl = time.Until(token.Expiry)
		if ttl <= 0 {
			return s.DeleteToken(ctx, provider)
		}
	}
	if err := s.client.Set(ctx, s.tokenKey(provider), sealed, ttl).Err(); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadToken(ctx context.Context, provider string) (Token, error) {
	sealed, err := s.client.Get(ctx, s.tokenKey(provider)).Result()
	if errors.Is(err, redis.Nil) {
		return Token{}, ErrNotFound
	}
	if err != nil {
		return Token{}, fmt.Errorf("lookup token: %w", err)
	}

	plaintext, err := s.sealer.Open(sealed)
	if err != nil {
		return Token{}, err
	}
	var token Token
	if err := json.Unmarshal(plaintext, &token); err != nil {
		return Token{}, fmt.Errorf("unmarshal token: %w", err)
	}
	return token, nil
}

func (s *RedisStore) DeleteToken(ctx context.Context, provider string) error {
	if err := s.client.Del(ctx, s.tokenKey(provider)).Err(); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

func (s *RedisStore) SavePending(ctx context.Context, nonce, verifier string, ttl time.Duration) error {
	sealed, err := s.sealer.Seal([]byte(verifier))
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.pendingKey(nonce), sealed, ttl).Err(); err != nil {
		return fmt.Errorf("save pending flow: %w", err)
	}
	return nil
}

func (s *RedisStore) TakePending(ctx context.Context, nonce string) (string, error) {
	sealed, err := s.client.GetDel(ctx, s.pendingKey(nonce)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("take pending flow: %w", err)
	}
	verifier, err := s.sealer.Open(sealed)
	if err != nil {
		return "", err
	}
	return string(verifier), nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
