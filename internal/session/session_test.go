package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), NewSealer("test-secret"))
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, s
}

func stores(t *testing.T) map[string]Store {
	redisStore, _ := setupTestRedis(t)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  redisStore,
	}
}

func TestSaveAndLoadToken(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.LoadToken(ctx, "dropbox"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			want := Token{AccessToken: "at-1", RefreshToken: "rt-1", TokenType: "bearer", CreatedAt: time.Now().UTC().Truncate(time.Second)}
			if err := store.SaveToken(ctx, "dropbox", want); err != nil {
				t.Fatalf("SaveToken failed: %v", err)
			}
			got, err := store.LoadToken(ctx, "dropbox")
			if err != nil {
				t.Fatalf("LoadToken failed: %v", err)
			}
			if got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken {
				t.Fatalf("unexpected token: %+v", got)
			}

			if err := store.DeleteToken(ctx, "dropbox"); err != nil {
				t.Fatalf("DeleteToken failed: %v", err)
			}
			if _, err := store.LoadToken(ctx, "dropbox"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound after delete, got %v", err)
			}
			if err := store.DeleteToken(ctx, "dropbox"); err != nil {
				t.Fatalf("deleting a missing token should not fail: %v", err)
			}
		})
	}
}

func TestPendingIsSingleUse(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.SavePending(ctx, "nonce-1", "verifier-1", time.Minute); err != nil {
				t.Fatalf("SavePending failed: %v", err)
			}
			got, err := store.TakePending(ctx, "nonce-1")
			if err != nil || got != "verifier-1" {
				t.Fatalf("TakePending = %q, %v", got, err)
			}
			if _, err := store.TakePending(ctx, "nonce-1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("second take should fail, got %v", err)
			}
		})
	}
}

func TestRedisPendingExpires(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()
	if err := store.SavePending(ctx, "nonce", "verifier", time.Second); err != nil {
		t.Fatal(err)
	}
	s.FastForward(2 * time.Second)
	if _, err := store.TakePending(ctx, "nonce"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestMemoryPendingExpires(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	_ = store.SavePending(context.Background(), "nonce", "verifier", time.Second)
	now = now.Add(2 * time.Second)
	if _, err := store.TakePending(context.Background(), "nonce"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestRedisTokensAreSealedAtRest(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()
	if err := store.SaveToken(ctx, "dropbox", Token{AccessToken: "super-secret-token"}); err != nil {
		t.Fatal(err)
	}
	raw, err := s.Get("noteforge:token:dropbox")
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	if strings.Contains(raw, "super-secret-token") {
		t.Fatal("token stored in plaintext")
	}
}

func TestRedisRejectsForeignSealer(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()
	if err := store.SaveToken(ctx, "dropbox", Token{AccessToken: "at"}); err != nil {
		t.Fatal(err)
	}
	other := NewRedisStoreWithClient(store.client, NewSealer("different"))
	if _, err := other.LoadToken(ctx, "dropbox"); !errors.Is(err, ErrSealBroken) {
		t.Fatalf("expected ErrSealBroken, got %v", err)
	}
}

func TestSealerRoundTrip(t *testing.T) {
	sealer := NewSealer("k")
	sealed, err := sealer.Seal([]byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	again, _ := sealer.Seal([]byte("hello"))
	if sealed == again {
		t.Fatal("seal should use a fresh nonce")
	}
	opened, err := sealer.Open(sealed)
	if err != nil || string(opened) != "hello" {
		t.Fatalf("Open = %q, %v", opened, err)
	}
	if _, err := sealer.Open("not base64!"); !errors.Is(err, ErrSealBroken) {
		t.Fatalf("expected ErrSealBroken, got %v", err)
	}
}

func TestTokenValid(t *testing.T) {
	now := time.Now()
	if (Token{}).Valid(now) {
		t.Fatal("empty token is not valid")
	}
	if !(Token{AccessToken: "a"}).Valid(now) {
		t.Fatal("token without expiry is valid")
	}
	if (Token{AccessToken: "a", Expiry: now.Add(-time.Second)}).Valid(now) {
		t.Fatal("expired token is not valid")
	}
}
