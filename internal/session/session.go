// Package session stores cloud-provider tokens and pending authorization
// flows.
package session

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("session value not found")

// Token is an OAuth token for one provider.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Valid reports whether the token carries an access token that has not
// expired.
func (t Token) Valid(now time.Time) bool {
	if t.AccessToken == "" {
		return false
	}
	return t.Expiry.IsZero() || now.Before(t.Expiry)
}

// Store holds provider tokens and the PKCE verifiers of authorization flows
// still waiting for their callback.
type Store interface {
	SaveToken(ctx context.Context, provider string, token Token) error
	LoadToken(ctx context.Context, provider string) (Token, error)
	DeleteToken(ctx context.Context, provider string) error
	SavePending(ctx context.Context, nonce, verifier string, ttl time.Duration) error
	// TakePending returns and removes the verifier; a second call fails.
	TakePending(ctx context.Context, nonce string) (string, error)
	Ping(ctx context.Context) error
	Close() error
}
