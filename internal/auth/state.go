// Package auth signs the state parameter of the OAuth redirect flow.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// StateClaims binds an authorization redirect to the flow that started it.
type StateClaims struct {
	Provider string `json:"prv"`
	Nonce    string `json:"nonce"`
	Exp      int64  `json:"exp"`
}

var (
	ErrInvalidState = errors.New("invalid oauth state")
	ErrExpiredState = errors.New("expired oauth state")
)

// NewNonce returns a random URL-safe nonce.
func NewNonce() string {
	buf := make([]byte, 18)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// IssueState signs claims into an opaque "<payload>.<signature>" string.
func IssueState(secret []byte, claims StateClaims) (string, error) {
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	signature := sign(secret, payload)
	return payload + "." + signature, nil
}

// ParseState verifies the signature and expiry of a state string.
func ParseState(secret []byte, state string, now time.Time) (StateClaims, error) {
	parts := strings.Split(state, ".")
	if len(parts) != 2 {
		return StateClaims{}, ErrInvalidState
	}
	payload := parts[0]
	signature := parts[1]

	expected := sign(secret, payload)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return StateClaims{}, ErrInvalidState
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return StateClaims{}, ErrInvalidState
	}

	var claims StateClaims
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return StateClaims{}, ErrInvalidState
	}
	if claims.Provider == "" || claims.Nonce == "" || claims.Exp == 0 {
		return StateClaims{}, ErrInvalidState
	}
	if now.Unix() >= claims.Exp {
		return StateClaims{}, ErrExpiredState
	}
	return claims, nil
}

func sign(secret []byte, payload string) string {
	sum := hmac.New(sha256.New, secret)
	_, _ = sum.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(sum.Sum(nil))
}

// HashToken returns the hex SHA-256 of value, for use as a storage key.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
