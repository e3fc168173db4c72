package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIssueAndParseState(t *testing.T) {
	secret := []byte("secret")
	now := time.Now()
	issued, err := IssueState(secret, StateClaims{
		Provider: "dropbox",
		Nonce:    "n-1",
		Exp:      now.Add(time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueState() error = %v", err)
	}
	claims, err := ParseState(secret, issued, now)
	if err != nil {
		t.Fatalf("ParseState() error = %v", err)
	}
	if claims.Provider != "dropbox" || claims.Nonce != "n-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseStateRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	now := time.Now()
	issued, err := IssueState(secret, StateClaims{Provider: "dropbox", Nonce: "n", Exp: now.Add(-time.Second).Unix()})
	if err != nil {
		t.Fatalf("IssueState() error = %v", err)
	}
	if _, err := ParseState(secret, issued, now); !errors.Is(err, ErrExpiredState) {
		t.Fatalf("expected ErrExpiredState, got %v", err)
	}
}

func TestParseStateRejectsTampering(t *testing.T) {
	secret := []byte("secret")
	now := time.Now()
	issued, err := IssueState(secret, StateClaims{Provider: "dropbox", Nonce: "n", Exp: now.Add(time.Minute).Unix()})
	if err != nil {
		t.Fatalf("IssueState() error = %v", err)
	}

	cases := map[string]string{
		"wrong secret": issued,
		"no signature": strings.Split(issued, ".")[0],
		"garbage":      "a.b.c",
		"flipped":      "x" + issued[1:],
	}
	for name, state := range cases {
		key := secret
		if name == "wrong secret" {
			key = []byte("other")
		}
		if _, err := ParseState(key, state, now); !errors.Is(err, ErrInvalidState) {
			t.Errorf("%s: expected ErrInvalidState, got %v", name, err)
		}
	}
}

func TestParseStateRequiresClaims(t *testing.T) {
	secret := []byte("secret")
	issued, _ := IssueState(secret, StateClaims{Provider: "dropbox", Exp: time.Now().Add(time.Minute).Unix()})
	if _, err := ParseState(secret, issued, time.Now()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for missing nonce, got %v", err)
	}
}

func TestNewNonceIsRandom(t *testing.T) {
	if NewNonce() == NewNonce() {
		t.Fatal("nonces should differ")
	}
}
