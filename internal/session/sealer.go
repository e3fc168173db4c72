package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

var ErrSealBroken = errors.New("sealed value cannot be opened")

// Sealer encrypts values at rest with NaCl secretbox under a key derived from
// the configured secret.
type Sealer struct {
	key [32]byte
}

func NewSealer(secret string) *Sealer {
	return &Sealer{key: sha256.Sum256([]byte("noteforge-session:" + secret))}
}

// Seal returns base64(nonce || box).
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("seal nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], plaintext, &nonce, &s.key)
	return base64.StdEncoding.EncodeToString(box), nil
}

func (s *Sealer) Open(sealed string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(raw) < 24+secretbox.Overhead {
		return nil, ErrSealBroken
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plaintext, ok := secretbox.Open(nil, raw[24:], &nonce, &s.key)
	if !ok {
		return nil, ErrSealBroken
	}
	return plaintext, nil
}
