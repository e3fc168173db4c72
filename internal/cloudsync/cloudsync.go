// Package cloudsync uploads the whole document collection to one fixed remote
// key. There is no merge and no conflict detection: the last upload wins.
package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"noteforge/api/internal/session"
)

const DefaultPath = "/noteforge-documents.json"

var (
	ErrNotAuthenticated = errors.New("cloud storage not connected")
	ErrSyncFailed       = errors.New("sync failed")
	// ErrRemoteUnauthorized means the remote rejected the stored token.
	ErrRemoteUnauthorized = errors.New("remote rejected credentials")
)

// SyncError reports a failed upload. errors.Is(err, ErrSyncFailed) holds for
// every SyncError.
type SyncError struct {
	Provider string
	Err      error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync to %s: %v", e.Provider, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

func (e *SyncError) Is(target error) bool { return target == ErrSyncFailed }

// Uploader writes one blob to a remote path, replacing what is there.
type Uploader interface {
	Name() string
	Upload(ctx context.Context, accessToken, path string, data []byte) error
}

// TokenSource yields the credential gating an upload. An empty token or
// session.ErrNotFound means not authenticated.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StoreTokens reads the provider token from a session store.
type StoreTokens struct {
	Store    session.Store
	Provider string
	Now      func() time.Time
}

func (s StoreTokens) Token(ctx context.Context) (string, error) {
	token, err := s.Store.LoadToken(ctx, s.Provider)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	if !token.Valid(now()) {
		return "", nil
	}
	return token.AccessToken, nil
}

// StaticToken gates uploaders that authenticate with configured credentials.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// Adapter is the two-step sync contract: check the token, then upload.
type Adapter struct {
	tokens   TokenSource
	uploader Uploader
	path     string
	log      logrus.FieldLogger
}

func NewAdapter(tokens TokenSource, uploader Uploader, path string, log logrus.FieldLogger) *Adapter {
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Adapter{
		tokens:   tokens,
		uploader: uploader,
		path:     path,
		log:      log.WithField("component", "cloudsync"),
	}
}

func (a *Adapter) Path() string { return a.path }

func (a *Adapter) Provider() string { return a.uploader.Name() }

// Authenticated reports whether a token is currently available.
func (a *Adapter) Authenticated(ctx context.Context) bool {
	token, err := a.tokens.Token(ctx)
	return err == nil && token != ""
}

// Sync uploads snapshot, a serialized collection. Without a token it returns
// ErrNotAuthenticated and touches no network.
func (a *Adapter) Sync(ctx context.Context, snapshot []byte) error {
	token, err := a.tokens.Token(ctx)
	if err != nil {
		return &SyncError{Provider: a.uploader.Name(), Err: fmt.Errorf("read token: %w", err)}
	}
	if token == "" {
		return ErrNotAuthenticated
	}

	start := time.Now()
	if err := a.uploader.Upload(ctx, token, a.path, snapshot); err != nil {
		a.log.WithError(err).WithField("path", a.path).Warn("sync upload failed")
		return &SyncError{Provider: a.uploader.Name(), Err: err}
	}
	a.log.WithFields(logrus.Fields{
		"path":        a.path,
		"bytes":       len(snapshot),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("sync uploaded")
	return nil
}
