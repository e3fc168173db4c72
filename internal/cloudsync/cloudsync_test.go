package cloudsync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noteforge/api/internal/session"
)

// countingTransport counts every request that would leave the process.
type countingTransport struct {
	calls atomic.Int32
	next  http.RoundTripper
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return c.next.RoundTrip(req)
}

func TestSyncWithoutTokenMakesNoNetworkCalls(t *testing.T) {
	transport := &countingTransport{next: http.DefaultTransport}
	uploader := NewDropboxUploader("http://127.0.0.1:1", &http.Client{Transport: transport})
	tokens := StoreTokens{Store: session.NewMemoryStore(), Provider: ProviderDropbox}
	adapter := NewAdapter(tokens, uploader, "", nil)

	err := adapter.Sync(context.Background(), []byte(`[]`))
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.False(t, errors.Is(err, ErrSyncFailed))
	assert.Equal(t, int32(0), transport.calls.Load())
	assert.False(t, adapter.Authenticated(context.Background()))
}

func TestSyncWithExpiredTokenIsNotAuthenticated(t *testing.T) {
	store := session.NewMemoryStore()
	require.NoError(t, store.SaveToken(context.Background(), ProviderDropbox, session.Token{
		AccessToken: "old", Expiry: time.Now().Add(-time.Minute),
	}))
	transport := &countingTransport{next: http.DefaultTransport}
	adapter := NewAdapter(StoreTokens{Store: store, Provider: ProviderDropbox},
		NewDropboxUploader("http://127.0.0.1:1", &http.Client{Transport: transport}), "", nil)

	assert.ErrorIs(t, adapter.Sync(context.Background(), []byte(`[]`)), ErrNotAuthenticated)
	assert.Equal(t, int32(0), transport.calls.Load())
}

func TestSyncUploadsWholeSnapshotWithOverwrite(t *testing.T) {
	var (
		mu       sync.Mutex
		gotAuth  string
		gotArg   dropboxUploadArg
		gotBody  string
		gotPath  string
		requests int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		requests++
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.Unmarshal([]byte(r.Header.Get("Dropbox-API-Arg")), &gotArg)
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"noteforge-documents.json"}`))
	}))
	defer srv.Close()

	store := session.NewMemoryStore()
	require.NoError(t, store.SaveToken(context.Background(), ProviderDropbox, session.Token{AccessToken: "tok-1"}))
	adapter := NewAdapter(StoreTokens{Store: store, Provider: ProviderDropbox}, NewDropboxUploader(srv.URL, srv.Client()), "", nil)

	snapshot := []byte(`[{"id":"a"},{"id":"b"}]`)
	require.NoError(t, adapter.Sync(context.Background(), snapshot))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, requests)
	assert.Equal(t, "/2/files/upload", gotPath)
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, DefaultPath, gotArg.Path)
	assert.Equal(t, "overwrite", gotArg.Mode)
	assert.Equal(t, string(snapshot), gotBody)
}

func TestSyncRemoteFailures(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		unauthorized bool
	}{
		{name: "server error", status: http.StatusInternalServerError},
		{name: "rejected token", status: http.StatusUnauthorized, unauthorized: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			adapter := NewAdapter(StaticToken("tok"), NewDropboxUploader(srv.URL, srv.Client()), "custom.json", nil)
			assert.Equal(t, "/custom.json", adapter.Path())

			err := adapter.Sync(context.Background(), []byte(`[]`))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSyncFailed)
			var syncErr *SyncError
			require.ErrorAs(t, err, &syncErr)
			assert.Equal(t, "dropbox", syncErr.Provider)
			assert.Equal(t, tt.unauthorized, errors.Is(err, ErrRemoteUnauthorized))
		})
	}
}

func TestMinioUploaderPutsObject(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		method = r.Method
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	uploader, err := NewMinioUploader(MinioConfig{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		Bucket:    "notes",
		AccessKey: "ak",
		SecretKey: "sk",
		Region:    "us-east-1",
	})
	require.NoError(t, err)

	adapter := NewAdapter(StaticToken("configured"), uploader, DefaultPath, nil)
	require.NoError(t, adapter.Sync(context.Background(), []byte(`[]`)))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/notes/noteforge-documents.json", path)
	// the body may be aws-chunked when the endpoint is not TLS
	assert.Contains(t, body, "[]")
}

// tokenServer fakes the OAuth token endpoint.
type tokenServer struct {
	*httptest.Server
	mu    sync.Mutex
	forms []url.Values
}

func newTokenServer(t *testing.T) *tokenServer {
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		ts.mu.Lock()
		ts.forms = append(ts.forms, r.PostForm)
		ts.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			_, _ = w.Write([]byte(`{"access_token":"at-1","token_type":"bearer","expires_in":14400,"refresh_token":"rt-1"}`))
		case "refresh_token":
			_, _ = w.Write([]byte(`{"access_token":"at-2","token_type":"bearer","expires_in":14400}`))
		default:
			http.Error(w, `{"error":"unsupported_grant_type"}`, http.StatusBadRequest)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) lastForm() url.Values {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.forms[len(ts.forms)-1]
}

func newTestAuth(ts *tokenServer, store session.Store) *DropboxAuth {
	return NewDropboxAuth(DropboxAuthConfig{
		Secret:      []byte("secret"),
		RedirectURL: "http://localhost:8787/api/dropbox/callback",
		AuthURL:     "https://dropbox.test/oauth2/authorize",
		TokenURL:    ts.URL + "/oauth2/token",
		HTTPClient:  ts.Client(),
	}, store)
}

func TestDropboxAuthFlow(t *testing.T) {
	ts := newTokenServer(t)
	store := session.NewMemoryStore()
	a := newTestAuth(ts, store)
	ctx := context.Background()

	_, err := a.AuthorizeURL(ctx, "")
	assert.ErrorIs(t, err, ErrMissingClientID)

	raw, err := a.AuthorizeURL(ctx, "app-key")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "app-key", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.Equal(t, "offline", q.Get("token_access_type"))
	state := q.Get("state")
	require.NotEmpty(t, state)

	tok, err := a.Exchange(ctx, "app-key", "auth-code", state)
	require.NoError(t, err)
	assert.Equal(t, "at-1", tok.AccessToken)
	assert.NotEqual(t, "auth-code", tok.AccessToken)

	form := ts.lastForm()
	assert.Equal(t, "auth-code", form.Get("code"))
	assert.NotEmpty(t, form.Get("code_verifier"))

	stored, err := store.LoadToken(ctx, ProviderDropbox)
	require.NoError(t, err)
	assert.Equal(t, "at-1", stored.AccessToken)
	assert.Equal(t, "rt-1", stored.RefreshToken)

	_, err = a.Exchange(ctx, "app-key", "auth-code", state)
	assert.ErrorIs(t, err, ErrInvalidCallback)
}

func TestDropboxAuthRejectsForgedState(t *testing.T) {
	ts := newTokenServer(t)
	a := newTestAuth(ts, session.NewMemoryStore())
	_, err := a.Exchange(context.Background(), "app-key", "code", "forged.state")
	assert.ErrorIs(t, err, ErrInvalidCallback)
	_, err = a.Exchange(context.Background(), "app-key", "", "x")
	assert.ErrorIs(t, err, ErrInvalidCallback)
}

func TestRefreshingTokens(t *testing.T) {
	ts := newTokenServer(t)
	store := session.NewMemoryStore()
	a := newTestAuth(ts, store)
	ctx := context.Background()
	clientID := func() string { return "app-key" }

	got, err := a.Tokens(clientID).Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", got)

	require.NoError(t, store.SaveToken(ctx, ProviderDropbox, session.Token{
		AccessToken: "at-old", RefreshToken: "rt-1", Expiry: time.Now().Add(-time.Minute),
	}))
	got, err = a.Tokens(clientID).Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "at-2", got)
	assert.Equal(t, "rt-1", ts.lastForm().Get("refresh_token"))

	stored, err := store.LoadToken(ctx, ProviderDropbox)
	require.NoError(t, err)
	assert.Equal(t, "at-2", stored.AccessToken)
	assert.Equal(t, "rt-1", stored.RefreshToken)

	require.NoError(t, a.Disconnect(ctx))
	got, err = a.Tokens(clientID).Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestRefreshFailureIsLogged(t *testing.T) {
	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	t.Cleanup(rejecting.Close)

	logger, hook := logtest.NewNullLogger()
	store := session.NewMemoryStore()
	a := NewDropboxAuth(DropboxAuthConfig{
		Secret:     []byte("secret"),
		TokenURL:   rejecting.URL + "/oauth2/token",
		HTTPClient: rejecting.Client(),
		Logger:     logger,
	}, store)
	ctx := context.Background()
	require.NoError(t, store.SaveToken(ctx, ProviderDropbox, session.Token{
		AccessToken: "at-old", RefreshToken: "rt-revoked", Expiry: time.Now().Add(-time.Minute),
	}))

	got, err := a.Tokens(func() string { return "app-key" }).Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", got)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "dropbox token refresh failed", entry.Message)
	assert.Equal(t, "dropbox_auth", entry.Data["component"])
	assert.Contains(t, entry.Data[logrus.ErrorKey].(error).Error(), "invalid_grant")
}
