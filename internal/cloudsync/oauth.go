package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"noteforge/api/internal/auth"
	"noteforge/api/internal/session"
)

const ProviderDropbox = "dropbox"

var (
	ErrMissingClientID = errors.New("dropbox app key is not set")
	ErrInvalidCallback = errors.New("invalid authorization callback")
)

// DropboxAuthConfig configures the authorization-code flow.
type DropboxAuthConfig struct {
	Secret       []byte
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	StateTTL     time.Duration
	// HTTPClient overrides the client used for the token endpoint.
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
}

// DropboxAuth runs the redirect flow with PKCE. The callback's code is
// exchanged for a token at the token endpoint; the code itself is never
// stored.
type DropboxAuth struct {
	cfg      DropboxAuthConfig
	sessions session.Store
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewDropboxAuth(cfg DropboxAuthConfig, sessions session.Store) *DropboxAuth {
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 10 * time.Minute
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = "https://www.dropbox.com/oauth2/authorize"
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = "https://api.dropboxapi.com/oauth2/token"
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &DropboxAuth{
		cfg:      cfg,
		sessions: sessions,
		log:      log.WithField("component", "dropbox_auth"),
		now:      time.Now,
	}
}

func (a *DropboxAuth) oauthConfig(clientID string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: a.cfg.ClientSecret,
		RedirectURL:  a.cfg.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   a.cfg.AuthURL,
			TokenURL:  a.cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (a *DropboxAuth) context(ctx context.Context) context.Context {
	if a.cfg.HTTPClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, a.cfg.HTTPClient)
	}
	return ctx
}

// AuthorizeURL starts a flow for the app key and returns where to send the
// user.
func (a *DropboxAuth) AuthorizeURL(ctx context.Context, clientID string) (string, error) {
	if clientID == "" {
		return "", ErrMissingClientID
	}
	nonce := auth.NewNonce()
	state, err := auth.IssueState(a.cfg.Secret, auth.StateClaims{
		Provider: ProviderDropbox,
		Nonce:    nonce,
		Exp:      a.now().Add(a.cfg.StateTTL).Unix(),
	})
	if err != nil {
		return "", err
	}

	verifier := oauth2.GenerateVerifier()
	if err := a.sessions.SavePending(ctx, nonce, verifier, a.cfg.StateTTL); err != nil {
		return "", fmt.Errorf("save pending flow: %w", err)
	}

	return a.oauthConfig(clientID).AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("token_access_type", "offline"),
	), nil
}

// Exchange completes the flow started by AuthorizeURL and stores the token.
func (a *DropboxAuth) Exchange(ctx context.Context, clientID, code, state string) (session.Token, error) {
	if clientID == "" {
		return session.Token{}, ErrMissingClientID
	}
	if code == "" {
		return session.Token{}, fmt.Errorf("%w: missing code", ErrInvalidCallback)
	}
	claims, err := auth.ParseState(a.cfg.Secret, state, a.now())
	if err != nil {
		return session.Token{}, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}
	if claims.Provider != ProviderDropbox {
		return session.Token{}, fmt.Errorf("%w: wrong provider", ErrInvalidCallback)
	}
	verifier, err := a.sessions.TakePending(ctx, claims.Nonce)
	if err != nil {
		return session.Token{}, fmt.Errorf("%w: flow expired or already used", ErrInvalidCallback)
	}

	tok, err := a.oauthConfig(clientID).Exchange(a.context(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return session.Token{}, fmt.Errorf("exchange code: %w", err)
	}

	stored := fromOAuth(tok, a.now())
	if err := a.sessions.SaveToken(ctx, ProviderDropbox, stored); err != nil {
		return session.Token{}, fmt.Errorf("save token: %w", err)
	}
	return stored, nil
}

// Disconnect forgets the stored token.
func (a *DropboxAuth) Disconnect(ctx context.Context) error {
	return a.sessions.DeleteToken(ctx, ProviderDropbox)
}

// Tokens returns a TokenSource that refreshes an expired token when a refresh
// token is available. clientID is read on every call so a changed app key
// takes effect immediately.
func (a *DropboxAuth) Tokens(clientID func() string) TokenSource {
	return &refreshingTokens{auth: a, clientID: clientID}
}

type refreshingTokens struct {
	auth     *DropboxAuth
	clientID func() string
}

func (r *refreshingTokens) Token(ctx context.Context) (string, error) {
	a := r.auth
	stored, err := a.sessions.LoadToken(ctx, ProviderDropbox)
	if errors.Is(err, session.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if stored.Valid(a.now()) {
		return stored.AccessToken, nil
	}
	clientID := r.clientID()
	if stored.RefreshToken == "" || clientID == "" {
		return "", nil
	}

	source := a.oauthConfig(clientID).TokenSource(a.context(ctx), &oauth2.Token{
		RefreshToken: stored.RefreshToken,
		Expiry:       time.Unix(1, 0),
	})
	tok, err := source.Token()
	if err != nil {
		// Reported as not connected; the client offers the connect flow again.
		a.log.WithError(err).Warn("dropbox token refresh failed")
		return "", nil
	}
	refreshed := fromOAuth(tok, a.now())
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = stored.RefreshToken
	}
	if err := a.sessions.SaveToken(ctx, ProviderDropbox, refreshed); err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

func fromOAuth(tok *oauth2.Token, now time.Time) session.Token {
	return session.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
		CreatedAt:    now.UTC(),
	}
}
