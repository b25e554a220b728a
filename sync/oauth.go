// ABOUTME: OAuth credential store for the Google Calendar account link
// ABOUTME: Handles the auth-code flow, token storage at XDG paths, and coordinated refresh
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
	"github.com/oklog/ulid/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/harperreed/calsync/models"
)

const (
	// DefaultRedirectURL is where Google sends the user after consent.
	DefaultRedirectURL = "http://localhost:34115/oauth2/callback"
	// DefaultRefreshMargin is how close to expiry an access token gets refreshed.
	DefaultRefreshMargin = 60 * time.Second
	// refreshTimeout bounds a shared refresh, which outlives the caller that started it.
	refreshTimeout = 30 * time.Second

	googleRevokeURL = "https://oauth2.googleapis.com/revoke"
)

// Scopes requested during authorization.
var Scopes = []string{
	"https://www.googleapis.com/auth/calendar.events",
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// NewOAuthConfig creates the OAuth2 config for Google Calendar.
func NewOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	if redirectURL == "" {
		redirectURL = DefaultRedirectURL
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
		Endpoint:     google.Endpoint,
	}
}

// TokenPath returns XDG-compliant path for storing OAuth tokens.
func TokenPath() string {
	return filepath.Join(xdg.DataHome, "calsync", "google-credentials.json")
}

// CredentialOptions configures a CredentialStore. Zero values pick the defaults.
type CredentialOptions struct {
	ClientID      string
	ClientSecret  string
	RedirectURL   string
	TokenPath     string
	RefreshMargin time.Duration
	Logger        *log.Logger

	// Overrides for tests and self-hosted proxies.
	HTTPClient      *http.Client
	Endpoint        *oauth2.Endpoint
	UserInfoBaseURL string
	RevokeURL       string
}

// CredentialStore persists the OAuth credential and keeps the access token fresh.
type CredentialStore struct {
	config          *oauth2.Config
	path            string
	margin          time.Duration
	logger          *log.Logger
	httpClient      *http.Client
	userInfoBaseURL string
	revokeURL       string
	now             func() time.Time

	mu     sync.Mutex
	cred   *models.Credential
	loaded bool
	// generation changes whenever the credential is replaced or cleared, so
	// a refresh that started before a logout cannot write the old grant back.
	generation uint64

	refreshes singleflight.Group
}

// NewCredentialStore creates a credential store. Nothing is read from disk
// until the credential is first needed.
func NewCredentialStore(opts CredentialOptions) *CredentialStore {
	config := NewOAuthConfig(opts.ClientID, opts.ClientSecret, opts.RedirectURL)
	if opts.Endpoint != nil {
		config.Endpoint = *opts.Endpoint
	}

	s := &CredentialStore{
		config:          config,
		path:            opts.TokenPath,
		margin:          opts.RefreshMargin,
		logger:          opts.Logger,
		httpClient:      opts.HTTPClient,
		userInfoBaseURL: opts.UserInfoBaseURL,
		revokeURL:       opts.RevokeURL,
		now:             time.Now,
	}
	if s.path == "" {
		s.path = TokenPath()
	}
	if s.margin <= 0 {
		s.margin = DefaultRefreshMargin
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.revokeURL == "" {
		s.revokeURL = googleRevokeURL
	}
	return s
}

// ClientConfigured reports whether an OAuth client id and secret are set.
func (s *CredentialStore) ClientConfigured() bool {
	return s.config.ClientID != "" && s.config.ClientSecret != ""
}

// RedirectURL returns the configured OAuth redirect URI.
func (s *CredentialStore) RedirectURL() string {
	return s.config.RedirectURL
}

// NewState returns a fresh anti-replay state token.
func NewState() string {
	return ulid.Make().String()
}

// BeginAuthorization builds the consent URL embedding state.
func (s *CredentialStore) BeginAuthorization(state string) (string, error) {
	if !s.ClientConfigured() {
		return "", ErrClientNotConfigured
	}
	if strings.TrimSpace(state) == "" {
		return "", fmt.Errorf("authorization state must not be empty")
	}
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

func (s *CredentialStore) clientContext(ctx context.Context) context.Context {
	if s.httpClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	}
	return ctx
}

// ExchangeCode trades an authorization code for a credential and persists it.
func (s *CredentialStore) ExchangeCode(ctx context.Context, code string) (*models.Credential, error) {
	if !s.ClientConfigured() {
		return nil, ErrClientNotConfigured
	}
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: empty code", ErrInvalidGrant)
	}

	tok, err := s.config.Exchange(s.clientContext(ctx), code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "invalid_grant" {
			return nil, fmt.Errorf("%w: %s", ErrInvalidGrant, retrieveErr.ErrorDescription)
		}
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	cred := &models.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
		Scope:        extraString(tok, "scope"),
		IDToken:      extraString(tok, "id_token"),
	}

	previous, err := s.CurrentCredential()
	if err != nil {
		s.logger.Warn("could not read stored credential, replacing it", "err", err)
	}
	if cred.RefreshToken == "" && previous != nil {
		cred.RefreshToken = previous.RefreshToken
	}

	if info, err := s.fetchUserInfo(ctx, tok); err != nil {
		s.logger.Warn("could not fetch google profile", "err", err)
		if previous != nil {
			cred.Email, cred.Name, cred.Picture = previous.Email, previous.Name, previous.Picture
		}
	} else {
		cred.Email, cred.Name, cred.Picture = info.Email, info.Name, info.Picture
	}

	if err := s.replace(cred); err != nil {
		return nil, err
	}
	s.logger.Info("connected google account", "email", cred.Email)

	out := *cred
	return &out, nil
}

func (s *CredentialStore) fetchUserInfo(ctx context.Context, tok *oauth2.Token) (*oauth2api.Userinfo, error) {
	client := oauth2.NewClient(s.clientContext(ctx), oauth2.StaticTokenSource(tok))
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if s.userInfoBaseURL != "" {
		opts = append(opts, option.WithEndpoint(s.userInfoBaseURL))
	}

	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo service: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch userinfo: %w", err)
	}
	return info, nil
}

// CurrentCredential returns a copy of the stored credential, or nil when
// the account is not connected.
func (s *CredentialStore) CurrentCredential() (*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	if s.cred == nil {
		return nil, nil
	}
	out := *s.cred
	return &out, nil
}

func (s *CredentialStore) fresh(cred *models.Credential) bool {
	if cred.AccessToken == "" {
		return false
	}
	if cred.Expiry.IsZero() {
		return true
	}
	return s.now().Add(s.margin).Before(cred.Expiry)
}

// EnsureFreshAccessToken returns a valid access token, refreshing it when it
// is within the refresh margin. Concurrent callers share one refresh; a
// caller whose ctx ends stops waiting without failing the others.
func (s *CredentialStore) EnsureFreshAccessToken(ctx context.Context) (string, error) {
	cred, err := s.CurrentCredential()
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", ErrUnauthenticated
	}
	if s.fresh(cred) {
		return cred.AccessToken, nil
	}

	ch := s.refreshes.DoChan("refresh", func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		// A refresh that finished while we waited is good enough.
		cred, generation, err := s.snapshot()
		if err != nil {
			return "", err
		}
		if cred == nil {
			return "", ErrUnauthenticated
		}
		if s.fresh(cred) {
			return cred.AccessToken, nil
		}
		return s.refresh(rctx, cred, generation)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// snapshot returns a copy of the credential and the generation it belongs to.
func (s *CredentialStore) snapshot() (*models.Credential, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, 0, err
	}
	if s.cred == nil {
		return nil, s.generation, nil
	}
	out := *s.cred
	return &out, s.generation, nil
}

func (s *CredentialStore) refresh(ctx context.Context, cred *models.Credential, generation uint64) (string, error) {
	if cred.RefreshToken == "" {
		s.logger.Warn("access token expired and no refresh token stored")
		_ = s.clearIfCurrent(generation)
		return "", ErrReauthorizationRequired
	}
	if !s.ClientConfigured() {
		return "", ErrClientNotConfigured
	}

	src := s.config.TokenSource(s.clientContext(ctx), &oauth2.Token{RefreshToken: cred.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && isRejectedGrant(retrieveErr) {
			s.logger.Warn("refresh token rejected, clearing credential", "code", retrieveErr.ErrorCode)
			_ = s.clearIfCurrent(generation)
			return "", fmt.Errorf("%w: %s", ErrReauthorizationRequired, retrieveErr.ErrorCode)
		}
		return "", fmt.Errorf("%w: failed to refresh access token: %w", ErrUnauthenticated, err)
	}

	updated := *cred
	updated.AccessToken = tok.AccessToken
	updated.Expiry = tok.Expiry
	if tok.TokenType != "" {
		updated.TokenType = tok.TokenType
	}
	if tok.RefreshToken != "" {
		updated.RefreshToken = tok.RefreshToken
	}
	if scope := extraString(tok, "scope"); scope != "" {
		updated.Scope = scope
	}

	stored, err := s.storeIfCurrent(&updated, generation)
	if err != nil {
		return "", err
	}
	if !stored {
		s.logger.Info("credential changed during refresh, discarding refreshed token")
		return "", fmt.Errorf("%w: credential changed during refresh", ErrUnauthenticated)
	}
	s.logger.Debug("refreshed access token", "expires", updated.Expiry.Format(time.RFC3339))
	return updated.AccessToken, nil
}

func isRejectedGrant(err *oauth2.RetrieveError) bool {
	if err.ErrorCode == "invalid_grant" || err.ErrorCode == "unauthorized_client" {
		return true
	}
	return err.Response != nil &&
		(err.Response.StatusCode == http.StatusBadRequest || err.Response.StatusCode == http.StatusUnauthorized)
}

// TokenSource adapts the store to oauth2.TokenSource for API clients.
func (s *CredentialStore) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &credentialTokenSource{ctx: ctx, store: s}
}

type credentialTokenSource struct {
	ctx   context.Context
	store *CredentialStore
}

func (t *credentialTokenSource) Token() (*oauth2.Token, error) {
	access, err := t.store.EnsureFreshAccessToken(t.ctx)
	if err != nil {
		return nil, err
	}
	cred, err := t.store.CurrentCredential()
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{AccessToken: access, TokenType: "Bearer"}
	if cred != nil {
		tok.Expiry = cred.Expiry
	}
	return tok, nil
}

// Logout revokes the grant at Google (best effort) and drops the credential.
func (s *CredentialStore) Logout(ctx context.Context) error {
	cred, err := s.CurrentCredential()
	if err != nil {
		return err
	}
	if cred != nil {
		token := cred.RefreshToken
		if token == "" {
			token = cred.AccessToken
		}
		if err := s.revoke(ctx, token); err != nil {
			s.logger.Warn("token revocation failed", "err", err)
		}
	}
	return s.clear()
}

func (s *CredentialStore) revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.revokeURL,
		strings.NewReader(url.Values{"token": {token}}.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := s.httpClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("revoke returned %s", resp.Status)
	}
	return nil
}

// Status reports the non-secret view of the credential. No network calls.
func (s *CredentialStore) Status() models.CredentialStatus {
	status := models.CredentialStatus{ClientConfigured: s.ClientConfigured()}

	cred, err := s.CurrentCredential()
	if err != nil || cred == nil {
		return status
	}

	status.Connected = cred.AccessToken != "" || cred.RefreshToken != ""
	status.HasRefreshToken = cred.RefreshToken != ""
	status.Scope = cred.Scope
	status.UserEmail = cred.Email
	status.UserName = cred.Name
	status.Picture = cred.Picture
	if !cred.Expiry.IsZero() {
		expiry := cred.Expiry
		status.ExpiresAt = &expiry
	}
	return status
}

func (s *CredentialStore) loadLocked() error {
	if s.loaded {
		return nil
	}
	cred, err := LoadCredential(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return err
	}
	s.cred = cred
	s.loaded = true
	return nil
}

// replace installs a new credential, superseding any refresh in flight.
func (s *CredentialStore) replace(cred *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := SaveCredential(s.path, cred); err != nil {
		return err
	}
	c := *cred
	s.cred = &c
	s.loaded = true
	s.generation++
	return nil
}

// storeIfCurrent persists a refreshed credential unless the credential was
// replaced or cleared after generation was read.
func (s *CredentialStore) storeIfCurrent(cred *models.Credential, generation uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != generation {
		return false, nil
	}
	if err := SaveCredential(s.path, cred); err != nil {
		return false, err
	}
	c := *cred
	s.cred = &c
	s.loaded = true
	return true, nil
}

func (s *CredentialStore) clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked()
}

// clearIfCurrent drops the credential a failed refresh was working on, but
// leaves a newer one alone.
func (s *CredentialStore) clearIfCurrent(generation uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != generation {
		return nil
	}
	return s.clearLocked()
}

func (s *CredentialStore) clearLocked() error {
	s.generation++
	s.cred = nil
	s.loaded = true
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove credential file: %w", err)
	}
	return nil
}

// SaveCredential writes the credential atomically with owner-only permissions.
func SaveCredential(path string, cred *models.Credential) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".credentials-*.json")
	if err != nil {
		return fmt.Errorf("failed to create token file: %w", err)
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	if err := json.NewEncoder(f).Encode(cred); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync token file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close token file: %w", err)
	}
	if err := os.Chmod(tmp, 0600); err != nil {
		return fmt.Errorf("failed to set token file permissions: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}

// LoadCredential reads a credential written by SaveCredential.
func LoadCredential(path string) (*models.Credential, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open token file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var cred models.Credential
	if err := json.NewDecoder(f).Decode(&cred); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return &cred, nil
}

func extraString(tok *oauth2.Token, key string) string {
	if v, ok := tok.Extra(key).(string); ok {
		return v
	}
	return ""
}
