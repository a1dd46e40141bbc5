package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	xerrors "IntentMCP/internal/errors"
)

// tokenRefreshMargin is subtracted from the reported lifetime so a token is
// refreshed before the backend would reject it.
const tokenRefreshMargin = 30 * time.Second

// TokenSource supplies bearer tokens for backend calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns a fixed token, used for tests and deployments
// where credentials are provisioned out of band.
type StaticTokenSource string

// Token returns the fixed token.
func (s StaticTokenSource) Token(ctx context.Context) (string, error) {
	return string(s), nil
}

// OAuthConfig describes the password-grant credentials for the backend IdP.
type OAuthConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	Scope        string
}

// OAuthTokenSource acquires and caches access tokens using the OAuth2
// password grant. Safe for concurrent use.
type OAuthTokenSource struct {
	cfg        OAuthConfig
	httpClient *http.Client

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewOAuthTokenSource builds a token source. A nil httpClient gets a default
// with a short timeout.
func NewOAuthTokenSource(cfg OAuthConfig, httpClient *http.Client) (*OAuthTokenSource, error) {
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "token URL must not be empty")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &OAuthTokenSource{cfg: cfg, httpClient: httpClient}, nil
}

// Token returns a cached token, refreshing it when within the expiry margin.
func (s *OAuthTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && time.Now().Before(s.expiry) {
		return s.token, nil
	}
	if err := s.refresh(ctx); err != nil {
		return "", err
	}
	return s.token, nil
}

func (s *OAuthTokenSource) refresh(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", s.cfg.Username)
	form.Set("password", s.cfg.Password)
	form.Set("client_id", s.cfg.ClientID)
	form.Set("client_secret", s.cfg.ClientSecret)
	if s.cfg.Scope != "" {
		form.Set("scope", s.cfg.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeUnauthenticated, err, "build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeUnauthenticated, err, "request access token", xerrors.WithRetryable(true))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return xerrors.New(xerrors.CodeUnauthenticated, "token endpoint refused the grant",
			xerrors.WithMetadata("status", resp.Status),
			xerrors.WithMetadata("body", strings.TrimSpace(string(body))))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return xerrors.Wrap(xerrors.CodeUnauthenticated, err, "decode token response")
	}
	if payload.AccessToken == "" {
		return xerrors.New(xerrors.CodeUnauthenticated, "token response missing access_token")
	}
	lifetime := time.Duration(payload.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	s.token = payload.AccessToken
	s.expiry = time.Now().Add(lifetime - tokenRefreshMargin)
	return nil
}

var _ TokenSource = (*OAuthTokenSource)(nil)
