package auth

import (
	"context"
	"crypto/subtle"
	"strings"

	xerrors "IntentMCP/internal/errors"
)

// Mode selects how the service treats incoming credentials.
type Mode string

const (
	// ModeDisabled skips credential checks entirely. Development only.
	ModeDisabled Mode = "disabled"
	// ModeStatic validates bearer tokens against the configured allow-list.
	// It stands in for an external identity provider: token verification is
	// delegated, the service only checks presence, format and membership.
	ModeStatic Mode = "static"
)

var (
	// ErrMissingToken indicates no Authorization header was supplied.
	ErrMissingToken = xerrors.New(xerrors.CodeUnauthenticated, "missing bearer token")
	// ErrMalformedToken indicates the header was not a bearer credential.
	ErrMalformedToken = xerrors.New(xerrors.CodeUnauthenticated, "malformed authorization header")
	// ErrInvalidToken indicates the token is not in the allow-list.
	ErrInvalidToken = xerrors.New(xerrors.CodeUnauthenticated, "invalid bearer token")
)

// Config describes the auth service settings.
type Config struct {
	Mode   Mode
	Tokens []TokenEntry
}

// TokenEntry binds a static token to a subject name for audit purposes.
type TokenEntry struct {
	Subject string
	Token   string
}

// Subject identifies the authenticated caller.
type Subject struct {
	Name string
}

// Service validates bearer credentials for the tool surface.
type Service struct {
	mode   Mode
	tokens []TokenEntry
}

// NewService builds an auth service from the configuration.
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(string(cfg.Mode)))
	switch mode {
	case "", ModeStatic:
		mode = ModeStatic
		if len(cfg.Tokens) == 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "static auth mode requires at least one token")
		}
	case ModeDisabled:
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "unsupported auth mode: "+string(cfg.Mode))
	}
	return &Service{mode: mode, tokens: cfg.Tokens}, nil
}

// Mode returns the active mode.
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// Authenticate checks the Authorization header value and returns the caller.
func (s *Service) Authenticate(ctx context.Context, header string) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		return &Subject{Name: "anonymous"}, nil
	}
	token, err := ExtractBearer(header)
	if err != nil {
		return nil, err
	}
	for _, entry := range s.tokens {
		if subtle.ConstantTimeCompare([]byte(entry.Token), []byte(token)) == 1 {
			name := entry.Subject
			if name == "" {
				name = "static"
			}
			return &Subject{Name: name}, nil
		}
	}
	return nil, ErrInvalidToken
}

// ExtractBearer validates presence and format of a bearer credential and
// returns the raw token.
func ExtractBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrMalformedToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", ErrMalformedToken
	}
	return token, nil
}
