package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// ErrAuthFailed marks any failure to obtain credentials from a backend.
// It is fatal to a reconciliation pass.
var ErrAuthFailed = errors.New("auth: credential acquisition failed")

// Token is a bearer credential for one backend.
type Token struct {
	AccessToken string
	TokenType   string

	// InstanceURL is the API base the token is valid for (CRM only).
	InstanceURL string
	// IdentityURL identifies the authenticated user (CRM only),
	// e.g. https://login.example.com/id/00DABC/005XYZ.
	IdentityURL string

	ExpiresAt time.Time
}

// TokenSource hands out a valid bearer token.
type TokenSource interface {
	Token(ctx context.Context) (Token, error)
	// Invalidate drops any cached token (call after a 401).
	Invalidate()
}

// CachedSource adapts an oauth2 exchange to TokenSource. Tokens are reused
// until a minute before expiry and concurrent callers that miss share one
// exchange.
type CachedSource struct {
	exchange oauth2.TokenSource
	skew     time.Duration
	validate func(Token) error

	mu    sync.Mutex
	reuse oauth2.TokenSource
}

// NewCachedSource wraps exchange. Tokens returned without an expiry are
// treated as valid for ttl; ttl <= 0 keeps them until Invalidate.
func NewCachedSource(exchange oauth2.TokenSource, ttl time.Duration) *CachedSource {
	s := &CachedSource{exchange: defaultExpiry{src: exchange, ttl: ttl}, skew: time.Minute}
	s.reuse = oauth2.ReuseTokenSourceWithExpiry(nil, s.exchange, s.skew)
	return s
}

// Token returns the cached token or performs an exchange. The exchange runs
// on the context the source was built with; ctx only gates the call.
func (s *CachedSource) Token(ctx context.Context) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	s.mu.Lock()
	src := s.reuse
	s.mu.Unlock()

	t, err := src.Token()
	if err != nil {
		if errors.Is(err, ErrAuthFailed) {
			return Token{}, err
		}
		return Token{}, fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}

	tok := fromOAuth2(t)
	if tok.AccessToken == "" {
		s.Invalidate()
		return Token{}, fmt.Errorf("%w: token response missing access_token", ErrAuthFailed)
	}
	if s.validate != nil {
		if err := s.validate(tok); err != nil {
			s.Invalidate()
			return Token{}, fmt.Errorf("%w: %w", ErrAuthFailed, err)
		}
	}
	return tok, nil
}

func (s *CachedSource) Invalidate() {
	s.mu.Lock()
	s.reuse = oauth2.ReuseTokenSourceWithExpiry(nil, s.exchange, s.skew)
	s.mu.Unlock()
}

func fromOAuth2(t *oauth2.Token) Token {
	tok := Token{AccessToken: t.AccessToken, TokenType: t.Type(), ExpiresAt: t.Expiry}
	if v, ok := t.Extra("instance_url").(string); ok {
		tok.InstanceURL = strings.TrimRight(v, "/")
	}
	if v, ok := t.Extra("id").(string); ok {
		tok.IdentityURL = v
	}
	return tok
}

// defaultExpiry stamps an expiry on tokens whose response carried none.
type defaultExpiry struct {
	src oauth2.TokenSource
	ttl time.Duration
}

func (d defaultExpiry) Token() (*oauth2.Token, error) {
	t, err := d.src.Token()
	if err != nil {
		return nil, err
	}
	if t.Expiry.IsZero() && d.ttl > 0 {
		t.Expiry = time.Now().Add(d.ttl)
	}
	return t, nil
}

// exchangeContext carries the HTTP client oauth2 uses for token requests.
func exchangeContext(httpClient *http.Client) context.Context {
	return context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
}

// UserIDFromIdentityURL extracts the user id from an identity URL claim
// (the last path segment). Returns "" when nothing usable is present.
func UserIDFromIdentityURL(id string) string {
	id = strings.TrimRight(strings.TrimSpace(id), "/")
	if id == "" {
		return ""
	}
	parts := strings.Split(id, "/")
	return parts[len(parts)-1]
}
