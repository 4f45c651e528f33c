// Package auth abstracts the authentication/session provider the sync
// core depends on: a short-lived access token for backend calls and the
// current user's identity.
package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoSession is returned when no user session is available.
var ErrNoSession = errors.New("auth: no active session")

// Provider supplies the access token and user identity. Implementations
// wrap whatever identity service the deployment uses; the sync core
// only consumes this interface.
type Provider interface {
	// AccessToken returns a token valid for at least a short window.
	AccessToken(ctx context.Context) (string, error)
	// UserID returns the current user's identifier, or "" when no user
	// is signed in.
	UserID() string
}

// StaticProvider is a Provider backed by a fixed token and user id,
// used for local deployments and tests.
type StaticProvider struct {
	mu     sync.RWMutex
	token  string
	userID string
	expiry time.Time
}

func NewStaticProvider(token, userID string) *StaticProvider {
	return &StaticProvider{token: token, userID: userID}
}

func (p *StaticProvider) AccessToken(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.token == "" {
		return "", ErrNoSession
	}
	if !p.expiry.IsZero() && time.Now().After(p.expiry) {
		return "", ErrNoSession
	}
	return p.token, nil
}

func (p *StaticProvider) UserID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.userID
}

// SetToken replaces the token, optionally with an expiry.
func (p *StaticProvider) SetToken(token string, expiry time.Time) {
	p.mu.Lock()
	p.token = token
	p.expiry = expiry
	p.mu.Unlock()
}
