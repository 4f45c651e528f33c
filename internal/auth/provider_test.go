package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider("tok-1", "user-1")

	tok, err := p.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken failed: %v", err)
	}
	if tok != "tok-1" {
		t.Errorf("expected tok-1, got %q", tok)
	}
	if p.UserID() != "user-1" {
		t.Errorf("expected user-1, got %q", p.UserID())
	}
}

func TestStaticProvider_NoSession(t *testing.T) {
	p := NewStaticProvider("", "")
	if _, err := p.AccessToken(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
}

func TestStaticProvider_Expiry(t *testing.T) {
	p := NewStaticProvider("tok", "u")
	p.SetToken("tok", time.Now().Add(-time.Minute))
	if _, err := p.AccessToken(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession for expired token, got %v", err)
	}
}

func TestStaticProvider_CancelledContext(t *testing.T) {
	p := NewStaticProvider("tok", "u")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.AccessToken(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
