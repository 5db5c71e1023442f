package auth

import (
	"testing"
	"time"

	"chat-sync/internal/apperr"
)

func TestCreateAndVerifyToken(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	tok, err := CreateToken("user-1", cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	claims, err := VerifyToken(tok, cfg)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Fatalf("expected user-1, got %q", claims.UserID)
	}
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	tok, err := CreateToken("user-1", cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	_, err = VerifyToken(tok, TokenConfig{Secret: "wrong", Expiry: time.Hour, Issuer: "test"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestVerifyToken_WrongIssuer(t *testing.T) {
	tok, err := CreateToken("user-1", TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "other"})
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	if _, err := VerifyToken(tok, DefaultTokenConfig("secret")); err == nil {
		t.Fatalf("expected issuer mismatch")
	}
}

func TestCreateToken_InvalidExpiry(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: -time.Second, Issuer: "test"}
	_, err := CreateToken("user-1", cfg)
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestAuthenticate(t *testing.T) {
	cfg := DefaultTokenConfig("secret")
	tok, err := CreateToken("user-9", cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	s, err := Authenticate(tok, cfg)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if s.UserID != "user-9" || s.ExpiresAt.Before(time.Now()) {
		t.Fatalf("unexpected session %+v", s)
	}

	_, err = Authenticate("garbage", cfg)
	if !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	tok, err := BearerToken("bearer abc.def")
	if err != nil || tok != "abc.def" {
		t.Fatalf("expected abc.def, got %q (%v)", tok, err)
	}
	for _, h := range []string{"", "Bearer", "Basic abc", "Bearer   "} {
		if _, err := BearerToken(h); err == nil {
			t.Fatalf("expected error for %q", h)
		}
	}
}
