package server

import (
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewTokenService("secret", 30*time.Minute)

	token, expiresAt, err := svc.Generate("demo")
	if err != nil {
		t.Fatal(err)
	}
	if until := time.Until(expiresAt); until < 29*time.Minute || until > 31*time.Minute {
		t.Fatalf("unexpected ttl: %v", until)
	}

	claims, err := svc.Validate(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Username != "demo" {
		t.Fatalf("username = %q", claims.Username)
	}
}

func TestGenerateRequiresUsername(t *testing.T) {
	svc := NewTokenService("secret", time.Hour)
	if _, _, err := svc.Generate(""); err == nil {
		t.Fatal("expected error for empty username")
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	svc := NewTokenService("secret", time.Hour)
	// A non-positive ttl falls back to the default in the constructor.
	svc.ttl = -time.Minute

	token, _, err := svc.Generate("demo")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Validate(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	issuer := NewTokenService("secret-a", time.Hour)
	verifier := NewTokenService("secret-b", time.Hour)

	token, _, err := issuer.Generate("demo")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := verifier.Validate(token); err == nil {
		t.Fatal("expected signature mismatch to be rejected")
	}
}
