package auth

import (
	"errors"
	"testing"
	"time"
)

func TestVerifier_AcceptsSignedToken(t *testing.T) {
	t.Parallel()

	s := GenerateSigner("jobchat-test")
	v, err := NewVerifier(s.PublicKeyHex(), "jobchat-test")
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	tok := s.Issue("42", time.Now().UTC(), time.Minute)
	uid, err := v.VerifyBearer(tok)
	if err != nil {
		t.Fatalf("VerifyBearer: %v", err)
	}
	if uid != "42" {
		t.Fatalf("uid=%q want 42", uid)
	}
}

func TestVerifier_Rejects(t *testing.T) {
	t.Parallel()

	s := GenerateSigner("jobchat-test")
	v, err := NewVerifier(s.PublicKeyHex(), "jobchat-test")
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	now := time.Now().UTC()

	cases := map[string]string{
		"empty":        "",
		"garbage":      "v4.public.not-a-token",
		"expired":      s.Issue("42", now.Add(-2*time.Hour), time.Minute),
		"wrong issuer": GenerateSigner("other").Issue("42", now, time.Minute),
	}
	// Signed by a different key but with the right issuer.
	cases["foreign key"] = GenerateSigner("jobchat-test").Issue("42", now, time.Minute)

	for name, tok := range cases {
		if _, err := v.VerifyBearer(tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestNewVerifier_BadKey(t *testing.T) {
	t.Parallel()

	if _, err := NewVerifier("", "x"); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for empty key, got %v", err)
	}
	if _, err := NewVerifier("zz", "x"); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for bad hex, got %v", err)
	}
}
