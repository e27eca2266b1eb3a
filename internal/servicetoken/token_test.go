package servicetoken

import (
	"testing"
	"time"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	signer, err := NewSigner("auth-webhook", "test-secret", time.Minute)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	verifier, err := NewVerifier("test-secret", []string{"auth-webhook"}, 0)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	token, err := signer.Sign()
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	caller, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if caller != "auth-webhook" {
		t.Fatalf("unexpected caller %q", caller)
	}
}

func TestVerifyRejectsWrongSecretAndIssuer(t *testing.T) {
	signer, _ := NewSigner("auth-webhook", "secret-a", time.Minute)
	token, err := signer.Sign()
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	wrongSecret, _ := NewVerifier("secret-b", []string{"auth-webhook"}, 0)
	if _, err := wrongSecret.Verify(token); err == nil {
		t.Fatal("expected failure for wrong secret")
	}

	wrongIssuer, _ := NewVerifier("secret-a", []string{"someone-else"}, 0)
	if _, err := wrongIssuer.Verify(token); err == nil {
		t.Fatal("expected failure for disallowed issuer")
	}
}

func TestConstructorsFailFast(t *testing.T) {
	if _, err := NewSigner("", "secret", 0); err == nil {
		t.Fatal("expected error for empty issuer")
	}
	if _, err := NewSigner("svc", "", 0); err == nil {
		t.Fatal("expected error for empty secret")
	}
	if _, err := NewVerifier("secret", nil, 0); err == nil {
		t.Fatal("expected error for empty issuer allowlist")
	}
}
