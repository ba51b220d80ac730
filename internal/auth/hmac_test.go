package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"
	"time"
)

func newVerifier(t *testing.T, secret string, leeway time.Duration, now time.Time) *HMACTokenVerifier {
	t.Helper()
	verifier, err := NewHMACTokenVerifier(secret, leeway)
	if err != nil {
		t.Fatalf("NewHMACTokenVerifier: %v", err)
	}
	verifier.WithClock(func() time.Time { return now })
	return verifier
}

func TestIssuedTokenVerifies(t *testing.T) {
	now := time.Unix(1700000000, 0)
	verifier := newVerifier(t, "secret", time.Second, now)

	token, err := verifier.Issue("dashboard-3", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if claims.Subject != "dashboard-3" || claims.Audience != FeedAudience {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if !claims.ExpiresAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected expiry %v", claims.ExpiresAt)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	now := time.Unix(1700000000, 0)
	issuer := newVerifier(t, "secret", 0, now.Add(-2*time.Minute))
	token, err := issuer.Issue("dashboard-3", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := newVerifier(t, "secret", 0, now).Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
	//1.- Leeway covers small clock skew.
	if _, err := newVerifier(t, "secret", 2*time.Minute, now).Verify(token); err != nil {
		t.Fatalf("expected leeway to accept token, got %v", err)
	}
}

func TestVerifyRejectsForeignSignatureAndAudience(t *testing.T) {
	now := time.Unix(1700000000, 0)
	verifier := newVerifier(t, "secret", time.Second, now)

	forged := makeToken(t, "other-secret", "dashboard-3", FeedAudience, now.Add(time.Minute))
	if _, err := verifier.Verify(forged); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	foreign := makeToken(t, "secret", "dashboard-3", "billing", now.Add(time.Minute))
	if _, err := verifier.Verify(foreign); !errors.Is(err, ErrWrongAudience) {
		t.Fatalf("expected ErrWrongAudience, got %v", err)
	}
	verifier.WithAudience("")
	if _, err := verifier.Verify(foreign); err != nil {
		t.Fatalf("expected audience check to be disabled, got %v", err)
	}
	if _, err := verifier.Verify("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestIssueRejectsBadInput(t *testing.T) {
	verifier := newVerifier(t, "secret", 0, time.Unix(1700000000, 0))
	if _, err := verifier.Issue(" ", time.Minute); err == nil {
		t.Fatalf("expected empty subject to fail")
	}
	if _, err := verifier.Issue("dashboard-3", 0); err == nil {
		t.Fatalf("expected zero ttl to fail")
	}
	if _, err := NewHMACTokenVerifier("  ", 0); err == nil {
		t.Fatalf("expected empty secret to fail")
	}
}

func makeToken(t *testing.T, secret, subject, audience string, expires time.Time) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload := fmt.Sprintf(`{"sub":"%s","exp":%d,"iat":%d,"aud":"%s"}`, subject, expires.Unix(), expires.Add(-time.Minute).Unix(), audience)
	signingInput := header + "." + base64.RawURLEncoding.EncodeToString([]byte(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingInput))
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
