// Package auth issues and verifies the HS256 tokens that gate the WebSocket event feed.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// FeedAudience is the audience stamped on tokens for the /ws event feed.
const FeedAudience = "rigidsync-feed"

var (
	// ErrInvalidToken indicates the token failed signature checks or had malformed structure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken signals that the token's expiry is in the past.
	ErrExpiredToken = errors.New("token expired")
	// ErrWrongAudience means the token was minted for another consumer.
	ErrWrongAudience = errors.New("token audience mismatch")
)

// TokenClaims is the payload of a feed token.
type TokenClaims struct {
	Subject   string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Audience  string
}

type wireClaims struct {
	Subject  string `json:"sub"`
	Expires  int64  `json:"exp"`
	Issued   int64  `json:"iat"`
	Audience string `json:"aud,omitempty"`
}

type wireHeader struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ"`
}

// HMACTokenVerifier signs and validates compact JWT-style tokens with HS256.
type HMACTokenVerifier struct {
	secret   []byte
	now      func() time.Time
	leeway   time.Duration
	audience string
}

// NewHMACTokenVerifier constructs a verifier for the shared secret. Tokens are accepted up to
// leeway past their expiry.
func NewHMACTokenVerifier(secret string, leeway time.Duration) (*HMACTokenVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("hmac secret must not be empty")
	}
	if leeway < 0 {
		leeway = 0
	}
	return &HMACTokenVerifier{secret: []byte(secret), now: time.Now, leeway: leeway, audience: FeedAudience}, nil
}

// WithClock overrides the verifier clock.
func (v *HMACTokenVerifier) WithClock(clock func() time.Time) {
	if clock == nil {
		return
	}
	v.now = clock
}

// WithAudience changes the audience Issue stamps and Verify requires. Empty disables the check.
func (v *HMACTokenVerifier) WithAudience(audience string) {
	v.audience = strings.TrimSpace(audience)
}

// Issue mints a token for subject that expires after ttl.
func (v *HMACTokenVerifier) Issue(subject string, ttl time.Duration) (string, error) {
	if v == nil || len(v.secret) == 0 {
		return "", errors.New("verifier not initialised")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("token subject required")
	}
	if ttl <= 0 {
		return "", errors.New("token ttl must be positive")
	}
	now := v.now()
	header, err := encodeSegment(wireHeader{Algorithm: "HS256", Type: "JWT"})
	if err != nil {
		return "", err
	}
	payload, err := encodeSegment(wireClaims{
		Subject:  subject,
		Expires:  now.Add(ttl).Unix(),
		Issued:   now.Unix(),
		Audience: v.audience,
	})
	if err != nil {
		return "", err
	}
	signingInput := header + "." + payload
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(v.sign([]byte(signingInput))), nil
}

// Verify parses the token and validates the signature, expiry and audience.
func (v *HMACTokenVerifier) Verify(token string) (*TokenClaims, error) {
	if v == nil || len(v.secret) == 0 {
		return nil, errors.New("verifier not initialised")
	}
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}

	var header wireHeader
	if err := decodeSegment(parts[0], &header); err != nil {
		return nil, ErrInvalidToken
	}
	if header.Algorithm != "HS256" {
		return nil, fmt.Errorf("%w: unexpected algorithm %q", ErrInvalidToken, header.Algorithm)
	}
	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || !hmac.Equal(signature, v.sign([]byte(parts[0]+"."+parts[1]))) {
		return nil, ErrInvalidToken
	}

	var payload wireClaims
	if err := decodeSegment(parts[1], &payload); err != nil {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(payload.Subject) == "" || payload.Expires <= 0 {
		return nil, ErrInvalidToken
	}
	expiresAt := time.Unix(payload.Expires, 0)
	if expiresAt.Add(v.leeway).Before(v.now()) {
		return nil, ErrExpiredToken
	}
	if v.audience != "" && payload.Audience != v.audience {
		return nil, fmt.Errorf("%w: got %q", ErrWrongAudience, payload.Audience)
	}
	return &TokenClaims{
		Subject:   payload.Subject,
		ExpiresAt: expiresAt,
		IssuedAt:  time.Unix(payload.Issued, 0),
		Audience:  payload.Audience,
	}, nil
}

func (v *HMACTokenVerifier) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

func encodeSegment(value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeSegment(segment string, dst any) error {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
