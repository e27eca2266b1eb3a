package servicetoken

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultTTL is the default lifetime for trusted-caller tokens.
	DefaultTTL = 60 * time.Second
	// DefaultLeeway is clock skew tolerance for token validation.
	DefaultLeeway = 15 * time.Second

	audience = "bookforge-internal"
)

// Signer issues short-lived HS256 tokens for trusted internal callers
// (the auth-provider webhook that mirrors users, batch tooling).
type Signer struct {
	issuer string
	secret []byte
	ttl    time.Duration
}

// NewSigner creates a signer from the shared secret.
func NewSigner(issuer, secret string, ttl time.Duration) (*Signer, error) {
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return nil, errors.New("service token issuer is required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("service token secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{issuer: issuer, secret: []byte(secret), ttl: ttl}, nil
}

// Sign issues a token identifying the calling service.
func (s *Signer) Sign() (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   s.issuer,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verifier validates trusted-caller tokens against an issuer allowlist.
type Verifier struct {
	secret         []byte
	allowedIssuers map[string]struct{}
	leeway         time.Duration
}

// NewVerifier creates a verifier from the shared secret and allowed issuers.
func NewVerifier(secret string, allowedIssuers []string, leeway time.Duration) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("service token secret is required")
	}
	issuers := make(map[string]struct{})
	for _, issuer := range allowedIssuers {
		issuer = strings.TrimSpace(issuer)
		if issuer != "" {
			issuers[issuer] = struct{}{}
		}
	}
	if len(issuers) == 0 {
		return nil, errors.New("at least one allowed issuer is required")
	}
	if leeway <= 0 {
		leeway = DefaultLeeway
	}
	return &Verifier{secret: []byte(secret), allowedIssuers: issuers, leeway: leeway}, nil
}

// Verify validates the token and returns the calling service name.
func (v *Verifier) Verify(token string) (string, error) {
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", errors.New("invalid service token")
	}
	issuer := strings.TrimSpace(claims.Issuer)
	if _, ok := v.allowedIssuers[issuer]; !ok {
		return "", errors.New("service token issuer not allowed")
	}
	return issuer, nil
}
