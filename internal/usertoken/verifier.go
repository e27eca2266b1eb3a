package usertoken

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultIssuer       = "bookforge-auth"
	defaultAudience     = "bookforge-api"
	defaultLeeway       = 30 * time.Second
	defaultJWKSCacheTTL = 5 * time.Minute
)

var errUnknownKey = errors.New("unknown token key")

// Config configures access-token verification against the external identity
// provider.
type Config struct {
	JWKSURL    string
	Issuer     string
	Audience   string
	Leeway     time.Duration
	HTTPClient *http.Client
}

// Verifier validates provider-issued RS256 access tokens via JWKS and
// extracts the subject user ID. Keys are cached and refreshed on unknown-kid
// misses or cache expiry.
type Verifier struct {
	issuer     string
	audience   string
	leeway     time.Duration
	jwksURL    string
	httpClient *http.Client

	mu         sync.RWMutex
	keys       map[string]*rsa.PublicKey
	keysExpire time.Time
}

// NewVerifier creates a token verifier and performs an initial JWKS fetch so
// missing provider configuration fails at startup, not per request.
func NewVerifier(cfg Config) (*Verifier, error) {
	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		return nil, errors.New("token verifier requires jwksURL")
	}
	v := &Verifier{
		issuer:     strings.TrimSpace(cfg.Issuer),
		audience:   strings.TrimSpace(cfg.Audience),
		leeway:     cfg.Leeway,
		jwksURL:    jwksURL,
		httpClient: cfg.HTTPClient,
	}
	if v.issuer == "" {
		v.issuer = defaultIssuer
	}
	if v.audience == "" {
		v.audience = defaultAudience
	}
	if v.leeway <= 0 {
		v.leeway = defaultLeeway
	}
	if v.httpClient == nil {
		v.httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	if err := v.refreshKeys(); err != nil {
		return nil, err
	}
	return v, nil
}

// VerifySubject validates the token and returns the subject user ID.
func (v *Verifier) VerifySubject(token string) (string, error) {
	claims, err := v.parse(token)
	if err != nil {
		if errors.Is(err, errUnknownKey) || v.cacheExpired() {
			if refreshErr := v.refreshKeys(); refreshErr != nil {
				return "", refreshErr
			}
			claims, err = v.parse(token)
		}
		if err != nil {
			return "", err
		}
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", errors.New("token subject missing")
	}
	return subject, nil
}

func (v *Verifier) parse(token string) (jwt.RegisteredClaims, error) {
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		kid = strings.TrimSpace(kid)
		if kid == "" {
			return nil, errUnknownKey
		}
		v.mu.RLock()
		key, ok := v.keys[kid]
		v.mu.RUnlock()
		if !ok {
			return nil, errUnknownKey
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return claims, err
	}
	if !parsed.Valid {
		return claims, errors.New("invalid token")
	}
	return claims, nil
}

func (v *Verifier) cacheExpired() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return time.Now().UTC().After(v.keysExpire)
}

func (v *Verifier) refreshKeys() error {
	resp, err := v.httpClient.Get(v.jwksURL)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}

	var payload struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(payload.Keys))
	for _, k := range payload.Keys {
		if !strings.EqualFold(strings.TrimSpace(k.Kty), "RSA") {
			continue
		}
		kid := strings.TrimSpace(k.Kid)
		if kid == "" {
			continue
		}
		pub, err := decodeRSAPublicKey(k.N, k.E)
		if err != nil {
			continue
		}
		keys[kid] = pub
	}
	if len(keys) == 0 {
		return errors.New("jwks contains no usable rsa keys")
	}

	ttl := cacheMaxAge(resp.Header.Get("Cache-Control"))
	if ttl <= 0 {
		ttl = defaultJWKSCacheTTL
	}

	v.mu.Lock()
	v.keys = keys
	v.keysExpire = time.Now().UTC().Add(ttl)
	v.mu.Unlock()
	return nil
}

func decodeRSAPublicKey(nRaw, eRaw string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(nRaw))
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(eRaw))
	if err != nil {
		return nil, err
	}
	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)
	if n.Sign() <= 0 || !e.IsInt64() || e.Int64() <= 0 {
		return nil, errors.New("invalid rsa key")
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

func cacheMaxAge(cacheControl string) time.Duration {
	for _, part := range strings.Split(cacheControl, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if !strings.HasPrefix(part, "max-age=") {
			continue
		}
		secs, err := strconv.Atoi(strings.TrimPrefix(part, "max-age="))
		if err != nil || secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	return 0
}
