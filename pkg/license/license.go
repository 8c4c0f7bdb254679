// Package license builds and verifies signed, time-bounded license
// artifacts. The artifact is a compact JWS whose payload carries the
// edition, organization, seat count, validity window, and renewal counter;
// consumers must verify the signature and expiry before trusting any field.
package license

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Supported signature schemes. The scheme is a deployment choice: RS256
// signs with an RSA private key, HS256 with a shared secret.
const (
	AlgRS256 = "RS256"
	AlgHS256 = "HS256"
)

var (
	// ErrMissingKeyMaterial is returned when the configured algorithm has no
	// usable key. This is a fatal configuration error, never retried.
	ErrMissingKeyMaterial = errors.New("license signing key material missing")

	// ErrUnsupportedAlgorithm is returned for algorithms outside RS256/HS256.
	ErrUnsupportedAlgorithm = errors.New("unsupported license signing algorithm")
)

// Claims is the license payload.
type Claims struct {
	Edition      string `json:"edition"`
	Org          string `json:"org"`
	Seats        int    `json:"seats"`
	RenewalCount int    `json:"renewal_count"`
	jwt.RegisteredClaims
}

// Config configures a Signer.
type Config struct {
	// Algorithm selects the signature scheme, AlgRS256 or AlgHS256.
	// Defaults to AlgRS256.
	Algorithm string

	// PrivateKeyPEM holds the RSA private key for RS256. Deployments that
	// store multiline env vars with literal \n sequences are normalized to
	// real newlines before PEM parsing.
	PrivateKeyPEM string

	// Secret holds the shared secret for HS256.
	Secret string

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// Signer issues and verifies license artifacts. Pure apart from nonce/time
// generation and key access: no external I/O, no retries.
type Signer struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	now       func() time.Time
}

// NewSigner validates the key material and returns a Signer. Missing or
// malformed keys fail immediately.
func NewSigner(cfg Config) (*Signer, error) {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	alg := strings.ToUpper(strings.TrimSpace(cfg.Algorithm))
	if alg == "" {
		alg = AlgRS256
	}

	switch alg {
	case AlgRS256:
		pem := strings.ReplaceAll(cfg.PrivateKeyPEM, `\n`, "\n")
		if strings.TrimSpace(pem) == "" {
			return nil, ErrMissingKeyMaterial
		}
		key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pem))
		if err != nil {
			return nil, fmt.Errorf("parse RSA private key: %w", err)
		}
		return &Signer{
			method:    jwt.SigningMethodRS256,
			signKey:   key,
			verifyKey: &key.PublicKey,
			now:       now,
		}, nil

	case AlgHS256:
		if cfg.Secret == "" {
			return nil, ErrMissingKeyMaterial
		}
		secret := []byte(cfg.Secret)
		return &Signer{
			method:    jwt.SigningMethodHS256,
			signKey:   secret,
			verifyKey: secret,
			now:       now,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
	}
}

// Algorithm returns the configured signing algorithm name.
func (s *Signer) Algorithm() string {
	return s.method.Alg()
}

// Issue builds and signs a license valid for validityDays from now.
// validityDays is clamped to at least one day. Each issuance carries a
// fresh unique nonce so no two artifacts collide.
func (s *Signer) Issue(edition, org string, seats, validityDays, renewalCount int) (string, error) {
	if validityDays < 1 {
		validityDays = 1
	}
	issuedAt := s.now().UTC()

	claims := Claims{
		Edition:      edition,
		Org:          org,
		Seats:        seats,
		RenewalCount: renewalCount,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(time.Duration(validityDays) * 24 * time.Hour)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.signKey)
	if err != nil {
		return "", fmt.Errorf("sign license: %w", err)
	}
	return signed, nil
}

// Verify parses a license artifact, rejecting any payload/signature
// mismatch, algorithm substitution, or expired claim.
func (s *Signer) Verify(artifact string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(artifact, claims,
		func(*jwt.Token) (any, error) { return s.verifyKey, nil },
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("verify license: %w", err)
	}
	return claims, nil
}

// RSAPublicKey returns the verification key for RS256 signers, or nil for
// symmetric schemes. Distributed to license consumers out of band.
func (s *Signer) RSAPublicKey() *rsa.PublicKey {
	if pub, ok := s.verifyKey.(*rsa.PublicKey); ok {
		return pub
	}
	return nil
}
