package crypto

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenLifetime is how long an issued token stays valid.
const DefaultTokenLifetime = 10 * time.Hour

// minKeyLength is the smallest HMAC key accepted, in bytes (256 bits).
const minKeyLength = 32

var (
	ErrMalformed         = errors.New("malformed token")
	ErrInvalidSignature  = errors.New("invalid token signature")
	ErrExpired           = errors.New("token expired")
	ErrSigningKeyInvalid = errors.New("signing key must be base64 encoded and at least 256 bits")
	ErrNoSigningKey      = errors.New("no signing key configured")
)

// Claims is the JWT payload. The token carries exactly sub, role, iat and exp.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Token is a freshly issued, signed token.
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Identity is what a verified token asserts about its bearer.
type Identity struct {
	Subject string
	Role    string
}

// TokenService issues and verifies HMAC-signed identity tokens.
// It is immutable after construction and safe for concurrent use.
type TokenService struct {
	key      []byte
	method   jwt.SigningMethod
	lifetime time.Duration
	now      func() time.Time
	parser   *jwt.Parser
}

// TokenOption customizes a TokenService.
type TokenOption func(*TokenService)

// WithLifetime overrides DefaultTokenLifetime. Services issue with the
// default; tests use this to shorten the window.
func WithLifetime(d time.Duration) TokenOption {
	return func(s *TokenService) {
		if d > 0 {
			s.lifetime = d
		}
	}
}

// WithClock replaces the wall clock used for iat, exp and expiry checks.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewTokenService decodes the base64 secret into the signing key.
// The HMAC variant follows the key size: 64+ bytes HS512, 48+ HS384, else HS256.
func NewTokenService(secret string, opts ...TokenOption) (*TokenService, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return nil, err
	}

	s := &TokenService{
		key:      key,
		method:   methodForKey(key),
		lifetime: DefaultTokenLifetime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
		jwt.WithStrictDecoding(),
	)

	return s, nil
}

func decodeSecret(secret string) ([]byte, error) {
	if secret == "" {
		return nil, ErrSigningKeyInvalid
	}
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		key, err = base64.RawStdEncoding.DecodeString(secret)
		if err != nil {
			return nil, ErrSigningKeyInvalid
		}
	}
	if len(key) < minKeyLength {
		return nil, ErrSigningKeyInvalid
	}
	return key, nil
}

func methodForKey(key []byte) jwt.SigningMethod {
	switch {
	case len(key) >= 64:
		return jwt.SigningMethodHS512
	case len(key) >= 48:
		return jwt.SigningMethodHS384
	default:
		return jwt.SigningMethodHS256
	}
}

// Lifetime returns the validity window of issued tokens.
func (s *TokenService) Lifetime() time.Duration {
	return s.lifetime
}

// Issue signs a token for subject with the given role.
func (s *TokenService) Issue(subject, role string) (Token, error) {
	if s == nil || len(s.key) == 0 {
		return Token{}, ErrNoSigningKey
	}

	issuedAt := s.now().Truncate(jwt.TimePrecision)
	expiresAt := issuedAt.Add(s.lifetime)

	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.key)
	if err != nil {
		return Token{}, fmt.Errorf("signing token: %w", err)
	}

	return Token{Value: signed, IssuedAt: issuedAt, ExpiresAt: expiresAt}, nil
}

// Verify checks the signature, expiry and claim shape of tokenString.
// It returns ErrMalformed, ErrInvalidSignature or ErrExpired on failure.
func (s *TokenService) Verify(tokenString string) (Identity, error) {
	if s == nil || len(s.key) == 0 {
		return Identity{}, ErrInvalidSignature
	}
	if tokenString == "" {
		return Identity{}, ErrMalformed
	}

	claims := &Claims{}
	if _, err := s.parser.ParseWithClaims(tokenString, claims, s.keyFunc); err != nil {
		return Identity{}, s.classify(tokenString, err)
	}

	if claims.Subject == "" || claims.Role == "" || claims.IssuedAt == nil {
		return Identity{}, ErrMalformed
	}

	return Identity{Subject: claims.Subject, Role: claims.Role}, nil
}

func (s *TokenService) keyFunc(*jwt.Token) (interface{}, error) {
	return s.key, nil
}

// classify maps jwt parse errors onto the package's error set.
func (s *TokenService) classify(tokenString string, err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		// Header and claims decode but the signature segment does not, or is
		// not in canonical base64url form.
		if _, _, perr := s.parser.ParseUnverified(tokenString, &Claims{}); perr == nil {
			return ErrInvalidSignature
		}
		return ErrMalformed
	default:
		return ErrMalformed
	}
}
