// Package jwt issues and verifies HS256 access tokens.
package jwt

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/authkeeper/internal/pkg/ctxlog"
	"github.com/bissquit/authkeeper/internal/pkg/metrics"
	gjwt "github.com/golang-jwt/jwt/v5"
)

// MinSecretBytes is the smallest accepted HMAC-SHA256 key.
const MinSecretBytes = 32

// Config holds codec settings.
type Config struct {
	// Secret is the base64-encoded signing key.
	Secret         string
	AccessTokenTTL time.Duration
	Issuer         string
}

// Claims are the access token claims.
type Claims struct {
	Roles []string `json:"roles"`
	gjwt.RegisteredClaims
}

// Codec signs and checks access tokens. Safe for concurrent use.
type Codec struct {
	key    []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the time source used for issuing and validating tokens.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec creates a codec from cfg.
func NewCodec(cfg Config, opts ...Option) (*Codec, error) {
	key, err := base64.StdEncoding.DecodeString(cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("decode jwt secret: %w", err)
	}
	if len(key) < MinSecretBytes {
		return nil, fmt.Errorf("jwt secret must decode to at least %d bytes, got %d", MinSecretBytes, len(key))
	}
	if cfg.AccessTokenTTL < 0 {
		return nil, errors.New("access token ttl must not be negative")
	}

	c := &Codec{
		key:    key,
		ttl:    cfg.AccessTokenTTL,
		issuer: cfg.Issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue creates a token for subject carrying roles, valid for the configured TTL.
func (c *Codec) Issue(subject string, roles []string) (string, error) {
	return c.IssueWithTTL(subject, roles, c.ttl)
}

// IssueWithTTL creates a token that expires ttl after now.
// Expiry has second precision, so a zero ttl yields a token that is already expired.
func (c *Codec) IssueWithTTL(subject string, roles []string, ttl time.Duration) (string, error) {
	now := c.now()
	if roles == nil {
		roles = []string{}
	}
	claims := Claims{
		Roles: roles,
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    c.issuer,
			IssuedAt:  gjwt.NewNumericDate(now),
			ExpiresAt: gjwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify reports whether token carries a valid HS256 signature under the codec key
// and has not expired. The rejection reason is logged, never returned.
func (c *Codec) Verify(ctx context.Context, token string) bool {
	_, err := c.parse(token)
	result := verificationResult(err)
	metrics.TokenVerifications.WithLabelValues(result).Inc()

	if err != nil {
		ctxlog.FromContext(ctx).Warn("jwt rejected", "reason", result, "error", err)
		return false
	}
	return true
}

// SubjectOf returns the subject of a valid token.
func (c *Codec) SubjectOf(token string) (string, error) {
	claims, err := c.Claims(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Claims parses and validates token, returning its claims.
func (c *Codec) Claims(token string) (*Claims, error) {
	return c.parse(token)
}

var errEmptyToken = errors.New("token is empty")

func (c *Codec) parse(token string) (*Claims, error) {
	if token == "" {
		return nil, errEmptyToken
	}

	opts := []gjwt.ParserOption{
		gjwt.WithValidMethods([]string{gjwt.SigningMethodHS256.Alg()}),
		gjwt.WithExpirationRequired(),
		gjwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, gjwt.WithIssuer(c.issuer))
	}

	claims := &Claims{}
	_, err := gjwt.ParseWithClaims(token, claims, func(*gjwt.Token) (interface{}, error) {
		return c.key, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func verificationResult(err error) string {
	switch {
	case err == nil:
		return "valid"
	case errors.Is(err, errEmptyToken):
		return "empty"
	case errors.Is(err, gjwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, gjwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, gjwt.ErrTokenSignatureInvalid):
		return "invalid_signature"
	case errors.Is(err, gjwt.ErrTokenUnverifiable):
		return "unsupported"
	default:
		return "invalid"
	}
}
