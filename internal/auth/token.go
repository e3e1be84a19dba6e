// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// DefaultTokenTTL is the bearer token lifetime from issuance.
const DefaultTokenTTL = 24 * time.Hour

// Claims are the fields encoded inside a bearer token. They are
// transient: tokens are never stored and become invalid purely by
// expiry or secret mismatch.
type Claims struct {
	Subject   string
	Username  string
	Issuer    string
	Audience  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// tokenClaims is the wire shape used for JWT encoding.
type tokenClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// VerificationResult is the outcome of TokenIssuer.Verify. A bad token
// is a result, not an error: Valid is false and Reason says why.
type VerificationResult struct {
	Valid  bool
	Claims *Claims
	Reason string
}

// TokenIssuerConfig configures a TokenIssuer. Secret is the process-wide
// signing key, loaded once at startup and held immutable; Issuer and
// Audience are deployment-constant strings agreed between issuer and
// verifier.
type TokenIssuerConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration

	// Now overrides the clock for tests. Defaults to time.Now.
	Now func() time.Time
}

// TokenIssuer signs and verifies compact HS256 bearer tokens.
type TokenIssuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenIssuer creates a TokenIssuer. The secret must be non-empty;
// issuer and audience must be set so verification can scope tokens to
// this deployment.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.Secret) == 0 {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("signing secret is required")
	}
	if cfg.Issuer == "" {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("issuer is required")
	}
	if cfg.Audience == "" {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("audience is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTokenTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &TokenIssuer{
		secret:   cfg.Secret,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.TTL,
		now:      cfg.Now,
	}, nil
}

// Issue signs a token for the given subject. The token carries the
// user id as subject, the username, and expires after the configured
// TTL.
func (t *TokenIssuer) Issue(subject ulid.ULID, username string) (string, error) {
	now := t.now()
	claims := tokenClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.String(),
			Issuer:    t.issuer,
			Audience:  jwt.ClaimStrings{t.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", oops.Code("AUTH_TOKEN_SIGN_FAILED").Wrap(err)
	}
	return signed, nil
}

// Verify validates the signature, issuer, audience, and expiry of a
// token. Any mismatch yields a result with Valid false; errors never
// cross this boundary for malformed input.
func (t *TokenIssuer) Verify(token string) VerificationResult {
	var parsed tokenClaims
	_, err := jwt.ParseWithClaims(token, &parsed,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithAudience(t.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return VerificationResult{Valid: false, Reason: verifyFailureReason(err)}
	}

	claims := &Claims{
		Subject:  parsed.Subject,
		Username: parsed.Username,
		Issuer:   parsed.Issuer,
		Audience: t.audience,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time
	}
	if parsed.ExpiresAt != nil {
		claims.ExpiresAt = parsed.ExpiresAt.Time
	}
	return VerificationResult{Valid: true, Claims: claims}
}

// verifyFailureReason maps jwt parse errors to stable reason strings.
// The strings are safe to return to clients; they never echo token
// contents or the secret.
func verifyFailureReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "invalid signature"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "invalid issuer"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "invalid audience"
	case errors.Is(err, jwt.ErrTokenUsedBeforeIssued), errors.Is(err, jwt.ErrTokenNotValidYet):
		return "token not yet valid"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed token"
	default:
		return "invalid token"
	}
}
