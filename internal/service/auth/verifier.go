// Package auth verifies bearer tokens issued by an external identity
// provider. Tokens are RS256 JWTs validated against the issuer's published
// JWKS, with the key set cached for a configurable TTL.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/phrazzld/diligence-api/internal/config"
	"github.com/phrazzld/diligence-api/internal/platform/logger"
)

// Claims holds the verified identity claims the application cares about.
type Claims struct {
	Subject   string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenVerifier validates bearer tokens and extracts their claims.
type TokenVerifier interface {
	Verify(ctx context.Context, tokenString string) (*Claims, error)
}

// jwksVerifier is a TokenVerifier backed by the issuer's JWKS endpoint.
type jwksVerifier struct {
	issuer    string
	audience  string
	cache     *keyCache
	timeFunc  func() time.Time // Injectable for testing
	clockSkew time.Duration
}

// Ensure jwksVerifier implements TokenVerifier interface
var _ TokenVerifier = (*jwksVerifier)(nil)

// NewTokenVerifier creates a TokenVerifier for the configured issuer. The
// issuer's JWKS endpoint is derived from its base URL.
func NewTokenVerifier(cfg config.AuthConfig, httpClient *http.Client) (TokenVerifier, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("auth issuer cannot be empty")
	}

	ttl := time.Duration(cfg.KeyCacheTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	jwksURL := strings.TrimSuffix(cfg.Issuer, "/") + "/.well-known/jwks.json"

	return &jwksVerifier{
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		cache:     newKeyCache(jwksURL, ttl, httpClient),
		timeFunc:  time.Now,
		clockSkew: 2 * time.Minute,
	}, nil
}

// Verify validates the token's signature against the issuer's key set and
// checks its registered claims.
func (v *jwksVerifier) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	log := logger.FromContextOrDefault(ctx)

	if tokenString == "" {
		return nil, ErrMissingToken
	}

	now := v.timeFunc()

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Name}),
		jwt.WithLeeway(v.clockSkew),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time {
			return now
		}),
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.ParseWithClaims(
		tokenString,
		&jwt.RegisteredClaims{},
		func(token *jwt.Token) (interface{}, error) {
			kid, ok := token.Header["kid"].(string)
			if !ok || kid == "" {
				return nil, fmt.Errorf("%w: token has no kid header", ErrInvalidToken)
			}
			return v.cache.Key(ctx, kid)
		},
		parserOpts...)

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			log.Debug("token validation failed: token expired", "error", err)
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			log.Debug("token validation failed: token not yet valid", "error", err)
			return nil, ErrTokenNotYetValid
		case errors.Is(err, ErrUnknownKey), errors.Is(err, ErrKeyFetchFailed):
			log.Debug("token validation failed: key lookup", "error", err)
			return nil, err
		default:
			log.Debug("token validation failed", "error", err,
				"error_type", fmt.Sprintf("%T", err))
			return nil, ErrInvalidToken
		}
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		log.Debug("token validation failed: invalid claims")
		return nil, ErrInvalidToken
	}

	verified := &Claims{
		Subject: claims.Subject,
		Issuer:  claims.Issuer,
	}
	if claims.IssuedAt != nil {
		verified.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		verified.ExpiresAt = claims.ExpiresAt.Time
	}

	log.Debug("token validated successfully",
		"subject", verified.Subject,
		"expiry", verified.ExpiresAt)

	return verified, nil
}
