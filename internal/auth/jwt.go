// Package auth provides JWT validation for the chat transport. Token issuance
// happens in the account service; this package only needs to verify the
// credential proof presented on WebSocket connect and on the REST surface.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token type constants for the typ claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// AccessTokenExpiry is the lifetime used when minting access tokens locally
// (tests and development tooling).
const AccessTokenExpiry = 15 * time.Minute

// DefaultLeeway is the clock-skew allowance for token validation.
const DefaultLeeway = 30 * time.Second

// ErrInvalidToken is returned when token validation fails.
var ErrInvalidToken = errors.New("invalid token")

// ErrExpiredToken is returned when the token has expired.
var ErrExpiredToken = errors.New("token has expired")

// ErrEmptyUsername is returned when a token is requested for an empty username.
var ErrEmptyUsername = errors.New("username cannot be empty")

// Claims represents the JWT claims carried by chat credential proofs.
type Claims struct {
	jwt.RegisteredClaims
	Nickname string `json:"nickname,omitempty"` // display identity, falls back to Subject
	Type     string `json:"typ"`                // "access" or "refresh"
}

// Username returns the account name the token was issued for.
func (c *Claims) Username() string {
	return c.Subject
}

// DisplayName returns the nickname when present, otherwise the account name.
func (c *Claims) DisplayName() string {
	if c.Nickname != "" {
		return c.Nickname
	}
	return c.Subject
}

// Service validates chat credential proofs.
// Supports dual-key rotation: tokens are signed with currentSecret but can be
// validated with either currentSecret or previousSecret.
type Service struct {
	currentSecret  []byte
	previousSecret []byte
	leeway         time.Duration
}

// NewService creates a Service with a single signing secret.
func NewService(secret string) *Service {
	return &Service{
		currentSecret: []byte(secret),
		leeway:        DefaultLeeway,
	}
}

// NewServiceWithRotation creates a Service with dual-key support for
// zero-downtime secret rotation. Pass an empty previousSecret when no
// rotation is in progress.
func NewServiceWithRotation(currentSecret, previousSecret string) *Service {
	svc := &Service{
		currentSecret: []byte(currentSecret),
		leeway:        DefaultLeeway,
	}
	if previousSecret != "" {
		svc.previousSecret = []byte(previousSecret)
	}
	return svc
}

// GenerateAccessToken mints an access token for username with an optional
// nickname claim. Used by tests and development tooling; production tokens
// come from the account service.
func (s *Service) GenerateAccessToken(username, nickname string) (string, error) {
	if username == "" {
		return "", ErrEmptyUsername
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTokenExpiry)),
		},
		Nickname: nickname,
		Type:     TokenTypeAccess,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.currentSecret)
}

// ValidateToken parses and validates a credential proof, returning the claims
// if valid. Tries currentSecret first, then previousSecret if configured.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidToken
		}
		return s.currentSecret, nil
	}, jwt.WithLeeway(s.leeway))

	if err == nil {
		claims, ok := token.Claims.(*Claims)
		if ok && token.Valid {
			return claims, nil
		}
		return nil, ErrInvalidToken
	}

	if s.previousSecret != nil {
		token, prevErr := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, ErrInvalidToken
			}
			return s.previousSecret, nil
		}, jwt.WithLeeway(s.leeway))

		if prevErr == nil {
			claims, ok := token.Claims.(*Claims)
			if ok && token.Valid {
				return claims, nil
			}
		}
	}

	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrExpiredToken
	}
	return nil, ErrInvalidToken
}
