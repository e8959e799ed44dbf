// Package verify – signed verification tokens
//
// When the pipeline cannot resolve a user's timezone it hands them a link
// to the browser verification page. The link carries a short-lived HMAC
// signed token binding (platform, user, chat), so the page's POST-back can
// be trusted without any session state on the server.

package verify

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/teamops/tzbot/internal/domain"
)

var (
	// ErrExpired is returned for structurally valid but stale tokens.
	ErrExpired = errors.New("verify: token expired")
	// ErrInvalid covers every other parse or signature failure.
	ErrInvalid = errors.New("verify: token invalid")
)

// Claims is the verification token payload.
type Claims struct {
	Platform string `json:"platform"`
	UserID   string `json:"user_id"`
	ChatID   string `json:"chat_id"`
	jwt.RegisteredClaims
}

// Tokens issues and checks verification tokens. Now is injectable for
// expiry tests.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	Now    func() time.Time
}

// NewTokens builds a Tokens signer. The secret must be non-empty; config
// validation guarantees that before we get here.
func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl, Now: time.Now}
}

// Issue signs a token for (platform, user, chat) valid for the configured
// TTL.
func (t *Tokens) Issue(platform domain.Platform, userID, chatID string) (string, error) {
	now := t.Now().UTC()
	claims := Claims{
		Platform: string(platform),
		UserID:   userID,
		ChatID:   chatID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("verify: sign token: %w", err)
	}
	return signed, nil
}

// Parse checks the signature and expiry and returns the claims.
func (t *Tokens) Parse(token string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return t.Now() }),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpired
	default:
		return nil, ErrInvalid
	}
	if claims.Platform == "" || claims.UserID == "" {
		return nil, ErrInvalid
	}
	return &claims, nil
}
