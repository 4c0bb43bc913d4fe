// ABOUTME: HS256 JWT verification binding a request to the auth provider's user id
// ABOUTME: The "sub" claim is the user id; an optional audience is enforced when configured

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// DefaultAudience is the audience the auth provider stamps on signed-in user tokens
const DefaultAudience = "authenticated"

// TokenVerifier resolves a bearer token to a user id
type TokenVerifier interface {
	Verify(tokenString string) (userID string, err error)
}

// JWTVerifier verifies and mints HS256 tokens with a shared secret
type JWTVerifier struct {
	secret   []byte
	audience string
}

// NewJWTVerifier creates a verifier. An empty audience disables the aud check.
func NewJWTVerifier(secret []byte, audience string) *JWTVerifier {
	return &JWTVerifier{secret: secret, audience: audience}
}

// Verify validates signature, expiry and audience and returns the "sub" claim
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse(tokenString, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return sub, nil
}

// Generate mints a token for userID valid for ttl. Used for local development and tests.
func (v *JWTVerifier) Generate(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
