package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Audience is stamped on every token and required by the middleware.
const Audience = "retinascan"

type Claims struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

var ErrUnknownRole = errors.New("unknown role")

func NewToken(secret, issuer, subject string, roles []string, ttl time.Duration) (string, error) {
	for _, r := range roles {
		if !KnownRole(r) {
			return "", fmt.Errorf("%w: %q", ErrUnknownRole, r)
		}
	}
	now := time.Now()
	cl := Claims{
		UserID: subject,
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Audience:  []string{Audience},
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, cl)
	return token.SignedString([]byte(secret))
}

// ParseToken verifies signature, expiry, issuer and audience.
func ParseToken(secret, issuer, tokenStr string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
	)
	cl := &Claims{}
	if _, err := parser.ParseWithClaims(tokenStr, cl, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}); err != nil {
		return nil, err
	}
	return cl, nil
}
