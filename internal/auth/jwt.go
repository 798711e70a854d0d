package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ageniuscoder/internchat/backend/internal/model"
)

// Claims is the identity the auth provider vouches for.
type Claims struct {
	UserID string     `json:"user_id"`
	Role   model.Role `json:"role"`
	Name   string     `json:"name"`
	jwt.RegisteredClaims
}

func (c *Claims) Participant() model.Participant {
	return model.Participant{ID: c.UserID, Role: c.Role, FullName: c.Name}
}

// NewToken signs a token for p. The provider issues real tokens; this is for
// tests and local development.
func NewToken(secret string, p model.Participant, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		UserID: p.ID,
		Role:   p.Role,
		Name:   p.FullName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "internchat",
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(secret))
}

func ParseToken(secret, token string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (interface{}, error) {
		// Ensure the token is using HMAC (HS256, HS384, HS512)
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" || !claims.Role.Valid() {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
