package rtc

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// RoomClaims grant one identity access to one real-time room. Host is set for
// the caller/initiator so the media layer can apply host permissions.
type RoomClaims struct {
	RoomID string `json:"room_id"`
	Host   bool   `json:"host"`
	jwt.RegisteredClaims
}

// TokenIssuer signs short-lived room access tokens for the real-time
// transport (live text delivery and call media use the same mechanism).
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer with the given signing secret and
// token lifetime.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

// IssueToken returns a signed token granting identity access to roomID.
func (i *TokenIssuer) IssueToken(roomID string, identity uuid.UUID, host bool) (string, error) {
	now := time.Now()
	claims := &RoomClaims{
		RoomID: roomID,
		Host:   host,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign room token: %w", err)
	}
	return signed, nil
}

// VerifyToken parses and validates a room token, returning its claims.
func (i *TokenIssuer) VerifyToken(tokenStr string) (*RoomClaims, error) {
	claims := &RoomClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid room token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid room token")
	}
	return claims, nil
}
