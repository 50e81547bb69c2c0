package middleware

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"workchat-backend/pkg/response"
)

// AccessClaims are the workspace identity claims carried by access tokens
// minted by the platform's auth service. The chat core only validates them,
// it never issues them.
type AccessClaims struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

// Identity is the authenticated principal extracted from the access token
type Identity struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Name     string
	Email    string
}

const identityKey = "identity"

// AuthMiddleware validates bearer access tokens and stores the caller's
// identity in the Gin context.
func AuthMiddleware(secret string) gin.HandlerFunc {
	key := []byte(secret)

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "Authorization header required")
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "Invalid authorization header format")
			c.Abort()
			return
		}

		claims := &AccessClaims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return key, nil
		})
		if err != nil || !token.Valid {
			response.Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}

		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			response.Unauthorized(c, "Invalid token subject")
			c.Abort()
			return
		}
		tenantID, err := uuid.Parse(claims.TenantID)
		if err != nil {
			response.Unauthorized(c, "Invalid token tenant")
			c.Abort()
			return
		}

		c.Set(identityKey, &Identity{
			UserID:   userID,
			TenantID: tenantID,
			Name:     claims.Name,
			Email:    claims.Email,
		})
		c.Next()
	}
}

// OptionalAuthMiddleware resolves the caller's identity when a valid bearer
// token is present but lets anonymous requests through. Used on the public
// invitation endpoints where a token upgrades a guest to their workspace
// identity.
func OptionalAuthMiddleware(secret string) gin.HandlerFunc {
	key := []byte(secret)

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.Next()
			return
		}

		claims := &AccessClaims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return key, nil
		})
		if err != nil || !token.Valid {
			c.Next()
			return
		}

		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			c.Next()
			return
		}
		tenantID, err := uuid.Parse(claims.TenantID)
		if err != nil {
			c.Next()
			return
		}

		c.Set(identityKey, &Identity{
			UserID:   userID,
			TenantID: tenantID,
			Name:     claims.Name,
			Email:    claims.Email,
		})
		c.Next()
	}
}

// IdentityFrom extracts the authenticated identity set by AuthMiddleware
func IdentityFrom(c *gin.Context) (*Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	id, ok := v.(*Identity)
	return id, ok
}
