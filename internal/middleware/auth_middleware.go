package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/farellandr/gigboard/internal/helpers"
)

const (
	RoleAdmin = "admin"
	RoleHost  = "host"
)

// Identity is the caller described by a verified token.
type Identity struct {
	UserID string
	Role   string
	Name   string
	Email  string
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

const identityKey = "identity"

// JWTAuthMiddleware rejects requests without a valid HS256 bearer token.
func JWTAuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			helpers.RespondWithError(c, http.StatusUnauthorized, "Authorization token required.")
			c.Abort()
			return
		}
		id, err := parseToken(raw, secret)
		if err != nil {
			helpers.RespondWithError(c, http.StatusUnauthorized, "Invalid or expired token.")
			c.Abort()
			return
		}
		setIdentity(c, id)
		c.Next()
	}
}

// OptionalAuth attaches the identity when a valid token is present and lets
// anonymous requests through. A malformed token is still rejected.
func OptionalAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			c.Next()
			return
		}
		id, err := parseToken(raw, secret)
		if err != nil {
			helpers.RespondWithError(c, http.StatusUnauthorized, "Invalid or expired token.")
			c.Abort()
			return
		}
		setIdentity(c, id)
		c.Next()
	}
}

func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := GetIdentity(c)
		if !ok {
			helpers.RespondWithError(c, http.StatusUnauthorized, "Authorization token required.")
			c.Abort()
			return
		}
		for _, r := range roles {
			if id.Role == r {
				c.Next()
				return
			}
		}
		helpers.RespondWithError(c, http.StatusForbidden, "You don't have permission to do this.")
		c.Abort()
	}
}

func GetIdentity(c *gin.Context) (Identity, bool) {
	v, exists := c.Get(identityKey)
	if !exists {
		return Identity{}, false
	}
	return v.(Identity), true
}

func setIdentity(c *gin.Context, id Identity) {
	c.Set(identityKey, id)
	c.Set("user_id", id.UserID)
	c.Set("role", id.Role)
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	raw, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return header, true
	}
	return strings.TrimSpace(raw), true
}

func parseToken(raw, secret string) (Identity, error) {
	if secret == "" {
		return Identity{}, errors.New("jwt secret not configured")
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Identity{}, errors.New("invalid token claims")
	}

	id := Identity{
		UserID: claimString(claims, "user_id"),
		Role:   claimString(claims, "role"),
		Name:   claimString(claims, "name"),
		Email:  claimString(claims, "email"),
	}
	if id.UserID == "" {
		return Identity{}, errors.New("token has no user_id")
	}
	return id, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	v, ok := claims[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
