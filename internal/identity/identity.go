// Package identity extracts the acting user from bearer tokens issued by the
// platform's identity service. The engine performs no authorization of its
// own; the user id is attached to the request context for logging and
// attribution only.
package identity

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ContextUserKey is the gin context key holding the authenticated user id.
const ContextUserKey = "auth_user_id"

var errInvalidToken = errors.New("invalid token")

// Claims is the token payload. The platform issues richer tokens; the engine
// only reads the subject user id.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// ParseToken validates the signature and expiry of an HS256 token and returns
// its claims.
func ParseToken(secret, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errInvalidToken
	}
	return claims, nil
}

// Middleware attaches the token's user id to the context when a valid bearer
// token is present. Requests without a token proceed anonymously; events
// carry their own userId in the payload.
func Middleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.Next()
			return
		}
		claims, err := ParseToken(secret, strings.TrimPrefix(header, "Bearer "))
		if err == nil && claims.UserID != "" {
			c.Set(ContextUserKey, claims.UserID)
		}
		c.Next()
	}
}

// UserID returns the authenticated user id from the context, if any.
func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}
