package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/suPer8Hu/chatstore/internal/httpapi/common"
)

// IdentityKey is the gin context key holding the authenticated user
// handle. The token is minted by the auth collaborator; this middleware
// only verifies and extracts.
const IdentityKey = "identity"

func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			common.Fail(c, http.StatusUnauthorized, 40101, "missing bearer token")
			c.Abort()
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")

		token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid token")
			c.Abort()
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid token")
			c.Abort()
			return
		}
		sub, _ := claims["sub"].(string)
		if sub == "" {
			common.Fail(c, http.StatusUnauthorized, 40103, "token has no subject")
			c.Abort()
			return
		}

		c.Set(IdentityKey, sub)
		c.Next()
	}
}

// Identity returns the authenticated user handle set by AuthRequired.
func Identity(c *gin.Context) (string, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}
