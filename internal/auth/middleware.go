package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// TokenMiddleware authorizes requests by comparing the presented bearer
// token against the single shared secret configured at startup. Every
// mismatch yields the same response; the caller learns nothing about why.
func TokenMiddleware(secret string) gin.HandlerFunc {
	want := []byte(strings.TrimSpace(secret))

	return func(c *gin.Context) {
		token, err := extractBearerToken(c.Request.Header.Get("Authorization"))
		if err != nil {
			unauthorized(c)
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			unauthorized(c)
			return
		}
		c.Next()
	}
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header required")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("token missing")
	}
	return token, nil
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
}
