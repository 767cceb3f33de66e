package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// userIDKey is the Gin context key carrying the authenticated user's id.
// Downstream middleware and handlers read it via UserID.
const userIDKey = "userID"

// UserID returns the authenticated user's id from the Gin context, as set by
// Auth. The second return value reports presence.
func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// Auth validates a "Bearer <jwt>" Authorization header signed with secret
// (HS256) and stores the token subject as the user id. Missing, malformed,
// or expired tokens are rejected with a 401 envelope; the handler chain is
// never reached without an identity.
func Auth(secret string) gin.HandlerFunc {
	keyFn := func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(raw) == "" {
			abortUnauthorized(c)
			return
		}

		token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, keyFn,
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		)
		if err != nil || !token.Valid {
			abortUnauthorized(c)
			return
		}
		claims, ok := token.Claims.(*jwt.RegisteredClaims)
		if !ok || claims.Subject == "" {
			abortUnauthorized(c)
			return
		}

		c.Set(userIDKey, claims.Subject)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context) {
	rid, _ := c.Get(requestIDKey)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": asString(rid),
		"code":       "unauthorized",
		"message":    "missing or invalid credentials",
	})
}
