package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// AdminKeyHeader carries the operator key for /api/v1/admin routes. A bearer
// Authorization header is accepted as well.
const AdminKeyHeader = "X-Admin-Key"

// AdminKeyContextKey is set once the admin key has been verified.
const AdminKeyContextKey = "admin_authenticated"

// AdminKeyMiddleware guards operator routes with a bcrypt hash of a shared key
// (security.admin_key_hash). With no hash configured the routes are disabled
// and every request gets 403.
func AdminKeyMiddleware(keyHash string) gin.HandlerFunc {
	hash := []byte(strings.TrimSpace(keyHash))

	return func(c *gin.Context) {
		if len(hash) == 0 {
			abortAdmin(c, http.StatusForbidden, "admin endpoints are disabled")
			return
		}

		key := adminKeyFromRequest(c)
		if key == "" {
			abortAdmin(c, http.StatusUnauthorized, "admin key required")
			return
		}
		if err := bcrypt.CompareHashAndPassword(hash, []byte(key)); err != nil {
			abortAdmin(c, http.StatusUnauthorized, "invalid admin key")
			return
		}

		c.Set(AdminKeyContextKey, true)
		c.Next()
	}
}

// HashAdminKey produces the value for security.admin_key_hash.
func HashAdminKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func adminKeyFromRequest(c *gin.Context) string {
	if k := strings.TrimSpace(c.GetHeader(AdminKeyHeader)); k != "" {
		return k
	}
	auth := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}
	return ""
}

func abortAdmin(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success":   false,
		"error":     message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
