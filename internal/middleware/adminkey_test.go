package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

func newAdminRouter(hash string) *gin.Engine {
	r := gin.New()
	r.Use(AdminKeyMiddleware(hash))
	r.POST("/admin", func(c *gin.Context) {
		if _, ok := c.Get(AdminKeyContextKey); !ok {
			c.Status(http.StatusTeapot)
			return
		}
		c.Status(http.StatusOK)
	})
	return r
}

func TestAdminKeyMiddleware(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("operator-key"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		hash   string
		header string
		value  string
		want   int
	}{
		{"disabled without hash", "", AdminKeyHeader, "operator-key", http.StatusForbidden},
		{"missing key", string(hash), "", "", http.StatusUnauthorized},
		{"wrong key", string(hash), AdminKeyHeader, "nope", http.StatusUnauthorized},
		{"header key", string(hash), AdminKeyHeader, "operator-key", http.StatusOK},
		{"bearer key", string(hash), "Authorization", "Bearer operator-key", http.StatusOK},
		{"bearer lower case", string(hash), "Authorization", "bearer operator-key", http.StatusOK},
		{"basic scheme ignored", string(hash), "Authorization", "Basic operator-key", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/admin", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			newAdminRouter(tt.hash).ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestHashAdminKey(t *testing.T) {
	h, err := HashAdminKey("s3cret")
	if err != nil {
		t.Fatalf("HashAdminKey: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(h), []byte("s3cret")); err != nil {
		t.Errorf("hash does not verify: %v", err)
	}
}
