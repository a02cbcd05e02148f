package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aman-churiwal/chatguard/internal/models"
	"github.com/aman-churiwal/chatguard/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "middleware-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func operatorToken(t *testing.T, role string) string {
	return signToken(t, testSecret, jwt.MapClaims{
		"user_id": "op-1",
		"email":   "ops@example.com",
		"role":    role,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
}

func newAdminRouter() *gin.Engine {
	authService := service.NewAuthService(nil, testSecret, 1)

	r := gin.New()
	r.GET("/admin/stats", RequireAuth(authService), RequireRole(models.RoleAdmin), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"email": c.GetString("email"), "user_id": c.GetString("user_id")})
	})
	return r
}

func TestRequireAuth(t *testing.T) {
	r := newAdminRouter()

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer abc", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, "other", jwt.MapClaims{"role": "admin"}), http.StatusUnauthorized},
		{"operator role", "Bearer " + operatorToken(t, models.RoleOperator), http.StatusForbidden},
		{"admin role", "Bearer " + operatorToken(t, models.RoleAdmin), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.JSONEq(t, `{"email":"ops@example.com","user_id":"op-1"}`, w.Body.String())
			}
		})
	}
}

func TestIdentity(t *testing.T) {
	r := gin.New()
	r.Use(Identity(testSecret))
	r.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("user_id"))
	})

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"anonymous", "", ""},
		{"user_id claim", "Bearer " + signToken(t, testSecret, jwt.MapClaims{"user_id": "u-42"}), "u-42"},
		{"sub claim", "Bearer " + signToken(t, testSecret, jwt.MapClaims{"sub": "u-7"}), "u-7"},
		{"forged token", "Bearer " + signToken(t, "attacker", jwt.MapClaims{"user_id": "victim"}), ""},
		{"expired token", "Bearer " + signToken(t, testSecret, jwt.MapClaims{
			"user_id": "u-42",
			"exp":     time.Now().Add(-time.Minute).Unix(),
		}), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, w.Body.String())
		})
	}
}

func TestIdentity_DisabledWithoutSecret(t *testing.T) {
	r := gin.New()
	r.Use(Identity(""))
	r.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("user_id"))
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, jwt.MapClaims{"user_id": "u-1"}))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Empty(t, w.Body.String())
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("request_id"))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Body.String())
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, w.Body.String(), 36)
}
