package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"taxcore/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var secret = []byte("test-secret")

func sign(t *testing.T, key []byte, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/guarded", middleware.RequireRole(secret, middleware.RoleAdmin, middleware.RoleTaxManager), func(c *gin.Context) {
		c.String(http.StatusOK, middleware.ActorID(c))
	})
	return r
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		cookie     string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "bearer token with allowed role",
			header:     "Bearer " + sign(t, secret, jwt.MapClaims{"sub": "user-1", "role": middleware.RoleAdmin}),
			wantStatus: http.StatusOK,
			wantBody:   "user-1",
		},
		{
			name:       "cookie token",
			cookie:     sign(t, secret, jwt.MapClaims{"sub": "user-2", "role": middleware.RoleTaxManager}),
			wantStatus: http.StatusOK,
			wantBody:   "user-2",
		},
		{
			name:       "missing token",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "malformed header",
			header:     "Token abc",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong signing key",
			header:     "Bearer " + sign(t, []byte("other"), jwt.MapClaims{"sub": "user-1", "role": middleware.RoleAdmin}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "role not allowed",
			header:     "Bearer " + sign(t, secret, jwt.MapClaims{"sub": "user-1", "role": middleware.RoleService}),
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "no role claim",
			header:     "Bearer " + sign(t, secret, jwt.MapClaims{"sub": "user-1"}),
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "access_token", Value: tt.cookie})
			}
			rec := httptest.NewRecorder()
			newRouter().ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestParseToken_RejectsNonHMAC(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"role": "admin"})
	raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = middleware.ParseToken(secret, raw)
	assert.Error(t, err)
}

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)

	r := gin.New()
	r.Use(middleware.RequestLogger(zap.New(core)))
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, middleware.CorrelationID(c)) })
	r.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })

	t.Run("propagates incoming id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ok", nil)
		req.Header.Set(middleware.CorrelationIDHeader, "corr-123")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, "corr-123", rec.Header().Get(middleware.CorrelationIDHeader))
		assert.Equal(t, "corr-123", rec.Body.String())
	})

	t.Run("generates id when absent", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))

		assert.NotEmpty(t, rec.Header().Get(middleware.CorrelationIDHeader))
	})

	t.Run("client errors log at warn", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bad", nil))

		warned := logs.FilterMessage("request rejected").All()
		require.Len(t, warned, 1)
		assert.Equal(t, zapcore.WarnLevel, warned[0].Level)
		assert.Equal(t, "/bad", warned[0].ContextMap()["path"])
	})
}
