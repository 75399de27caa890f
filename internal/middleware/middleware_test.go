package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/clipexam-backend/internal/config"
	"github.com/stemsi/clipexam-backend/internal/response"
	"github.com/stemsi/clipexam-backend/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestBrotliCompressesLargeBodies(t *testing.T) {
	body := strings.Repeat(`{"clip":"C1","outcome":1},`, 200)

	r := gin.New()
	r.Use(Brotli())
	r.GET("/big", func(c *gin.Context) { c.String(http.StatusOK, body) })
	r.GET("/small", func(c *gin.Context) { c.String(http.StatusCreated, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/big", nil)
	req.Header.Set("Accept-Encoding", "gzip, br;q=1.0")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "br", w.Header().Get("Content-Encoding"))
	plain, err := io.ReadAll(brotli.NewReader(bytes.NewReader(w.Body.Bytes())))
	require.NoError(t, err)
	assert.Equal(t, body, string(plain))

	req = httptest.NewRequest(http.MethodGet, "/small", nil)
	req.Header.Set("Accept-Encoding", "br")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, "ok", w.Body.String())
}

func TestRateLimiterLocalWindow(t *testing.T) {
	rl := NewRateLimiter(nil, "auth", 2, time.Minute, zerolog.Nop())
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	assert.True(t, rl.allowLocal("10.0.0.1", now))
	assert.True(t, rl.allowLocal("10.0.0.1", now))
	assert.False(t, rl.allowLocal("10.0.0.1", now))
	assert.True(t, rl.allowLocal("10.0.0.2", now))
	assert.True(t, rl.allowLocal("10.0.0.1", now.Add(time.Minute)))
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(nil, "auth", 1, time.Minute, zerolog.Nop())
	r := gin.New()
	r.Use(rl.Middleware())
	r.POST("/login", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestOperatorJWTAndSession(t *testing.T) {
	auth := service.NewAuthService(&config.Config{JWTSecret: "mw-secret", JWTExpiry: time.Hour}, nil, nil, zerolog.Nop())
	opToken, err := auth.GenerateOperatorToken(context.Background(), "OP-1")
	require.NoError(t, err)
	adminToken, err := auth.GenerateAdminToken("admin")
	require.NoError(t, err)

	r := gin.New()
	r.Use(response.RequestIDMiddleware(zerolog.Nop()))
	r.GET("/op", RequireOperatorJWT(auth), CheckSingleDeviceSession(auth), func(c *gin.Context) {
		c.String(http.StatusOK, GetClaims(c).OperatorID)
	})
	r.GET("/ws", RequireOperatorWSAuth(auth), func(c *gin.Context) { c.Status(http.StatusOK) })

	call := func(path, header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := call("/op", "Bearer "+opToken)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OP-1", w.Body.String())

	assert.Equal(t, http.StatusForbidden, call("/op", "Bearer "+adminToken).Code)
	assert.Equal(t, http.StatusUnauthorized, call("/op", "Bearer garbage").Code)
	assert.Equal(t, http.StatusUnauthorized, call("/op", "").Code)
	assert.Equal(t, http.StatusOK, call("/ws?token="+opToken, "").Code)
	assert.Equal(t, http.StatusUnauthorized, call("/ws", "Bearer "+opToken).Code)
}
