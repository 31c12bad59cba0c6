package httpmiddleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AfshinJalili/goinvest/libs/logging"
	"github.com/gin-gonic/gin"
)

type stubLimiter struct {
	allowed bool
	retry   time.Duration
	err     error
	keys    []string
}

func (s *stubLimiter) Allow(_ context.Context, key string, _ time.Time) (bool, time.Duration, error) {
	s.keys = append(s.keys, key)
	return s.allowed, s.retry, s.err
}

func newRouter(limiter Limiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Recovery(logging.Discard()), RateLimit(limiter, nil, logging.Discard()))
	r.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	return r
}

func TestRateLimitRejects(t *testing.T) {
	lim := &stubLimiter{allowed: false, retry: 1500 * time.Millisecond}
	w := httptest.NewRecorder()
	newRouter(lim).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "2" {
		t.Fatalf("expected Retry-After 2, got %q", w.Header().Get("Retry-After"))
	}
	if len(lim.keys) != 1 || lim.keys[0][:3] != "ip:" {
		t.Fatalf("expected ip key, got %v", lim.keys)
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	lim := &stubLimiter{err: errors.New("redis down")}
	w := httptest.NewRecorder()
	newRouter(lim).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	newRouter(&stubLimiter{allowed: true}).ServeHTTP(w, req)
	if w.Header().Get(RequestIDHeader) != "req-1" {
		t.Fatalf("expected request id echoed, got %q", w.Header().Get(RequestIDHeader))
	}
}

func TestRecoveryReturnsJSON(t *testing.T) {
	w := httptest.NewRecorder()
	newRouter(&stubLimiter{allowed: true}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}
