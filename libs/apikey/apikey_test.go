package apikey

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestGenerateParseVerify(t *testing.T) {
	key, prefix, hash, err := Generate("dev")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	env, parsedPrefix, secret, err := Parse(key)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if env != "dev" {
		t.Fatalf("expected env dev, got %s", env)
	}
	if parsedPrefix != prefix {
		t.Fatalf("expected prefix %s, got %s", prefix, parsedPrefix)
	}
	if secret == "" {
		t.Fatalf("expected secret")
	}

	if err := Verify(key, Record{KeyHash: hash}, "127.0.0.1"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := Verify(key, Record{KeyHash: Hash(prefix, "other")}, "127.0.0.1"); err != ErrInvalidKey {
		t.Fatalf("expected invalid key, got %v", err)
	}
}

func TestVerifyRejectsRevoked(t *testing.T) {
	key, _, hash, _ := Generate("dev")
	now := time.Now()
	record := Record{KeyHash: hash, RevokedAt: &now}
	if err := Verify(key, record, "127.0.0.1"); err != ErrRevokedKey {
		t.Fatalf("expected revoked error")
	}
}

func TestIPAllowlist(t *testing.T) {
	allowed := []string{"10.0.0.0/8", "203.0.113.1"}
	if !IPAllowed("10.1.2.3", allowed) {
		t.Fatalf("expected ip allowed")
	}
	if !IPAllowed("203.0.113.1", allowed) {
		t.Fatalf("expected ip allowed")
	}
	if IPAllowed("192.168.1.1", allowed) {
		t.Fatalf("expected ip denied")
	}
}

func TestValidateIPWhitelist(t *testing.T) {
	if err := ValidateIPWhitelist([]string{"10.0.0.0/8", "203.0.113.1"}); err != nil {
		t.Fatalf("expected valid whitelist")
	}
	if err := ValidateIPWhitelist([]string{"bad"}); err == nil {
		t.Fatalf("expected invalid whitelist")
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	key, prefix, hash, err := Generate("test")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	lookup := StaticLookup{prefix: {Prefix: prefix, Gateway: "sandbox", KeyHash: hash, Scopes: []string{ScopePaymentsNotify}}}

	r := gin.New()
	r.POST("/hook", Middleware(lookup, ScopePaymentsNotify), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"gateway": c.GetString(ContextGatewayKey)})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/hook", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/hook", nil)
	req.Header.Set(HeaderName, key)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d", w.Code)
	}
}
