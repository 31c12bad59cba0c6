// Package apikey issues and verifies credentials for machine callers such as
// payment gateways posting confirmation webhooks.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	keyPrefix           = "gw"
	HeaderName          = "X-Gateway-Key"
	ContextGatewayKey   = "gateway"
	ScopePaymentsNotify = "payments:notify"
)

var (
	ErrInvalidKey       = errors.New("invalid api key")
	ErrRevokedKey       = errors.New("revoked api key")
	ErrIPNotAllowed     = errors.New("ip not allowed")
	ErrInvalidWhitelist = errors.New("invalid ip whitelist")
	ErrMissingScope     = errors.New("missing scope")
)

// Record is the stored form of a key. Only the hash of the secret is kept.
type Record struct {
	ID          string
	Prefix      string
	Gateway     string
	KeyHash     string
	Scopes      []string
	IPWhitelist []string
	RevokedAt   *time.Time
}

func (r Record) HasScope(scope string) bool {
	for _, s := range r.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Lookup resolves a key prefix to its record.
type Lookup interface {
	FindByPrefix(ctx context.Context, prefix string) (*Record, error)
}

func Generate(env string) (fullKey string, prefix string, hash string, err error) {
	prefix, err = generatePrefix()
	if err != nil {
		return "", "", "", err
	}
	secret, err := generateSecret()
	if err != nil {
		return "", "", "", err
	}
	fullKey = fmt.Sprintf("%s_%s_%s.%s", keyPrefix, env, prefix, secret)
	hash = Hash(prefix, secret)
	return fullKey, prefix, hash, nil
}

func Parse(key string) (env string, prefix string, secret string, err error) {
	parts := strings.SplitN(strings.TrimSpace(key), ".", 2)
	if len(parts) != 2 {
		return "", "", "", ErrInvalidKey
	}
	head := parts[0]
	secret = parts[1]

	headParts := strings.SplitN(head, "_", 3)
	if len(headParts) != 3 || headParts[0] != keyPrefix {
		return "", "", "", ErrInvalidKey
	}
	env = headParts[1]
	prefix = headParts[2]
	if env == "" || prefix == "" || secret == "" {
		return "", "", "", ErrInvalidKey
	}
	return env, prefix, secret, nil
}

func Hash(prefix, secret string) string {
	sum := sha256.Sum256([]byte(prefix + "." + secret))
	return hex.EncodeToString(sum[:])
}

func Verify(key string, record Record, clientIP string) error {
	_, prefix, secret, err := Parse(key)
	if err != nil {
		return err
	}

	hash := Hash(prefix, secret)
	if subtle.ConstantTimeCompare([]byte(hash), []byte(strings.ToLower(record.KeyHash))) != 1 {
		return ErrInvalidKey
	}
	if record.RevokedAt != nil {
		return ErrRevokedKey
	}
	if !IPAllowed(clientIP, record.IPWhitelist) {
		return ErrIPNotAllowed
	}
	return nil
}

// Middleware authenticates gateway callers by the X-Gateway-Key header and
// requires scope on the matched record.
func Middleware(lookup Lookup, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderName)
		_, prefix, _, err := Parse(key)
		if err != nil || lookup == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "invalid gateway key"})
			return
		}
		record, err := lookup.FindByPrefix(c.Request.Context(), prefix)
		if err != nil || record == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "invalid gateway key"})
			return
		}
		if err := Verify(key, *record, c.ClientIP()); err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, ErrIPNotAllowed) {
				status = http.StatusForbidden
			}
			c.AbortWithStatusJSON(status, gin.H{"code": "UNAUTHORIZED", "message": err.Error()})
			return
		}
		if scope != "" && !record.HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": "FORBIDDEN", "message": ErrMissingScope.Error()})
			return
		}
		c.Set(ContextGatewayKey, record.Gateway)
		c.Next()
	}
}

// StaticLookup serves records from memory, keyed by prefix.
type StaticLookup map[string]Record

func (s StaticLookup) FindByPrefix(_ context.Context, prefix string) (*Record, error) {
	record, ok := s[prefix]
	if !ok {
		return nil, ErrInvalidKey
	}
	return &record, nil
}

func ValidateIPWhitelist(whitelist []string) error {
	for _, entry := range whitelist {
		if strings.TrimSpace(entry) == "" {
			return ErrInvalidWhitelist
		}
		if strings.Contains(entry, "/") {
			if _, _, err := net.ParseCIDR(entry); err != nil {
				return ErrInvalidWhitelist
			}
			continue
		}
		if net.ParseIP(entry) == nil {
			return ErrInvalidWhitelist
		}
	}
	return nil
}

func IPAllowed(clientIP string, whitelist []string) bool {
	if len(whitelist) == 0 {
		return true
	}
	ip := net.ParseIP(clientIP)
	if ip == nil {
		return false
	}
	for _, entry := range whitelist {
		if strings.Contains(entry, "/") {
			_, netw, err := net.ParseCIDR(entry)
			if err == nil && netw.Contains(ip) {
				return true
			}
			continue
		}
		if parsed := net.ParseIP(entry); parsed != nil && parsed.Equal(ip) {
			return true
		}
	}
	return false
}

func generatePrefix() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return strings.ToLower(enc.EncodeToString(buf)), nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
