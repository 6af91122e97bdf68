package middleware

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/diagnosis/lenslink/internal/http/response"
	"github.com/diagnosis/lenslink/pkg/logger"
)

// RateCounter counts hits for a key within a fixed window that starts at the
// key's first hit.
type RateCounter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimitConfig defines rate limiting parameters
type RateLimitConfig struct {
	Requests int                            // Max requests per window
	Window   time.Duration                  // Time window duration
	KeyFunc  func(r *http.Request) []string // Keys to count this request against
	SkipFunc func(r *http.Request) bool     // Requests that are never limited
}

// RateLimit rejects requests once any of their keys exceeds the configured
// count. Counter failures let the request through.
func RateLimit(counter RateCounter, cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.SkipFunc != nil && cfg.SkipFunc(r) {
				next.ServeHTTP(w, r)
				return
			}

			for _, key := range cfg.KeyFunc(r) {
				hasher := sha256.New()
				hasher.Write([]byte(key))
				hashedKey := fmt.Sprintf("ratelimit:%x", hasher.Sum(nil))

				count, err := counter.Incr(r.Context(), hashedKey, cfg.Window)
				if err != nil {
					logger.WarnContext(r.Context(), "Rate limit check failed", "error", err)
					continue
				}
				if count > int64(cfg.Requests) {
					w.Header().Set("Retry-After", strconv.Itoa(int(cfg.Window.Seconds())))
					response.RateLimit(w, "Too many requests. Try again later.")
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIPKey limits by the caller's address.
func ClientIPKey(r *http.Request) []string {
	if ip := clientIP(r); ip != "" {
		return []string{"ip:" + ip}
	}
	return nil
}

// clientIP extracts the real client IP from the request
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first IP if there are multiple
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
