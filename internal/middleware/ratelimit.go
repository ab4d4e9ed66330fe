package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/fastsubmit/formgate/internal/apierr"
	"github.com/fastsubmit/formgate/internal/auth"
	"github.com/fastsubmit/formgate/internal/limiter"
)

// AdmitFunc checks one request of identity against a limit class.
type AdmitFunc func(ctx context.Context, identity string) (limiter.Decision, error)

// IdentityFunc derives the rate limit identity of a request.
type IdentityFunc func(r *http.Request) string

// IPIdentity limits by client address.
func IPIdentity(trustProxy bool) IdentityFunc {
	return func(r *http.Request) string {
		return "ip:" + ClientIP(r, trustProxy)
	}
}

// KeyIdentity limits by the presented API key, falling back to the client
// address. Keys are hashed so raw credentials never become bucket names.
func KeyIdentity(trustProxy bool) IdentityFunc {
	return func(r *http.Request) string {
		if key := APIKeyFromRequest(r); key != "" {
			return "key:" + auth.HashAPIKey(key)
		}
		return "ip:" + ClientIP(r, trustProxy)
	}
}

// RateLimit admits or rejects the request before any credential is looked
// at. Preflight requests are never counted.
func RateLimit(admit AdmitFunc, identity IdentityFunc) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			d, err := admit(r.Context(), identity(r))
			if err != nil {
				apierr.Write(w, err)
				return
			}
			setRateLimitHeaders(w.Header(), d)

			if !d.Allowed {
				w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSeconds(d.RetryAfter), 10))
				apierr.WriteBody(w, http.StatusTooManyRequests, apierr.Body{
					Error:        apierr.ErrRateLimited.Message,
					RetryAfterMs: d.RetryAfter.Milliseconds(),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// setRateLimitHeaders skips decisions made without the backend (fail open).
func setRateLimitHeaders(h http.Header, d limiter.Decision) {
	if d.Remaining < 0 {
		return
	}
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

func retryAfterSeconds(d time.Duration) int64 {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
