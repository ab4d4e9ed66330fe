package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	apiKeyKey    contextKey = "api_key"
	operatorKey  contextKey = "operator"
)

// RequestIDFrom returns the correlation id attached by the RequestID middleware.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// APIKey returns the credential accepted by RequireAPIKey.
func APIKey(ctx context.Context) string {
	key, _ := ctx.Value(apiKeyKey).(string)
	return key
}

// Operator returns the operator name accepted by RequireOperator.
func Operator(ctx context.Context) string {
	name, _ := ctx.Value(operatorKey).(string)
	return name
}

// ClientIP returns the caller address. With trustProxy the first
// X-Forwarded-For hop wins.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
