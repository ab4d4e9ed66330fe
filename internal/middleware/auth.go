package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/fastsubmit/formgate/internal/apierr"
)

const (
	apiKeyHeader = "X-API-Key"
	apiKeyQuery  = "apiKey"
)

// APIKeyFromRequest reads the credential from the x-api-key header, or the
// apiKey query parameter when the header is absent.
func APIKeyFromRequest(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(apiKeyHeader)); key != "" {
		return key
	}
	return strings.TrimSpace(r.URL.Query().Get(apiKeyQuery))
}

// RequireAPIKey rejects requests without a credential with 401. It does not
// validate the key; ownership is checked per resource by the guard.
func RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := APIKeyFromRequest(r)
		if key == "" {
			apierr.Write(w, apierr.ErrMissingCredential)
			return
		}
		ctx := context.WithValue(r.Context(), apiKeyKey, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TokenVerifier validates an operator bearer token and returns the operator name.
type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

// RequireOperator guards the admin API with a bearer JWT.
func RequireOperator(v TokenVerifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				apierr.Write(w, apierr.ErrUnauthorized)
				return
			}
			name, err := v.VerifyToken(token)
			if err != nil {
				apierr.Write(w, apierr.ErrUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), operatorKey, name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
