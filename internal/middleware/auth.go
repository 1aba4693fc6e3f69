// AngelaMos | 2026
// auth.go

package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/carterperez-dev/templates/credential-engine/internal/core"
)

const PrincipalIDKey contextKey = "principal_id"

// TokenVerifier resolves a bearer token to a principal id. token.Issuer
// satisfies it.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

func Authenticator(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractToken(r)

			if token == "" {
				core.JSONError(
					w,
					core.UnauthorizedError("missing authorization token"),
				)
				return
			}

			principalID, err := verifier.Verify(token)
			if err != nil {
				slog.DebugContext(r.Context(), "access token rejected",
					"error", err,
					"request_id", GetRequestID(r.Context()),
				)
				core.JSONError(w, core.ReauthenticateError())
				return
			}

			ctx := context.WithValue(r.Context(), PrincipalIDKey, principalID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin admits only the configured operator principals. It must run
// after Authenticator.
func RequireAdmin(principalIDs []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(principalIDs))
	for _, id := range principalIDs {
		if id = strings.TrimSpace(id); id != "" {
			allowed[id] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principalID := GetPrincipalID(r.Context())

			if principalID == "" {
				core.JSONError(
					w,
					core.UnauthorizedError("authentication required"),
				)
				return
			}

			if _, ok := allowed[principalID]; !ok {
				core.JSONError(
					w,
					core.ForbiddenError("insufficient permissions"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func ExtractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

func GetPrincipalID(ctx context.Context) string {
	if id, ok := ctx.Value(PrincipalIDKey).(string); ok {
		return id
	}
	return ""
}

// WithPrincipalID is used by tests and internal callers that have already
// authenticated the request.
func WithPrincipalID(ctx context.Context, principalID string) context.Context {
	return context.WithValue(ctx, PrincipalIDKey, principalID)
}
