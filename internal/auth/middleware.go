package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type ctxKey struct{}

var ErrNoClaims = errors.New("no claims in context")

func FromContext(ctx context.Context) (*Claims, bool) {
	cl, ok := ctx.Value(ctxKey{}).(*Claims)
	return cl, ok
}

// WithClaims returns ctx carrying cl, as the middleware does after verification.
func WithClaims(ctx context.Context, cl *Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, cl)
}

// UserID returns the caller's id from the claims in ctx.
func UserID(ctx context.Context) (uuid.UUID, error) {
	cl, ok := FromContext(ctx)
	if !ok {
		return uuid.Nil, ErrNoClaims
	}
	return uuid.Parse(cl.UserID)
}

// bearerToken extracts the credentials of an "Authorization: Bearer" header.
// The scheme is case-insensitive.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func deny(w http.ResponseWriter, status int, msg string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="retinascan"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// JWTMiddleware verifies the bearer token and stores its claims in the
// request context. Tokens whose subject is not a UUID are rejected.
func JWTMiddleware(secret, issuer string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				deny(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			cl, err := ParseToken(secret, issuer, raw)
			if err == nil {
				_, err = uuid.Parse(cl.UserID)
			}
			if err != nil {
				slog.Warn("rejected token", "path", r.URL.Path, "error", err)
				deny(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), cl)))
		})
	}
}

func RequirePerm(required string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cl, ok := FromContext(r.Context())
			if !ok {
				deny(w, http.StatusUnauthorized, "no auth context")
				return
			}
			if !HasPerm(cl.Roles, required) {
				slog.Debug("permission denied", "user_id", cl.UserID, "perm", required)
				deny(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
