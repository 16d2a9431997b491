package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/SirClappington/gigboard/internal/domain"
)

type ctxKey int

const callerKey ctxKey = iota

// CallerFrom returns the identity the middleware resolved for this
// request, if any.
func CallerFrom(ctx context.Context) (domain.Caller, bool) {
	c, ok := ctx.Value(callerKey).(domain.Caller)
	return c, ok
}

// WithCaller injects an identity directly. Test hook.
func WithCaller(ctx context.Context, c domain.Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

type identityClaims struct {
	Admin bool `json:"admin"`
	jwt.RegisteredClaims
}

// Identity resolves the caller from a bearer token signed with key. The
// subject claim is the caller id; the admin claim reports elevated
// privilege. Requests without a resolvable identity get 401.
func Identity(key []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if raw == "" || raw == r.Header.Get("Authorization") {
				respondError(w, domain.Unauthorized("missing bearer token"))
				return
			}
			var claims identityClaims
			_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return key, nil
			})
			if err != nil || claims.Subject == "" {
				respondError(w, domain.Unauthorized("invalid token"))
				return
			}
			caller := domain.Caller{ID: claims.Subject, Admin: claims.Admin}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}
