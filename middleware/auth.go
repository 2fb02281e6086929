package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"notion-collab/core"
	"notion-collab/handlers/auth"

	"github.com/go-chi/render"
)

type contextKey string

const (
	IdentityContextKey  = contextKey("identity")
	PrincipalContextKey = contextKey("principal")
)

// Authenticator is the part of auth.Authenticator the HTTP API needs.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (core.Identity, *auth.Principal, error)
}

// AuthJWT requires a bearer token and stores the resolved identity and
// principal in the request context.
func AuthJWT(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, map[string]string{"error": "Authorization header is required"})
				return
			}

			tokenString, ok := auth.BearerToken(authHeader)
			if !ok {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, map[string]string{"error": "Authorization header format must be Bearer {token}"})
				return
			}

			identity, principal, err := authn.Authenticate(r.Context(), strings.TrimSpace(tokenString))
			if err != nil {
				msg := "Invalid token"
				if errors.Is(err, auth.ErrUserNotFound) {
					msg = "User not found"
				}
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, map[string]string{"error": msg})
				return
			}

			ctx := context.WithValue(r.Context(), IdentityContextKey, identity)
			ctx = context.WithValue(ctx, PrincipalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func IdentityFrom(ctx context.Context) (core.Identity, bool) {
	id, ok := ctx.Value(IdentityContextKey).(core.Identity)
	return id, ok
}

func PrincipalFrom(ctx context.Context) (*auth.Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(*auth.Principal)
	return p, ok && p != nil
}
