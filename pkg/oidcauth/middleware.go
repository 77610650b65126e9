package oidcauth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// TokenValidator turns a bearer token into claims.
type TokenValidator interface {
	Authenticate(ctx context.Context, token string) (*Claims, error)
}

type claimsKey struct{}

// Middleware rejects requests without a valid bearer token and stores the
// caller's claims in the request context.
func Middleware(v TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w, "missing bearer token")
				return
			}

			claims, err := v.Authenticate(r.Context(), token)
			if err != nil {
				logger.Info("rejected token", "remote_addr", r.RemoteAddr, "error", err)
				unauthorized(w, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the claims stored by Middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="formdata"`)
	http.Error(w, msg, http.StatusUnauthorized)
}
