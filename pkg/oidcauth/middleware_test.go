package oidcauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeValidator map[string]*Claims

func (f fakeValidator) Authenticate(ctx context.Context, token string) (*Claims, error) {
	if c, ok := f[token]; ok {
		return c, nil
	}
	return nil, errors.New("unknown token")
}

func TestMiddleware(t *testing.T) {
	v := fakeValidator{"good": {Identity: "alice@example.com"}}

	var seen *Claims
	h := Middleware(v, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer good", http.StatusNoContent},
		{"lowercase scheme", "bearer good", http.StatusNoContent},
		{"missing", "", http.StatusUnauthorized},
		{"basic auth", "Basic Zm9vOmJhcg==", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"unknown token", "Bearer bad", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodPost, "/upload", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusUnauthorized {
				require.Nil(t, seen)
				require.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
				return
			}
			require.NotNil(t, seen)
			require.Equal(t, "alice@example.com", seen.Identity)
		})
	}
}

func TestClaimsFromContext_Empty(t *testing.T) {
	_, ok := ClaimsFromContext(t.Context())
	require.False(t, ok)
}
