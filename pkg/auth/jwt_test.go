package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func TestTokenRoundTrip(t *testing.T) {
	tok, err := NewAccessToken("user-1", "a@example.com", RolePhotographer, secret, time.Minute)
	require.NoError(t, err)

	claims, err := Parse(tok, secret)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Sub)
	assert.Equal(t, RolePhotographer, claims.Role)

	_, err = Parse(tok, "other-secret")
	assert.Error(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	tok, err := NewAccessToken("user-1", "a@example.com", RoleCustomer, secret, -time.Minute)
	require.NoError(t, err)

	_, err = Parse(tok, secret)
	assert.Error(t, err)
}

func TestRequireJWT(t *testing.T) {
	var seen *Claims
	h := RequireJWT(secret, RoleCustomer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(role string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if role != "" {
			tok, err := NewAccessToken("u-"+role, "", role, secret, time.Minute)
			require.NoError(t, err)
			req.Header.Set("Authorization", "Bearer "+tok)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, call(""))
	assert.Equal(t, http.StatusForbidden, call(RolePhotographer))
	assert.Equal(t, http.StatusNoContent, call(RoleCustomer))
	require.NotNil(t, seen)
	assert.Equal(t, "u-customer", seen.Sub)
	assert.Equal(t, http.StatusNoContent, call(RoleAdmin))
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(RolePhotographer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(c *Claims) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if c != nil {
			req = req.WithContext(WithClaims(req.Context(), c))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, call(nil))
	assert.Equal(t, http.StatusForbidden, call(&Claims{Sub: "c", Role: RoleCustomer}))
	assert.Equal(t, http.StatusNoContent, call(&Claims{Sub: "p", Role: RolePhotographer}))
	assert.Equal(t, http.StatusNoContent, call(&Claims{Sub: "a", Role: RoleAdmin}))
}
