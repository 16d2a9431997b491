package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/SirClappington/gigboard/internal/domain"
)

func mintToken(t *testing.T, key []byte, subject string, admin bool) string {
	t.Helper()
	claims := identityClaims{
		Admin: admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func TestIdentityMiddleware(t *testing.T) {
	t.Parallel()
	key := []byte("test-signing-key")

	var got domain.Caller
	var called bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, called = domain.Caller{}, true
		if c, ok := CallerFrom(r.Context()); ok {
			got = c
		}
	})
	handler := Identity(key)(next)

	t.Run("valid token resolves caller", func(t *testing.T) {
		called = false
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+mintToken(t, key, "user-1", true))
		handler.ServeHTTP(httptest.NewRecorder(), req)
		if !called {
			t.Fatal("next not called")
		}
		if got.ID != "user-1" || !got.Admin {
			t.Fatalf("caller = %+v", got)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		called = false
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if called || rec.Code != http.StatusUnauthorized {
			t.Fatalf("called = %v, code = %d", called, rec.Code)
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		called = false
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+mintToken(t, []byte("other-key"), "user-1", false))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if called || rec.Code != http.StatusUnauthorized {
			t.Fatalf("called = %v, code = %d", called, rec.Code)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		called = false
		claims := identityClaims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		}}
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if called || rec.Code != http.StatusUnauthorized {
			t.Fatalf("called = %v, code = %d", called, rec.Code)
		}
	})
}
