package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestAuth() *Auth {
	return New(nil, "test-secret", time.Hour)
}

func TestIssueAndValidateToken(t *testing.T) {
	a := newTestAuth()

	tokenStr, expiresAt, err := a.IssueToken(7, "carol", true)
	if err != nil {
		t.Fatal(err)
	}
	if tokenStr == "" {
		t.Fatal("empty token")
	}
	if time.Until(expiresAt) <= 0 {
		t.Error("token already expired")
	}

	claims, err := a.validateToken(tokenStr)
	if err != nil {
		t.Fatalf("validateToken: %v", err)
	}
	if claims.UserID != 7 || claims.Username != "carol" || !claims.IsAdmin {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	a := newTestAuth()
	tokenStr, _, err := a.IssueToken(1, "dave", false)
	if err != nil {
		t.Fatal(err)
	}

	other := New(nil, "other-secret", time.Hour)
	if _, err := other.validateToken(tokenStr); err == nil {
		t.Error("token signed with a different secret should not validate")
	}
}

func TestValidateExpiredToken(t *testing.T) {
	a := New(nil, "test-secret", -time.Minute)
	tokenStr, _, err := a.IssueToken(1, "eve", false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.validateToken(tokenStr); err == nil {
		t.Error("expired token should not validate")
	}
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	a := newTestAuth()
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be reached")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/usage", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestMiddlewarePassesClaims(t *testing.T) {
	a := newTestAuth()
	tokenStr, _, err := a.IssueToken(3, "frank", false)
	if err != nil {
		t.Fatal(err)
	}

	var got *Claims
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetClaims(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/usage", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got == nil || got.UserID != 3 || got.Username != "frank" {
		t.Errorf("claims = %+v", got)
	}
}

func TestMiddlewareQueryTokenFallback(t *testing.T) {
	a := newTestAuth()
	tokenStr, _, err := a.IssueToken(4, "grace", false)
	if err != nil {
		t.Fatal(err)
	}

	called := false
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events?token="+tokenStr, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Errorf("query token should authenticate, status = %d", rec.Code)
	}
}
