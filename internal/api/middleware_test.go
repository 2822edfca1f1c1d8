package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

const testJWTSecret = "test-secret"

func signedToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func authProtected(t *testing.T) (http.Handler, *string) {
	t.Helper()
	var seen string
	handler := AuthMiddleware(testJWTSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := RestaurantFromContext(r.Context())
		seen = id
		w.WriteHeader(http.StatusOK)
	}))
	return handler, &seen
}

func TestAuthMiddleware_ValidTokenInjectsRestaurantID(t *testing.T) {
	handler, seen := authProtected(t)

	req := httptest.NewRequest(http.MethodGet, "/billing/subscription", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, testJWTSecret, jwt.MapClaims{"restaurant_id": "rest-42"}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if *seen != "rest-42" {
		t.Fatalf("expected restaurant id rest-42 in context, got %q", *seen)
	}
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	handler, _ := authProtected(t)

	req := httptest.NewRequest(http.MethodGet, "/billing/subscription", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthMiddleware_WrongSecretIsRejected(t *testing.T) {
	handler, _ := authProtected(t)

	req := httptest.NewRequest(http.MethodGet, "/billing/subscription", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "other-secret", jwt.MapClaims{"restaurant_id": "rest-42"}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthMiddleware_MissingRestaurantClaim(t *testing.T) {
	handler, _ := authProtected(t)

	req := httptest.NewRequest(http.MethodGet, "/billing/subscription", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, testJWTSecret, jwt.MapClaims{"sub": "user-1"}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestInternalAuthMiddleware(t *testing.T) {
	handler := InternalAuthMiddleware("internal-key")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/internal/billing/sweep/run", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/internal/billing/sweep/run", nil)
	req.Header.Set("X-Internal-API-Key", "wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong key, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/internal/billing/sweep/run", nil)
	req.Header.Set("X-Internal-API-Key", "internal-key")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with correct key, got %d", rec.Code)
	}
}

func TestInternalAuthMiddleware_EmptyKeyDisablesCheck(t *testing.T) {
	handler := InternalAuthMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/internal/billing/sweep/run", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 when no key is configured, got %d", rec.Code)
	}
}
