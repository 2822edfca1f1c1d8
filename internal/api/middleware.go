/**
 * @description
 * Authentication middleware for the billing service: JWT bearer auth for
 * owner-facing routes and a shared internal API key for server-to-server
 * calls (manual sweep trigger, manual charge).
 */
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

// RestaurantIDContextKey is the key used to store the authenticated
// restaurant id in the request context.
const RestaurantIDContextKey = contextKey("restaurantID")

// AuthMiddleware validates owner JWTs and injects the restaurant id into
// context. Tokens are HS256-signed by the platform's auth service; the
// restaurant id travels in the "restaurant_id" claim.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Invalid token claims", http.StatusUnauthorized)
				return
			}

			restaurantID, ok := claims["restaurant_id"].(string)
			if !ok || restaurantID == "" {
				http.Error(w, "Restaurant ID not found in token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), RestaurantIDContextKey, restaurantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// InternalAuthMiddleware validates the internal API key for server-to-server
// calls. An empty configured key disables the check (local development).
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiredKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-Internal-API-Key")
			if provided == "" || provided != requiredKey {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RestaurantFromContext retrieves the restaurant id from the request context.
func RestaurantFromContext(ctx context.Context) (string, bool) {
	restaurantID, ok := ctx.Value(RestaurantIDContextKey).(string)
	return restaurantID, ok
}
