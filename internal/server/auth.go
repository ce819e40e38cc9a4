package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const identityKey contextKey = "approver-identity"

// Identity is the authenticated approver resolved from a bearer token.
type Identity struct {
	Subject string
	Email   string
}

// IdentityFrom returns the authenticated identity, if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// authMiddleware verifies HS256 bearer tokens minted by the identity
// backend and attaches the approver identity to the request context.
// When required is false, unauthenticated requests pass through with
// no identity.
func authMiddleware(secret string, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				if required {
					writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "bearer token required", false)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			claims := jwt.MapClaims{}
			_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "BAD_TOKEN", err.Error(), false)
				return
			}

			id := Identity{}
			if sub, ok := claims["sub"].(string); ok {
				id.Subject = sub
			}
			if email, ok := claims["email"].(string); ok {
				id.Email = email
			}
			if id.Subject == "" {
				writeError(w, http.StatusUnauthorized, "BAD_TOKEN", "token missing subject", false)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
