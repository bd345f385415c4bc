package http

import (
	"context"
	"net/http"
	"strings"

	"tally/internal/auth"
	"tally/internal/core"
)

type contextKey string

const claimsKey contextKey = "claims"

// claimsFrom returns the authenticated claims, or nil outside an
// authenticated handler.
func claimsFrom(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

// requireAuth validates the Bearer token and stores the claims in the
// request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, r, auth.ErrMissingToken)
			return
		}

		parts := strings.Split(header, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, r, auth.ErrInvalidToken)
			return
		}

		claims, err := s.jwt.Validate(parts[1])
		if err != nil {
			writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next(w, r.WithContext(ctx))
	}
}

// requireAdmin is requireAuth plus an admin role check.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFrom(r.Context())
		if claims == nil || claims.Role != string(core.RoleAdmin) {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "admin privileges required"})
			return
		}
		next(w, r)
	})
}
