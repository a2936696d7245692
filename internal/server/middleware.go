package server

import (
	"net/http"
	"strings"
)

// bearerOrQueryOrCookieToken extracts a token value per spec.md 6's
// auth precedence: Bearer header, then token query parameter, then
// auth_token cookie — the teacher's adminAuthMiddleware only checks the
// header; this generalizes it to the three sources spec.md names, header
// first matching the teacher's own convention.
func bearerOrQueryOrCookieToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token := strings.TrimPrefix(auth, "Bearer "); token != auth {
			return token
		}
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if c, err := r.Cookie("auth_token"); err == nil && c.Value != "" {
		return c.Value
	}
	return ""
}

// currentUser resolves the requesting user's ID, if any. Handlers that
// require auth treat "" as PermissionDenied; handlers like InfoAPI treat
// it as an anonymous visitor.
func (s *Server) currentUser(r *http.Request) string {
	token := bearerOrQueryOrCookieToken(r)
	if token == "" {
		return ""
	}
	userID, err := s.authSvc.Validate(r.Context(), token)
	if err != nil {
		return ""
	}
	return userID
}

// adminAuthMiddleware protects the settings group with the configured
// admin bearer token, mirroring the teacher's adminAuthMiddleware: no
// token configured means the surface is unreachable, not open.
func (s *Server) adminAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.config.AdminToken == "" {
				httpResponse(w, "admin token not configured", http.StatusForbidden)
				return
			}
			auth := r.Header.Get("Authorization")
			token := strings.TrimPrefix(auth, "Bearer ")
			if token == auth || token != s.config.AdminToken {
				httpResponse(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
