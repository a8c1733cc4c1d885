package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// requireAdmin is middleware that validates the bearer JWT and checks
// the admin claim. With no secret configured every request passes.
func (r *Router) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !r.auth.Enabled() {
			next.ServeHTTP(w, req)
			return
		}

		authHeader := req.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		claims, err := r.auth.ValidateToken(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if !claims.Admin {
			r.logger.Warn("non-admin token used on admin route",
				zap.String("subject", claims.Subject),
				zap.String("path", req.URL.Path))
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, req)
	})
}
