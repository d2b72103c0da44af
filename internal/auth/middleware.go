package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/appliance-health/healthd/internal/logging"
	"github.com/appliance-health/healthd/internal/models"
)

const realm = `Basic realm="healthd", charset="UTF-8"`

// BasicAuthMiddleware enforces HTTP Basic Authentication on the API.
// When auth is disabled requests pass through untouched.
func BasicAuthMiddleware(cfg models.AuthConfig) func(http.Handler) http.Handler {
	logger := logging.For("auth")
	return func(next http.Handler) http.Handler {
		if !cfg.Enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, password, ok := r.BasicAuth()
			if !ok || !validateCredentials(username, password, cfg.Username, cfg.Password) {
				if ok {
					logger.Warnf("Rejected credentials for %q from %s", username, r.RemoteAddr)
				}
				w.Header().Set("WWW-Authenticate", realm)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// validateCredentials compares both fields in constant time
func validateCredentials(providedUser, providedPass, validUser, validPass string) bool {
	usernameMatch := subtle.ConstantTimeCompare([]byte(providedUser), []byte(validUser)) == 1
	passwordMatch := subtle.ConstantTimeCompare([]byte(providedPass), []byte(validPass)) == 1

	return usernameMatch && passwordMatch
}
