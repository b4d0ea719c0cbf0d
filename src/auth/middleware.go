package auth

import (
	"context"
	"net/http"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"fleetadmin/src/model"
)

// UserLookup resolves the admin identity presented in request headers.
type UserLookup interface {
	GetUserByUserName(ctx context.Context, userName string) (*model.User, error)
}

// RequireAPIKey guards admin routes. Clients send X-API-User and X-API-Key;
// the key is compared against the stored bcrypt hash and the user is placed
// in the request context.
func RequireAPIKey(users UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userName := r.Header.Get("X-API-User")
			apiKey := r.Header.Get("X-API-Key")

			if userName == "" || apiKey == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			user, err := users.GetUserByUserName(r.Context(), userName)
			if err != nil || user == nil {
				logger.WithField("user", userName).Warn("unknown API user")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if err := bcrypt.CompareHashAndPassword([]byte(user.APIKeyHash), []byte(apiKey)); err != nil {
				logger.WithField("user", userName).Warn("invalid API key")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
