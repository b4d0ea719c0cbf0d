package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"fleetadmin/src/auth"
	"fleetadmin/src/model"
)

// UserStore is the slice of the user repository the account endpoints need.
type UserStore interface {
	Update(ctx context.Context, user *model.User) error
}

// UpdateProfileHandler lets the authenticated admin change their own profile
// fields. Unknown fields are rejected.
func UpdateProfileHandler(users UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			logger.Warn("user not found in context during profile update")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var payload model.UpdateUserPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			logger.WithError(err).Warn("invalid profile update payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		if payload.Email != nil {
			user.Email = strings.TrimSpace(*payload.Email)
		}
		if payload.FirstName != nil {
			user.FirstName = strings.TrimSpace(*payload.FirstName)
		}
		if payload.LastName != nil {
			user.LastName = strings.TrimSpace(*payload.LastName)
		}

		if err := users.Update(r.Context(), user); err != nil {
			logger.WithError(err).Error("failed to update user profile")
			http.Error(w, "Unable to update profile", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(user); err != nil {
			logger.WithError(err).Error("failed to encode user response")
		}
	}
}

type rotateAPIKeyResponse struct {
	APIKey string `json:"api_key"`
}

// RotateAPIKeyHandler issues the authenticated admin a fresh API key. The
// plaintext key is returned exactly once; only its bcrypt hash is stored.
func RotateAPIKeyHandler(users UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			logger.Warn("user not found in context during API key rotation")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		newKey := uuid.NewString()

		hash, err := bcrypt.GenerateFromPassword([]byte(newKey), bcrypt.DefaultCost)
		if err != nil {
			logger.WithError(err).Error("failed to hash new API key")
			http.Error(w, "Unable to rotate API key", http.StatusInternalServerError)
			return
		}

		user.APIKeyHash = string(hash)

		if err := users.Update(r.Context(), user); err != nil {
			logger.WithError(err).Error("failed to store rotated API key")
			http.Error(w, "Unable to rotate API key", http.StatusInternalServerError)
			return
		}

		logger.WithField("user_id", user.ID).Info("API key rotated")

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(rotateAPIKeyResponse{APIKey: newKey}); err != nil {
			logger.WithError(err).Error("failed to encode API key response")
		}
	}
}
