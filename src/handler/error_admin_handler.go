package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"fleetadmin/src/auth"
	"fleetadmin/src/model"
	"fleetadmin/src/tracking"
)

// ErrorAdminService is the slice of the tracking service the admin
// endpoints need.
type ErrorAdminService interface {
	Resolve(ctx context.Context, id uint, resolvedBy uint) error
	GetStats(ctx context.Context) (*tracking.Stats, error)
}

// ErrorLister reads tracked errors for the admin listing.
type ErrorLister interface {
	ListUnresolved(ctx context.Context, limit int) ([]model.TrackedError, error)
	ListAll(ctx context.Context, limit int) ([]model.TrackedError, error)
}

// ErrorReader loads a single tracked error.
type ErrorReader interface {
	FindByID(ctx context.Context, id uint) (*model.TrackedError, error)
}

// ListErrorsHandler returns tracked errors, unresolved by default.
// Query params: limit (default 100), all=true to include resolved records.
func ListErrorsHandler(lister ErrorLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		var (
			records []model.TrackedError
			err     error
		)
		if r.URL.Query().Get("all") == "true" {
			records, err = lister.ListAll(r.Context(), limit)
		} else {
			records, err = lister.ListUnresolved(r.Context(), limit)
		}

		if err != nil {
			logger.WithError(err).Error("failed to list tracked errors")
			http.Error(w, "Unable to list errors", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(records); err != nil {
			logger.WithError(err).Error("failed to encode error list")
		}
	}
}

// ErrorDetailHandler returns a single tracked error by id.
func ErrorDetailHandler(reader ErrorReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "Invalid error id", http.StatusBadRequest)
			return
		}

		record, err := reader.FindByID(r.Context(), uint(id))
		if err != nil {
			logger.WithError(err).WithField("id", id).Error("failed to load tracked error")
			http.Error(w, "Unable to load error", http.StatusInternalServerError)
			return
		}
		if record == nil {
			http.Error(w, "Error not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(record); err != nil {
			logger.WithError(err).Error("failed to encode tracked error")
		}
	}
}

// ErrorStatsHandler returns aggregate error counts and suppression state.
func ErrorStatsHandler(svc ErrorAdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.GetStats(r.Context())
		if err != nil {
			logger.WithError(err).Error("failed to compute error stats")
			http.Error(w, "Unable to compute stats", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			logger.WithError(err).Error("failed to encode error stats")
		}
	}
}

// ResolveErrorHandler marks a tracked error resolved by the authenticated
// admin. The engine never resolves records on its own.
func ResolveErrorHandler(svc ErrorAdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			logger.Warn("user not found in context during error resolve")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "Invalid error id", http.StatusBadRequest)
			return
		}

		if err := svc.Resolve(r.Context(), uint(id), user.ID); err != nil {
			if errors.Is(err, tracking.ErrNotFound) {
				http.Error(w, "Error not found or already resolved", http.StatusNotFound)
				return
			}

			logger.WithError(err).WithField("id", id).Error("failed to resolve tracked error")
			http.Error(w, "Unable to resolve error", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
