package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime/debug"

	logger "github.com/sirupsen/logrus"

	"fleetadmin/src/auth"
	"fleetadmin/src/tracking"
)

// ErrorTracker is the slice of the tracking service the boundary needs.
type ErrorTracker interface {
	TrackError(ctx context.Context, report tracking.ErrorReport, reqCtx tracking.RequestContext) (*tracking.TrackResult, error)
}

// Boundary is the application's global error boundary. It classifies raw
// failures, hands them to the tracking engine and shapes the JSON response.
// The response to the client never depends on whether tracking succeeded.
type Boundary struct {
	tracker ErrorTracker
}

func NewBoundary(tracker ErrorTracker) *Boundary {
	return &Boundary{tracker: tracker}
}

type errorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// Recoverer catches handler panics, tracks them as system errors and returns
// a generic 500 to the client.
func (b *Boundary) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				message := "panic: " + toString(rec)
				b.report(r, message, string(debug.Stack()))

				writeJSONError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// HandleError is called by handlers that surface an error explicitly. The
// error is tracked and a user-safe JSON response is written.
func (b *Boundary) HandleError(w http.ResponseWriter, r *http.Request, err error, status int, userMessage string) {
	if err != nil {
		b.report(r, err.Error(), "")
	}
	if userMessage == "" {
		userMessage = http.StatusText(status)
	}

	writeJSONError(w, status, userMessage)
}

func (b *Boundary) report(r *http.Request, message, stack string) {
	errorType, source, severity := Classify(message, r.URL.Path)

	reqCtx := tracking.RequestContext{
		Route:  r.URL.Path,
		Method: r.Method,
		Metadata: map[string]interface{}{
			"user_agent": r.UserAgent(),
			"remote":     r.RemoteAddr,
		},
	}
	if user, ok := auth.GetUserFromContext(r.Context()); ok && user != nil {
		id := user.ID
		reqCtx.UserID = &id
	}

	_, err := b.tracker.TrackError(r.Context(), tracking.ErrorReport{
		ErrorType:   errorType,
		ErrorSource: source,
		Severity:    severity,
		Message:     message,
		StackTrace:  stack,
	}, reqCtx)

	// Losing the record is surfacing-worthy, but the client response is
	// already decided; log and move on.
	if err != nil {
		logger.WithError(err).WithField("route", r.URL.Path).
			Error("error tracking failed")
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: message, Status: status}); err != nil {
		logger.WithError(err).Error("failed to encode error response")
	}
}

func toString(v interface{}) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	raw, _ := json.Marshal(v)
	return string(raw)
}
