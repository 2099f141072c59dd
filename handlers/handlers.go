// anonfeedback/handlers/handlers.go

package handlers

import (
	"anonfeedback/database"
	"anonfeedback/feedback"
	"anonfeedback/models"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// App is an interface that defines the dependencies our handlers need.
type App interface {
	Feedback() *feedback.Service
	DB() *database.DatabaseService
	RateLimiter() *models.RateLimiter
	Logger() *slog.Logger
	UploadDir() string
	BackupDir() string
	// APIKeyHash is the bcrypt hash of the gateway API key. Empty disables the check.
	APIKeyHash() string
}

// respondJSON sends a JSON response with a given status code.
func respondJSON(w http.ResponseWriter, status int, payload interface{}, app App) {
	response, err := json.Marshal(payload)
	if err != nil {
		app.Logger().Error("Failed to marshal JSON payload", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		if _, werr := w.Write([]byte(`{"error":"Failed to marshal JSON response"}`)); werr != nil {
			app.Logger().Error("Failed to write internal server error response", "error", werr)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(response); err != nil {
		app.Logger().Error("Failed to write JSON response", "error", err)
	}
}

// statusFor maps an engine error onto an HTTP status.
func statusFor(err error) int {
	switch feedback.CodeOf(err) {
	case feedback.CodeForbidden, feedback.CodeBanned, feedback.CodeBannedByOwner:
		return http.StatusForbidden
	case feedback.CodeRateLimited:
		return http.StatusTooManyRequests
	case feedback.CodeUploadExpired:
		return http.StatusGone
	}
	switch {
	case errors.Is(err, feedback.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, feedback.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, feedback.ErrPresentation):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError reports an engine error. Storage and unknown errors are
// logged and hidden from the caller.
func respondError(w http.ResponseWriter, err error, app App, logger *slog.Logger) {
	status := statusFor(err)
	msg := err.Error()
	var fe *feedback.Error
	if errors.As(err, &fe) {
		msg = fe.Msg
	}
	if status >= 500 {
		logger.Error("Request failed", "code", feedback.CodeOf(err), "error", err)
		if status == http.StatusInternalServerError {
			msg = "Internal error, please try again later."
		}
	}
	respondJSON(w, status, map[string]string{"error": msg, "code": feedback.CodeOf(err)}, app)
}

// decodeJSON reads a JSON request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, app App) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body: " + err.Error()}, app)
		return false
	}
	return true
}

// throttle applies the per-user command burst limit.
func throttle(w http.ResponseWriter, userID int64, app App, logger *slog.Logger) bool {
	if app.RateLimiter().Allow(userID) {
		return true
	}
	logger.Warn("Command throttled", "user_id", userID)
	respondJSON(w, http.StatusTooManyRequests, map[string]string{"error": "You are sending commands too quickly. Please wait a moment."}, app)
	return false
}

// MakeHandler adapts an App-aware handler to http.HandlerFunc.
func MakeHandler(app App, fn func(http.ResponseWriter, *http.Request, App)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn(w, r, app)
	}
}

// HandleHealth reports whether the database is reachable.
func HandleHealth(w http.ResponseWriter, r *http.Request, app App) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := app.DB().Ping(ctx); err != nil {
		app.Logger().Error("Health check failed", "error", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"}, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, app)
}
