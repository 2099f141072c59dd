// anonfeedback/handlers/actions.go
package handlers

import (
	"anonfeedback/config"
	"anonfeedback/feedback"
	"anonfeedback/models"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"
)

// invocationRequest is the platform context the gateway sends with every
// submitting command. Snowflake ids travel as strings.
type invocationRequest struct {
	UserID           int64  `json:"user_id,string"`
	GuildID          int64  `json:"guild_id,string"`
	ThreadID         int64  `json:"thread_id,string,omitempty"`
	ParentID         int64  `json:"parent_id,string,omitempty"`
	StarterMessageID int64  `json:"starter_message_id,string,omitempty"`
	Link             string `json:"link,omitempty"`
}

func (ir invocationRequest) invocation() feedback.Invocation {
	return feedback.Invocation{
		UserID:           ir.UserID,
		CommunityID:      ir.GuildID,
		ThreadID:         ir.ThreadID,
		ParentID:         ir.ParentID,
		StarterMessageID: ir.StarterMessageID,
		Link:             ir.Link,
	}
}

type submitRequest struct {
	invocationRequest
	Body string `json:"body"`
}

type startUploadRequest struct {
	invocationRequest
	Kind        models.ContentKind `json:"kind"`
	Description string             `json:"description"`
}

type reactionRequest struct {
	MessageID int64  `json:"message_id,string"`
	UserID    int64  `json:"user_id,string"`
	Emoji     string `json:"emoji"`
	Bot       bool   `json:"bot"`
}

type entryResponse struct {
	Number    string             `json:"number"`
	Kind      models.ContentKind `json:"kind"`
	MessageID int64              `json:"message_id,string"`
	Link      string             `json:"link"`
}

func newEntryResponse(e *models.FeedbackEntry) entryResponse {
	return entryResponse{
		Number:    feedback.FormatNumber(e.DisplayNumber),
		Kind:      e.Kind,
		MessageID: e.MessageID.Int64,
		Link:      e.TargetLink,
	}
}

// HandleSubmitText publishes a text feedback entry.
func HandleSubmitText(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleSubmitText")
	var req submitRequest
	if !decodeJSON(w, r, &req, app) {
		return
	}
	if !throttle(w, req.UserID, app, logger) {
		return
	}
	e, err := app.Feedback().SubmitText(r.Context(), req.invocation(), req.Body)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	respondJSON(w, http.StatusOK, newEntryResponse(e), app)
}

// HandleStartUpload opens an upload session for an image or file entry.
func HandleStartUpload(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleStartUpload")
	var req startUploadRequest
	if !decodeJSON(w, r, &req, app) {
		return
	}
	if !throttle(w, req.UserID, app, logger) {
		return
	}
	sess, err := app.Feedback().StartUpload(r.Context(), req.invocation(), req.Kind, req.Description)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"number":     feedback.FormatNumber(sess.DisplayNumber),
		"kind":       string(sess.Kind),
		"expires_at": sess.CreatedAt.Add(config.UploadTTL).Format(time.RFC3339),
	}, app)
}

// HandleFulfillUpload receives the file for a pending upload session as a
// multipart form with the fields user_id, caption and file.
func HandleFulfillUpload(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleFulfillUpload")

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxFileSize+1<<20)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": "The file is too large.", "code": feedback.CodeFileTooLarge,
			}, app)
			return
		}
		logger.Warn("Form parsing error", "error", err)
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Form parsing error: " + err.Error()}, app)
		return
	}
	userID, err := strconv.ParseInt(r.FormValue("user_id"), 10, 64)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid user ID."}, app)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "No file attached.", "code": feedback.CodeBadFile}, app)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		logger.Error("Failed to read uploaded file", "error", err)
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Could not read the file."}, app)
		return
	}

	e, err := app.Feedback().FulfillUpload(r.Context(), userID, feedback.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
		Caption:     r.FormValue("caption"),
	})
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	respondJSON(w, http.StatusOK, newEntryResponse(e), app)
}

// HandleReaction forwards a reaction added to a rendered message.
func HandleReaction(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleReaction")
	var req reactionRequest
	if !decodeJSON(w, r, &req, app) {
		return
	}
	err := app.Feedback().OnDisapprovalSignal(r.Context(), feedback.Signal{
		MessageID: req.MessageID,
		UserID:    req.UserID,
		Emoji:     req.Emoji,
		FromBot:   req.Bot,
	})
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
