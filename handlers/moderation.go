// anonfeedback/handlers/moderation.go
package handlers

import (
	"anonfeedback/feedback"
	"anonfeedback/models"
	"net/http"
	"strconv"
	"time"
)

type actorRequest struct {
	ActorID int64 `json:"actor_id,string"`
	GuildID int64 `json:"guild_id,string"`
}

func (ar actorRequest) actor() feedback.Actor {
	return feedback.Actor{UserID: ar.ActorID, CommunityID: ar.GuildID}
}

type numberRequest struct {
	actorRequest
	Number int64  `json:"number"`
	Reason string `json:"reason,omitempty"`
	Amount int    `json:"amount,omitempty"`
}

type userRequest struct {
	actorRequest
	UserID int64  `json:"user_id,string"`
	Reason string `json:"reason,omitempty"`
}

type warningEventView struct {
	Kind      models.WarningKind `json:"kind"`
	OwnerID   int64              `json:"owner_id,string,omitempty"`
	Reason    string             `json:"reason"`
	CreatedAt time.Time          `json:"created_at"`
}

type relationshipView struct {
	OwnerID int64 `json:"owner_id,string"`
	Count   int   `json:"count"`
	Banned  bool  `json:"banned"`
}

func relationshipViews(rws []models.RelationshipWarning) []relationshipView {
	views := make([]relationshipView, 0, len(rws))
	for _, rw := range rws {
		views = append(views, relationshipView{OwnerID: rw.OwnerID, Count: rw.Count, Banned: rw.Banned()})
	}
	return views
}

func warningResponse(res *feedback.WarningResult) map[string]any {
	return map[string]any{
		"number":   feedback.FormatNumber(res.Number),
		"warnings": res.Warnings,
		"banned":   res.Banned,
		"removed":  res.Removed,
	}
}

// HandleAuthorTrace lists what the author of an entry posted in the owner's thread.
func HandleAuthorTrace(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleAuthorTrace")
	var req numberRequest
	if !decodeJSON(w, r, &req, app) || !throttle(w, req.ActorID, app, logger) {
		return
	}
	trace, err := app.Feedback().AuthorTrace(r.Context(), req.actor(), req.Number)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	numbers := make([]string, 0, len(trace.SameThreadNums))
	for _, n := range trace.SameThreadNums {
		numbers = append(numbers, feedback.FormatNumber(n))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"number":      feedback.FormatNumber(trace.Entry.DisplayNumber),
		"deleted":     trace.Entry.Deleted,
		"warnings":    trace.RelationshipHits,
		"banned":      trace.Banned,
		"same_thread": numbers,
	}, app)
}

// HandleAuthorBan removes an entry from the owner's thread and warns its author.
func HandleAuthorBan(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleAuthorBan")
	var req numberRequest
	if !decodeJSON(w, r, &req, app) || !throttle(w, req.ActorID, app, logger) {
		return
	}
	res, err := app.Feedback().AuthorBan(r.Context(), req.actor(), req.Number, req.Reason)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	respondJSON(w, http.StatusOK, warningResponse(res), app)
}

func HandleAuthorReduceWarning(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleAuthorReduceWarning")
	var req numberRequest
	if !decodeJSON(w, r, &req, app) || !throttle(w, req.ActorID, app, logger) {
		return
	}
	res, err := app.Feedback().AuthorReduceWarning(r.Context(), req.actor(), req.Number, req.Amount)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"old_count": res.OldCount,
		"new_count": res.NewCount,
		"banned":    res.Banned,
	}, app)
}

func HandleAdminBan(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleAdminBan")
	var req userRequest
	if !decodeJSON(w, r, &req, app) {
		return
	}
	if err := app.Feedback().AdminBan(r.Context(), req.actor(), req.UserID, req.Reason); err != nil {
		respondError(w, err, app, logger)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"success": "User banned."}, app)
}

func HandleAdminUnban(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleAdminUnban")
	var req userRequest
	if !decodeJSON(w, r, &req, app) {
		return
	}
	if err := app.Feedback().AdminUnban(r.Context(), req.actor(), req.UserID); err != nil {
		respondError(w, err, app, logger)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"success": "User unbanned."}, app)
}

// HandleAdminQuery reveals the real author of an entry.
func HandleAdminQuery(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleAdminQuery")
	var req numberRequest
	if !decodeJSON(w, r, &req, app) {
		return
	}
	res, err := app.Feedback().AdminQuery(r.Context(), req.actor(), req.Number)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"number":        feedback.FormatNumber(res.Entry.DisplayNumber),
		"user_id":       strconv.FormatInt(res.Identity.RealUserID, 10),
		"pseudonym":     res.Identity.Pseudonym,
		"banned":        res.Identity.Banned,
		"warning_count": res.Identity.WarningCount,
		"deleted":       res.Entry.Deleted,
		"relationships": relationshipViews(res.Relationships),
	}, app)
}

func HandleAdminDelete(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleAdminDelete")
	var req numberRequest
	if !decodeJSON(w, r, &req, app) {
		return
	}
	res, err := app.Feedback().AdminDelete(r.Context(), req.actor(), req.Number, req.Reason)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	respondJSON(w, http.StatusOK, warningResponse(res), app)
}

func HandleAdminUserStats(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleAdminUserStats")
	var req userRequest
	if !decodeJSON(w, r, &req, app) {
		return
	}
	stats, err := app.Feedback().AdminUserStats(r.Context(), req.actor(), req.UserID)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	events := make([]warningEventView, 0, len(stats.RecentEvents))
	for _, ev := range stats.RecentEvents {
		events = append(events, warningEventView{Kind: ev.Kind, OwnerID: ev.OwnerID.Int64, Reason: ev.Reason, CreatedAt: ev.CreatedAt})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"pseudonym":     stats.Identity.Pseudonym,
		"banned":        stats.Identity.Banned,
		"warning_count": stats.Identity.WarningCount,
		"total_posted":  stats.TotalPosted,
		"total_deleted": stats.TotalDeleted,
		"relationships": relationshipViews(stats.Relationships),
		"recent_events": events,
	}, app)
}

// HandleDatabaseBackup writes an online copy of the database to the backup directory.
func HandleDatabaseBackup(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDatabaseBackup")
	backupPath, err := app.DB().BackupDatabase(app.BackupDir())
	if err != nil {
		logger.Error("Failed to create database backup", "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to create database backup."}, app)
		return
	}
	logger.Info("Database backup created successfully", "path", backupPath)
	respondJSON(w, http.StatusOK, map[string]string{"path": backupPath}, app)
}
