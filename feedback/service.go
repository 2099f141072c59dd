// Package feedback is the pseudonymous feedback engine: it publishes
// anonymous entries into forum threads and moderates their authors per
// thread owner.
package feedback

import (
	"anonfeedback/config"
	"anonfeedback/database"
	"anonfeedback/models"
	"anonfeedback/sessions"
	"anonfeedback/utils"
	"context"
	"errors"
	"log/slog"
	"time"
)

type ServiceConfig struct {
	Logger   *slog.Logger
	DB       *database.DatabaseService
	Platform models.Platform
	Config   config.Provider
	Sessions sessions.Store
	// Storage re-hosts uploaded attachments. Required for uploads.
	Storage models.StorageService
	// Now is the engine clock; defaults to utils.GetSQLTime.
	Now func() time.Time
}

type Service struct {
	logger   *slog.Logger
	db       *database.DatabaseService
	platform models.Platform
	config   config.Provider
	sessions sessions.Store
	storage  models.StorageService
	now      func() time.Time
}

func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = utils.GetSQLTime
	}
	return &Service{
		logger:   logger.With("component", "feedback"),
		db:       cfg.DB,
		platform: cfg.Platform,
		config:   cfg.Config,
		sessions: cfg.Sessions,
		storage:  cfg.Storage,
		now:      func() time.Time { return now().UTC() },
	}
}

// Invocation is the platform context of a submitting command.
type Invocation struct {
	UserID      int64
	CommunityID int64
	ThreadID    int64
	// ParentID is the channel containing the thread.
	ParentID int64
	// StarterMessageID is the thread's first message, 0 when unknown.
	StarterMessageID int64
	// Link optionally names the target thread explicitly.
	Link string
}

// Actor is whoever invokes a moderation command.
type Actor struct {
	UserID      int64
	CommunityID int64
}

// resolveOwner maps the platform's thread lookup onto engine errors.
func (s *Service) resolveOwner(ctx context.Context, threadID int64) (int64, error) {
	owner, err := s.platform.ResolveThreadOwner(ctx, threadID)
	if errors.Is(err, models.ErrThreadNotFound) {
		return 0, notFound(CodeThreadGone, "the thread %d no longer exists or has no owner", threadID)
	}
	if err != nil {
		presentationFailureCount.WithLabelValues("resolve_owner").Inc()
		return 0, presentation(err, "could not look up the owner of thread %d", threadID)
	}
	return owner, nil
}

// notify delivers a direct message; failures are logged and dropped.
func (s *Service) notify(ctx context.Context, userID int64, text string) {
	if err := s.platform.NotifyUser(ctx, userID, text); err != nil {
		presentationFailureCount.WithLabelValues("notify").Inc()
		s.logger.Warn("Failed to notify user", "error", err)
	}
}

// retractMessage removes a rendered entry; failures are logged and dropped.
// The stored message id stays available for a manual retry.
func (s *Service) retractMessage(ctx context.Context, e *models.FeedbackEntry) {
	if !e.MessageID.Valid {
		return
	}
	if err := s.platform.DeleteMessage(ctx, e.TargetThreadID, e.MessageID.Int64); err != nil {
		presentationFailureCount.WithLabelValues("delete").Inc()
		s.logger.Warn("Failed to delete feedback message",
			"number", e.DisplayNumber, "thread_id", e.TargetThreadID, "message_id", e.MessageID.Int64, "error", err)
	}
}
