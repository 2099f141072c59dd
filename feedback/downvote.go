package feedback

import (
	"anonfeedback/config"
	"anonfeedback/database"
	"anonfeedback/models"
	"anonfeedback/utils"
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Signal is one reaction added to a rendered message.
type Signal struct {
	MessageID int64
	UserID    int64
	Emoji     string
	FromBot   bool
}

// OnDisapprovalSignal counts a downvote on a feedback message. The signal
// that takes the tally to the threshold retracts the entry and warns its
// author once; later or duplicate signals are ignored.
func (s *Service) OnDisapprovalSignal(ctx context.Context, sig Signal) error {
	if sig.FromBot || sig.Emoji != config.DownvoteEmoji {
		return nil
	}

	entry, count, err := s.db.RecordDownvote(ctx, sig.MessageID)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return storage(err, "could not record the downvote")
	}
	if count < config.DownvoteThreshold {
		return nil
	}

	reason := fmt.Sprintf("feedback #%s received %d %s", FormatNumber(entry.DisplayNumber), count, config.DownvoteEmoji)
	ev := &models.WarningEvent{
		Pseudonym:   entry.Pseudonym,
		CommunityID: entry.CommunityID,
		Kind:        models.WarningCommunityDownvote,
		FeedbackID:  sql.NullInt64{Int64: entry.ID, Valid: true},
		Reason:      reason,
		CreatedAt:   s.now(),
	}
	// The owner is looked up outside any transaction. A thread that is gone
	// still has its entry retracted, only the escalation is skipped. Any other
	// lookup failure leaves the entry live so the next signal retries.
	owner, err := s.resolveOwner(ctx, entry.TargetThreadID)
	switch {
	case CodeOf(err) == CodeThreadGone:
		s.logger.Warn("Thread owner unresolved, retracting without warning",
			"number", entry.DisplayNumber, "thread_id", entry.TargetThreadID, "error", err)
	case err != nil:
		return err
	default:
		ev.OwnerID = sql.NullInt64{Int64: owner, Valid: true}
	}

	warnings, removed, err := s.db.RemoveAndWarn(ctx, entry.ID, ev)
	if err != nil {
		return storage(err, "could not retract feedback #%s", FormatNumber(entry.DisplayNumber))
	}
	if !removed {
		return nil
	}

	retractionCount.Inc()
	s.logger.Info("Feedback retracted by downvotes", "guild_id", entry.CommunityID, "number", entry.DisplayNumber,
		"pseudonym", utils.ShortCookie(entry.Pseudonym), "downvotes", count, "warnings", warnings)
	if ev.OwnerID.Valid {
		warningCount.WithLabelValues(string(ev.Kind)).Inc()
		s.warnAuthor(ctx, entry.Pseudonym, warnings, reason)
	}
	s.retractMessage(ctx, entry)
	return nil
}
