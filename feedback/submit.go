package feedback

import (
	"anonfeedback/config"
	"anonfeedback/database"
	"anonfeedback/models"
	"anonfeedback/utils"
	"context"
	"database/sql"
	"errors"
	"strings"
	"unicode/utf8"
)

// admission is what the submission checks established about a request.
type admission struct {
	identity *models.Identity
	link     string
	threadID int64
	ownerID  int64
}

// admit runs the checks shared by text submissions and upload starts. Nothing
// but the identity registration is written before all of them pass.
func (s *Service) admit(ctx context.Context, inv Invocation) (*admission, error) {
	if !s.config.IsQualifyingThread(inv.ParentID) {
		return nil, validation(CodeNotQualifying, "anonymous feedback only works in forum threads")
	}
	link, threadID, err := inv.target()
	if err != nil {
		return nil, err
	}

	identity, err := s.Resolve(ctx, inv.UserID, inv.CommunityID)
	if err != nil {
		return nil, err
	}
	if identity.Banned {
		return nil, validation(CodeBanned, "you are banned from anonymous feedback in this server")
	}

	ownerID, err := s.resolveOwner(ctx, threadID)
	if err != nil {
		return nil, err
	}
	warnings, err := s.db.GetWarningCount(ctx, identity.Pseudonym, ownerID)
	if err != nil {
		return nil, storage(err, "could not check warnings")
	}
	if models.IsBannedCount(warnings) {
		return nil, validation(CodeBannedByOwner, "you are banned from this thread owner's threads (%d warnings)", warnings)
	}

	recent, err := s.db.CountRecentFeedback(ctx, identity.Pseudonym, threadID, s.now().Add(-config.RateLimitWindow))
	if err != nil {
		return nil, storage(err, "could not check the rate limit")
	}
	if recent >= config.RateLimitMax {
		return nil, rateLimited()
	}

	return &admission{identity: identity, link: link, threadID: threadID, ownerID: ownerID}, nil
}

// rateWindow is rechecked by the store when an entry is inserted.
func (s *Service) rateWindow() database.RateWindow {
	return database.RateWindow{Since: s.now().Add(-config.RateLimitWindow), Max: config.RateLimitMax}
}

func rateLimited() error {
	return validation(CodeRateLimited, "you reached the limit of %d feedback entries in this thread per 24 hours", config.RateLimitMax)
}

// SubmitText publishes a text entry into the invoking thread.
func (s *Service) SubmitText(ctx context.Context, inv Invocation, body string) (*models.FeedbackEntry, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, validation(CodeEmptyBody, "feedback cannot be empty")
	}
	if n := utf8.RuneCountInString(body); n > config.MaxBodyLen {
		return nil, validation(CodeBodyTooLong, "feedback is %d characters long, the limit is %d", n, config.MaxBodyLen)
	}

	adm, err := s.admit(ctx, inv)
	if err != nil {
		return nil, err
	}

	e := &models.FeedbackEntry{
		Pseudonym:      adm.identity.Pseudonym,
		CommunityID:    inv.CommunityID,
		TargetLink:     adm.link,
		TargetThreadID: adm.threadID,
		Kind:           models.KindText,
		Body:           body,
		CreatedAt:      s.now(),
	}
	if err := s.db.CreateFeedback(ctx, e, s.rateWindow()); err != nil {
		if errors.Is(err, database.ErrRateLimited) {
			return nil, rateLimited()
		}
		return nil, storage(err, "could not store feedback")
	}
	if err := s.publish(ctx, e); err != nil {
		return e, err
	}

	s.logger.Info("Feedback published", "guild_id", e.CommunityID, "number", e.DisplayNumber,
		"pseudonym", utils.ShortCookie(e.Pseudonym), "kind", e.Kind)
	return e, nil
}

// publish renders a stored entry and backfills its message id. An entry that
// cannot be rendered is retracted so it neither looks posted nor counts
// against the rate limit.
func (s *Service) publish(ctx context.Context, e *models.FeedbackEntry) error {
	messageID, err := s.platform.RenderMessage(ctx, e.TargetThreadID, renderMessage(e))
	if err != nil {
		presentationFailureCount.WithLabelValues("render").Inc()
		s.retractUnpublished(ctx, e)
		return presentation(err, "feedback #%s could not be posted", FormatNumber(e.DisplayNumber))
	}

	if err := s.db.SetMessageID(ctx, e.ID, messageID); err != nil {
		// Without the id the message could never be moderated, so take it down again.
		e.MessageID = sql.NullInt64{Int64: messageID, Valid: true}
		s.retractMessage(ctx, e)
		s.retractUnpublished(ctx, e)
		return storage(err, "could not record feedback #%s", FormatNumber(e.DisplayNumber))
	}
	e.MessageID = sql.NullInt64{Int64: messageID, Valid: true}
	submissionCount.WithLabelValues(string(e.Kind)).Inc()
	return nil
}

func (s *Service) retractUnpublished(ctx context.Context, e *models.FeedbackEntry) {
	if _, err := s.db.RetractFeedback(ctx, e.ID); err != nil {
		s.logger.Error("Failed to retract unpublished feedback", "number", e.DisplayNumber, "error", err)
		return
	}
	e.Deleted = true
}
