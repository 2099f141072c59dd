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
	"strings"
	"unicode/utf8"
)

const (
	recentEventsLimit = 20
	maxReduceAmount   = 10
)

// WarningResult reports the ledger state after a moderation command.
type WarningResult struct {
	Number   int64
	Warnings int
	Banned   bool
	// Removed is false when the entry had already been removed before.
	Removed bool
}

// ReduceResult reports a warning reduction.
type ReduceResult struct {
	OldCount int
	NewCount int
	Banned   bool
}

// QueryResult is an administrator's view of one entry.
type QueryResult struct {
	Entry         models.FeedbackEntry
	Identity      models.Identity
	Relationships []models.RelationshipWarning
}

func (s *Service) lookupEntry(ctx context.Context, communityID, number int64) (*models.FeedbackEntry, error) {
	e, err := s.db.GetFeedbackByNumber(ctx, communityID, number)
	if errors.Is(err, database.ErrNotFound) {
		return nil, notFound(CodeUnknownNumber, "feedback #%s does not exist", FormatNumber(number))
	}
	if err != nil {
		return nil, storage(err, "could not look up feedback")
	}
	return e, nil
}

// ownedEntry looks up an entry and checks that actor owns its thread.
func (s *Service) ownedEntry(ctx context.Context, actor Actor, number int64) (*models.FeedbackEntry, int64, error) {
	e, err := s.lookupEntry(ctx, actor.CommunityID, number)
	if err != nil {
		return nil, 0, err
	}
	owner, err := s.resolveOwner(ctx, e.TargetThreadID)
	if err != nil {
		return nil, 0, err
	}
	if owner != actor.UserID {
		return nil, 0, validation(CodeForbidden, "only the thread owner can do this")
	}
	return e, owner, nil
}

func (s *Service) requireAdmin(actor Actor) error {
	if !s.config.IsAdmin(actor.UserID, actor.CommunityID) {
		return validation(CodeForbidden, "this command is for administrators only")
	}
	return nil
}

func checkReason(reason, fallback string) (string, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fallback, nil
	}
	if n := utf8.RuneCountInString(reason); n > config.MaxReasonLen {
		return "", validation(CodeBodyTooLong, "the reason is %d characters long, the limit is %d", n, config.MaxReasonLen)
	}
	return reason, nil
}

// AuthorTrace shows a thread owner what else the author of an entry posted in
// the same thread and how many warnings they hold against the owner.
func (s *Service) AuthorTrace(ctx context.Context, actor Actor, number int64) (*models.TraceResult, error) {
	e, owner, err := s.ownedEntry(ctx, actor, number)
	if err != nil {
		return nil, err
	}
	warnings, err := s.db.GetWarningCount(ctx, e.Pseudonym, owner)
	if err != nil {
		return nil, storage(err, "could not read warnings")
	}
	numbers, err := s.db.ListThreadNumbers(ctx, e.Pseudonym, e.TargetThreadID)
	if err != nil {
		return nil, storage(err, "could not list feedback")
	}
	return &models.TraceResult{
		Entry:            *e,
		RelationshipHits: warnings,
		Banned:           models.IsBannedCount(warnings),
		SameThreadNums:   numbers,
	}, nil
}

// AuthorBan removes an entry from the owner's thread and warns its author.
func (s *Service) AuthorBan(ctx context.Context, actor Actor, number int64, reason string) (*WarningResult, error) {
	reason, err := checkReason(reason, "removed by the thread owner")
	if err != nil {
		return nil, err
	}
	e, owner, err := s.ownedEntry(ctx, actor, number)
	if err != nil {
		return nil, err
	}
	if e.Deleted {
		return nil, validation(CodeAlreadyRemoved, "feedback #%s was already removed", FormatNumber(number))
	}

	ev := &models.WarningEvent{
		Pseudonym:   e.Pseudonym,
		CommunityID: e.CommunityID,
		Kind:        models.WarningAuthorAction,
		OwnerID:     sql.NullInt64{Int64: owner, Valid: true},
		FeedbackID:  sql.NullInt64{Int64: e.ID, Valid: true},
		ModeratorID: sql.NullInt64{Int64: actor.UserID, Valid: true},
		Reason:      reason,
		CreatedAt:   s.now(),
	}
	warnings, removed, err := s.db.RemoveAndWarn(ctx, e.ID, ev)
	if err != nil {
		return nil, storage(err, "could not remove feedback #%s", FormatNumber(number))
	}
	if !removed {
		return nil, validation(CodeAlreadyRemoved, "feedback #%s was already removed", FormatNumber(number))
	}

	warningCount.WithLabelValues(string(ev.Kind)).Inc()
	s.logger.Info("Feedback removed by thread owner", "guild_id", e.CommunityID, "number", number,
		"pseudonym", utils.ShortCookie(e.Pseudonym), "warnings", warnings)
	s.warnAuthor(ctx, e.Pseudonym, warnings, reason)
	s.retractMessage(ctx, e)
	return &WarningResult{Number: number, Warnings: warnings, Banned: models.IsBannedCount(warnings), Removed: true}, nil
}

// AuthorReduceWarning lowers the warnings the author of an entry holds
// against the acting owner. Owners only know posters by their feedback
// numbers, so any entry by the target identifies them.
func (s *Service) AuthorReduceWarning(ctx context.Context, actor Actor, number int64, amount int) (*ReduceResult, error) {
	if amount < 1 || amount > maxReduceAmount {
		return nil, validation(CodeBadAmount, "the amount must be between 1 and %d", maxReduceAmount)
	}
	e, err := s.lookupEntry(ctx, actor.CommunityID, number)
	if err != nil {
		return nil, err
	}
	oldCount, newCount, err := s.db.DecrementWarning(ctx, e.Pseudonym, actor.UserID, amount, s.now())
	if err != nil {
		return nil, storage(err, "could not reduce warnings")
	}
	s.logger.Info("Warnings reduced by thread owner", "guild_id", e.CommunityID, "number", number,
		"pseudonym", utils.ShortCookie(e.Pseudonym), "old", oldCount, "new", newCount)
	return &ReduceResult{OldCount: oldCount, NewCount: newCount, Banned: models.IsBannedCount(newCount)}, nil
}

// AdminBan bans a user from all anonymous feedback in the community.
func (s *Service) AdminBan(ctx context.Context, actor Actor, targetUserID int64, reason string) error {
	if err := s.requireAdmin(actor); err != nil {
		return err
	}
	reason, err := checkReason(reason, "banned by an administrator")
	if err != nil {
		return err
	}
	identity, err := s.Resolve(ctx, targetUserID, actor.CommunityID)
	if err != nil {
		return err
	}
	ev := &models.WarningEvent{
		Pseudonym:   identity.Pseudonym,
		CommunityID: actor.CommunityID,
		Kind:        models.WarningAdminAction,
		ModeratorID: sql.NullInt64{Int64: actor.UserID, Valid: true},
		Reason:      reason,
		CreatedAt:   s.now(),
	}
	changed, err := s.db.SetIdentityBanned(ctx, identity.Pseudonym, true, ev)
	if err != nil {
		return storage(err, "could not ban user")
	}
	if !changed {
		return validation(CodeAlreadyBanned, "this user is already banned")
	}

	s.logger.Info("User banned by administrator", "guild_id", actor.CommunityID, "admin_id", actor.UserID,
		"user_id", targetUserID, "pseudonym", utils.ShortCookie(identity.Pseudonym))
	s.notify(ctx, targetUserID, fmt.Sprintf("⛔ You were banned from sending anonymous feedback in this server.\nReason: %s", reason))
	return nil
}

// AdminUnban lifts a community-wide ban. Relationship warnings are untouched.
func (s *Service) AdminUnban(ctx context.Context, actor Actor, targetUserID int64) error {
	if err := s.requireAdmin(actor); err != nil {
		return err
	}
	pseudonym := utils.GenerateCookie(targetUserID, actor.CommunityID)
	changed, err := s.db.SetIdentityBanned(ctx, pseudonym, false, nil)
	if errors.Is(err, database.ErrNotFound) {
		return validation(CodeNotBanned, "this user is not banned")
	}
	if err != nil {
		return storage(err, "could not unban user")
	}
	if !changed {
		return validation(CodeNotBanned, "this user is not banned")
	}
	s.logger.Info("User unbanned by administrator", "guild_id", actor.CommunityID, "admin_id", actor.UserID,
		"user_id", targetUserID, "pseudonym", utils.ShortCookie(pseudonym))
	return nil
}

// AdminQuery reveals who is behind an entry.
func (s *Service) AdminQuery(ctx context.Context, actor Actor, number int64) (*QueryResult, error) {
	if err := s.requireAdmin(actor); err != nil {
		return nil, err
	}
	e, err := s.lookupEntry(ctx, actor.CommunityID, number)
	if err != nil {
		return nil, err
	}
	identity, err := s.db.GetIdentity(ctx, e.Pseudonym)
	if err != nil {
		return nil, storage(err, "could not look up the author")
	}
	relationships, err := s.db.ListRelationshipWarnings(ctx, e.Pseudonym)
	if err != nil {
		return nil, storage(err, "could not list warnings")
	}
	s.logger.Info("Feedback author queried by administrator", "guild_id", actor.CommunityID, "admin_id", actor.UserID,
		"number", number, "user_id", identity.RealUserID)
	return &QueryResult{Entry: *e, Identity: *identity, Relationships: relationships}, nil
}

// AdminDelete removes an entry and warns its author against the thread's
// owner. Deleting an entry that is already removed changes nothing.
func (s *Service) AdminDelete(ctx context.Context, actor Actor, number int64, reason string) (*WarningResult, error) {
	if err := s.requireAdmin(actor); err != nil {
		return nil, err
	}
	reason, err := checkReason(reason, "removed by an administrator")
	if err != nil {
		return nil, err
	}
	e, err := s.lookupEntry(ctx, actor.CommunityID, number)
	if err != nil {
		return nil, err
	}
	if e.Deleted {
		return &WarningResult{Number: number}, nil
	}
	owner, err := s.resolveOwner(ctx, e.TargetThreadID)
	if err != nil {
		return nil, err
	}

	ev := &models.WarningEvent{
		Pseudonym:   e.Pseudonym,
		CommunityID: e.CommunityID,
		Kind:        models.WarningAdminAction,
		OwnerID:     sql.NullInt64{Int64: owner, Valid: true},
		FeedbackID:  sql.NullInt64{Int64: e.ID, Valid: true},
		ModeratorID: sql.NullInt64{Int64: actor.UserID, Valid: true},
		Reason:      reason,
		CreatedAt:   s.now(),
	}
	warnings, removed, err := s.db.RemoveAndWarn(ctx, e.ID, ev)
	if err != nil {
		return nil, storage(err, "could not remove feedback #%s", FormatNumber(number))
	}
	if !removed {
		return &WarningResult{Number: number}, nil
	}

	warningCount.WithLabelValues(string(ev.Kind)).Inc()
	s.logger.Info("Feedback removed by administrator", "guild_id", e.CommunityID, "admin_id", actor.UserID,
		"number", number, "pseudonym", utils.ShortCookie(e.Pseudonym), "warnings", warnings)
	s.warnAuthor(ctx, e.Pseudonym, warnings, reason)
	s.retractMessage(ctx, e)
	return &WarningResult{Number: number, Warnings: warnings, Banned: models.IsBannedCount(warnings), Removed: true}, nil
}

// AdminUserStats summarises a user's feedback and moderation history.
func (s *Service) AdminUserStats(ctx context.Context, actor Actor, targetUserID int64) (*models.UserStats, error) {
	if err := s.requireAdmin(actor); err != nil {
		return nil, err
	}
	pseudonym := utils.GenerateCookie(targetUserID, actor.CommunityID)
	identity, err := s.db.GetIdentity(ctx, pseudonym)
	if errors.Is(err, database.ErrNotFound) {
		return nil, notFound(CodeUnknownUser, "this user has never sent anonymous feedback here")
	}
	if err != nil {
		return nil, storage(err, "could not look up user")
	}
	posted, deleted, err := s.db.CountFeedbackTotals(ctx, pseudonym)
	if err != nil {
		return nil, storage(err, "could not count feedback")
	}
	relationships, err := s.db.ListRelationshipWarnings(ctx, pseudonym)
	if err != nil {
		return nil, storage(err, "could not list warnings")
	}
	events, err := s.db.ListWarningEvents(ctx, pseudonym, recentEventsLimit)
	if err != nil {
		return nil, storage(err, "could not list warning history")
	}
	return &models.UserStats{
		Identity:      *identity,
		TotalPosted:   posted,
		TotalDeleted:  deleted,
		Relationships: relationships,
		RecentEvents:  events,
	}, nil
}
