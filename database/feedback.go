package database

import (
	"anonfeedback/models"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const feedbackColumns = "id, display_number, pseudonym, community_id, target_link, target_thread_id, kind, body, file_ref, message_id, created_at, deleted"

func scanFeedback(row interface{ Scan(...any) error }) (*models.FeedbackEntry, error) {
	var e models.FeedbackEntry
	err := row.Scan(&e.ID, &e.DisplayNumber, &e.Pseudonym, &e.CommunityID, &e.TargetLink, &e.TargetThreadID,
		&e.Kind, &e.Body, &e.FileRef, &e.MessageID, &e.CreatedAt, &e.Deleted)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func insertFeedback(ctx context.Context, q querier, e *models.FeedbackEntry) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO feedback (display_number, pseudonym, community_id, target_link, target_thread_id, kind, body, file_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.DisplayNumber, e.Pseudonym, e.CommunityID, e.TargetLink, e.TargetThreadID, e.Kind, e.Body, e.FileRef, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert feedback #%d: %w", e.DisplayNumber, err)
	}
	e.ID, err = res.LastInsertId()
	return err
}

// ErrRateLimited is returned when an insert would exceed its RateWindow.
var ErrRateLimited = errors.New("rate window exceeded")

// RateWindow caps the live entries a pseudonym may hold in one thread since
// a cutoff. A zero Max disables the check.
type RateWindow struct {
	Since time.Time
	Max   int
}

// checkWindow recounts inside the inserting transaction so concurrent
// submissions cannot both pass the same last slot.
func checkWindow(ctx context.Context, q querier, e *models.FeedbackEntry, w RateWindow) error {
	if w.Max <= 0 {
		return nil
	}
	count, err := countRecentFeedback(ctx, q, e.Pseudonym, e.TargetThreadID, w.Since)
	if err != nil {
		return err
	}
	if count >= w.Max {
		return ErrRateLimited
	}
	return nil
}

// CreateFeedback allocates the next display number for the entry's community
// and inserts the entry in one transaction. ID and DisplayNumber are filled in.
func (ds *DatabaseService) CreateFeedback(ctx context.Context, e *models.FeedbackEntry, w RateWindow) error {
	return ds.withTx(ctx, "create feedback", func(tx *sql.Tx) error {
		if err := checkWindow(ctx, tx, e, w); err != nil {
			return err
		}
		n, err := nextNumber(ctx, tx, e.CommunityID)
		if err != nil {
			return err
		}
		e.DisplayNumber = n
		return insertFeedback(ctx, tx, e)
	})
}

// CreateFeedbackWithNumber inserts an entry under a number reserved earlier
// through NextDisplayNumber.
func (ds *DatabaseService) CreateFeedbackWithNumber(ctx context.Context, e *models.FeedbackEntry, w RateWindow) error {
	if e.DisplayNumber <= 0 {
		return fmt.Errorf("feedback entry has no reserved display number")
	}
	return ds.withTx(ctx, "create reserved feedback", func(tx *sql.Tx) error {
		if err := checkWindow(ctx, tx, e, w); err != nil {
			return err
		}
		return insertFeedback(ctx, tx, e)
	})
}

// SetMessageID backfills the rendered message id. An id that is already set
// is never overwritten.
func (ds *DatabaseService) SetMessageID(ctx context.Context, feedbackID, messageID int64) error {
	res, err := ds.DB.ExecContext(ctx, "UPDATE feedback SET message_id = ? WHERE id = ? AND message_id IS NULL", messageID, feedbackID)
	if err != nil {
		return fmt.Errorf("failed to set message id for feedback %d: %w", feedbackID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		ds.logger.Warn("Message id not backfilled", "feedback_id", feedbackID, "message_id", messageID)
	}
	return nil
}

// RetractFeedback soft-deletes an entry without escalating any warning. It
// reports whether this call performed the transition.
func (ds *DatabaseService) RetractFeedback(ctx context.Context, feedbackID int64) (bool, error) {
	return markDeleted(ctx, ds.DB, feedbackID)
}

// markDeleted is the single place an entry goes from live to deleted.
func markDeleted(ctx context.Context, q querier, feedbackID int64) (bool, error) {
	res, err := q.ExecContext(ctx, "UPDATE feedback SET deleted = 1 WHERE id = ? AND deleted = 0", feedbackID)
	if err != nil {
		return false, fmt.Errorf("failed to delete feedback %d: %w", feedbackID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetFeedbackByNumber fetches an entry by its community-scoped display number.
func (ds *DatabaseService) GetFeedbackByNumber(ctx context.Context, communityID, number int64) (*models.FeedbackEntry, error) {
	row := ds.DB.QueryRowContext(ctx, "SELECT "+feedbackColumns+" FROM feedback WHERE community_id = ? AND display_number = ?", communityID, number)
	e, err := scanFeedback(row)
	if err != nil {
		return nil, notFound(err, "feedback #%d in community %d", number, communityID)
	}
	return e, nil
}

// GetFeedbackByMessageID fetches the entry rendered as messageID.
func (ds *DatabaseService) GetFeedbackByMessageID(ctx context.Context, messageID int64) (*models.FeedbackEntry, error) {
	return getFeedbackByMessageID(ctx, ds.DB, messageID)
}

func getFeedbackByMessageID(ctx context.Context, q querier, messageID int64) (*models.FeedbackEntry, error) {
	row := q.QueryRowContext(ctx, "SELECT "+feedbackColumns+" FROM feedback WHERE message_id = ?", messageID)
	e, err := scanFeedback(row)
	if err != nil {
		return nil, notFound(err, "feedback for message %d", messageID)
	}
	return e, nil
}

// CountRecentFeedback counts live entries by pseudonym in a thread created at or after since.
func (ds *DatabaseService) CountRecentFeedback(ctx context.Context, pseudonym string, threadID int64, since time.Time) (int, error) {
	return countRecentFeedback(ctx, ds.DB, pseudonym, threadID, since)
}

func countRecentFeedback(ctx context.Context, q querier, pseudonym string, threadID int64, since time.Time) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM feedback
		WHERE pseudonym = ? AND target_thread_id = ? AND created_at >= ? AND deleted = 0`,
		pseudonym, threadID, since.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent feedback: %w", err)
	}
	return count, nil
}

// ListThreadNumbers returns the display numbers a pseudonym has used in a
// thread, oldest first.
func (ds *DatabaseService) ListThreadNumbers(ctx context.Context, pseudonym string, threadID int64) ([]int64, error) {
	rows, err := ds.DB.QueryContext(ctx,
		"SELECT display_number FROM feedback WHERE pseudonym = ? AND target_thread_id = ? ORDER BY display_number ASC",
		pseudonym, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list thread numbers: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			ds.logger.Error("Failed to close rows in ListThreadNumbers", "error", err)
		}
	}()

	var numbers []int64
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}

// CountFeedbackTotals returns how many entries a pseudonym posted and how many
// of them were deleted.
func (ds *DatabaseService) CountFeedbackTotals(ctx context.Context, pseudonym string) (posted, deleted int, err error) {
	err = ds.DB.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(deleted), 0) FROM feedback WHERE pseudonym = ?", pseudonym).Scan(&posted, &deleted)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count feedback totals: %w", err)
	}
	return posted, deleted, nil
}
