package database

import (
	"anonfeedback/models"
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RecordDownvote counts one disapproval signal against the entry rendered as
// messageID and returns the entry with the post-increment tally. Signals for
// unknown or already deleted entries are ignored and return ErrNotFound.
func (ds *DatabaseService) RecordDownvote(ctx context.Context, messageID int64) (*models.FeedbackEntry, int, error) {
	var (
		entry *models.FeedbackEntry
		count int
	)
	err := ds.withTx(ctx, "record downvote", func(tx *sql.Tx) error {
		var err error
		entry, err = getFeedbackByMessageID(ctx, tx, messageID)
		if err != nil {
			return err
		}
		if entry.Deleted {
			return fmt.Errorf("feedback #%d already deleted: %w", entry.DisplayNumber, ErrNotFound)
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO downvote_tally (message_id, feedback_id, community_id, count) VALUES (?, ?, ?, 1)
			ON CONFLICT(message_id) DO UPDATE SET count = count + 1
			RETURNING count`, messageID, entry.ID, entry.CommunityID).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to increment downvote tally: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return entry, count, nil
}

// GetDownvoteTally returns the tally for a rendered message.
func (ds *DatabaseService) GetDownvoteTally(ctx context.Context, messageID int64) (*models.DownvoteTally, error) {
	var t models.DownvoteTally
	err := ds.DB.QueryRowContext(ctx,
		"SELECT message_id, feedback_id, community_id, count FROM downvote_tally WHERE message_id = ?", messageID).
		Scan(&t.MessageID, &t.FeedbackID, &t.CommunityID, &t.Count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("downvote tally for message %d: %w", messageID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read downvote tally: %w", err)
	}
	return &t, nil
}
