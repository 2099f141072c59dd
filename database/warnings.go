package database

import (
	"anonfeedback/models"
	"context"
	"database/sql"
	"fmt"
	"time"
)

func insertWarningEvent(ctx context.Context, q querier, ev *models.WarningEvent) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO warning_events (pseudonym, community_id, kind, owner_id, feedback_id, moderator_id, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Pseudonym, ev.CommunityID, ev.Kind, ev.OwnerID, ev.FeedbackID, ev.ModeratorID, ev.Reason, ev.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record %s warning event: %w", ev.Kind, err)
	}
	ev.ID, err = res.LastInsertId()
	return err
}

// incrementWarning bumps the (pseudonym, owner) counter, appends the audit
// event and the lifetime count, and returns the new counter value.
func incrementWarning(ctx context.Context, q querier, ev *models.WarningEvent) (int, error) {
	if !ev.OwnerID.Valid {
		return 0, fmt.Errorf("warning event for %s has no owner", ev.Pseudonym)
	}
	now := ev.CreatedAt.UTC()
	var count int
	err := q.QueryRowContext(ctx, `
		INSERT INTO relationship_warnings (pseudonym, community_id, owner_id, count, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(pseudonym, owner_id) DO UPDATE SET count = count + 1, updated_at = excluded.updated_at
		RETURNING count`,
		ev.Pseudonym, ev.CommunityID, ev.OwnerID.Int64, now, now).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to increment relationship warning: %w", err)
	}
	if err := insertWarningEvent(ctx, q, ev); err != nil {
		return 0, err
	}
	if _, err := q.ExecContext(ctx, "UPDATE identities SET warning_count = warning_count + 1 WHERE pseudonym = ?", ev.Pseudonym); err != nil {
		return 0, fmt.Errorf("failed to bump warning count: %w", err)
	}
	return count, nil
}

// IncrementWarning applies one warning against the event's owner and returns
// the new relationship counter.
func (ds *DatabaseService) IncrementWarning(ctx context.Context, ev *models.WarningEvent) (int, error) {
	var count int
	err := ds.withTx(ctx, "increment warning", func(tx *sql.Tx) error {
		var err error
		count, err = incrementWarning(ctx, tx, ev)
		return err
	})
	return count, err
}

// RemoveAndWarn soft-deletes an entry and, in the same transaction, escalates
// the ledger with ev. Nothing happens when the entry was already deleted, so
// an entry escalates at most once. A nil ev, or one without an owner, only
// deletes. It returns the new relationship counter (0 when not escalated) and
// whether this call performed the deletion.
func (ds *DatabaseService) RemoveAndWarn(ctx context.Context, feedbackID int64, ev *models.WarningEvent) (count int, removed bool, err error) {
	err = ds.withTx(ctx, "remove and warn", func(tx *sql.Tx) error {
		removed, err = markDeleted(ctx, tx, feedbackID)
		if err != nil || !removed {
			return err
		}
		if ev == nil || !ev.OwnerID.Valid {
			return nil
		}
		count, err = incrementWarning(ctx, tx, ev)
		return err
	})
	if err != nil {
		return 0, false, err
	}
	return count, removed, nil
}

// DecrementWarning lowers the (pseudonym, owner) counter by amount, never
// below zero, and returns the old and new values. A missing row counts as 0.
func (ds *DatabaseService) DecrementWarning(ctx context.Context, pseudonym string, ownerID int64, amount int, now time.Time) (oldCount, newCount int, err error) {
	if amount < 0 {
		return 0, 0, fmt.Errorf("negative decrement %d", amount)
	}
	err = ds.withTx(ctx, "decrement warning", func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			"SELECT count FROM relationship_warnings WHERE pseudonym = ? AND owner_id = ?", pseudonym, ownerID).Scan(&oldCount)
		if err == sql.ErrNoRows {
			oldCount, newCount = 0, 0
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read relationship warning: %w", err)
		}
		newCount = max(0, oldCount-amount)
		_, err = tx.ExecContext(ctx,
			"UPDATE relationship_warnings SET count = ?, updated_at = ? WHERE pseudonym = ? AND owner_id = ?",
			newCount, now.UTC(), pseudonym, ownerID)
		if err != nil {
			return fmt.Errorf("failed to decrement relationship warning: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return oldCount, newCount, nil
}

// GetWarningCount returns the (pseudonym, owner) counter, 0 when no warning exists.
func (ds *DatabaseService) GetWarningCount(ctx context.Context, pseudonym string, ownerID int64) (int, error) {
	var count int
	err := ds.DB.QueryRowContext(ctx,
		"SELECT COALESCE((SELECT count FROM relationship_warnings WHERE pseudonym = ? AND owner_id = ?), 0)",
		pseudonym, ownerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to read relationship warning: %w", err)
	}
	return count, nil
}

// ListRelationshipWarnings returns every owner relationship of a pseudonym,
// highest counter first.
func (ds *DatabaseService) ListRelationshipWarnings(ctx context.Context, pseudonym string) ([]models.RelationshipWarning, error) {
	rows, err := ds.DB.QueryContext(ctx, `
		SELECT pseudonym, community_id, owner_id, count, created_at, updated_at
		FROM relationship_warnings WHERE pseudonym = ? ORDER BY count DESC, owner_id ASC`, pseudonym)
	if err != nil {
		return nil, fmt.Errorf("failed to list relationship warnings: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			ds.logger.Error("Failed to close rows in ListRelationshipWarnings", "error", err)
		}
	}()

	var out []models.RelationshipWarning
	for rows.Next() {
		var rw models.RelationshipWarning
		if err := rows.Scan(&rw.Pseudonym, &rw.CommunityID, &rw.OwnerID, &rw.Count, &rw.CreatedAt, &rw.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rw)
	}
	return out, rows.Err()
}

// ListWarningEvents returns the most recent warning events for a pseudonym.
func (ds *DatabaseService) ListWarningEvents(ctx context.Context, pseudonym string, limit int) ([]models.WarningEvent, error) {
	rows, err := ds.DB.QueryContext(ctx, `
		SELECT id, pseudonym, community_id, kind, owner_id, feedback_id, moderator_id, reason, created_at
		FROM warning_events WHERE pseudonym = ? ORDER BY id DESC LIMIT ?`, pseudonym, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list warning events: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			ds.logger.Error("Failed to close rows in ListWarningEvents", "error", err)
		}
	}()

	var out []models.WarningEvent
	for rows.Next() {
		var ev models.WarningEvent
		if err := rows.Scan(&ev.ID, &ev.Pseudonym, &ev.CommunityID, &ev.Kind, &ev.OwnerID, &ev.FeedbackID,
			&ev.ModeratorID, &ev.Reason, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
