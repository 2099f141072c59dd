package database

import (
	"anonfeedback/models"
	"context"
	"database/sql"
	"fmt"
	"time"
)

const identityColumns = "pseudonym, real_user_id, community_id, banned, warning_count, created_at"

func scanIdentity(row interface{ Scan(...any) error }) (*models.Identity, error) {
	var id models.Identity
	if err := row.Scan(&id.Pseudonym, &id.RealUserID, &id.CommunityID, &id.Banned, &id.WarningCount, &id.CreatedAt); err != nil {
		return nil, err
	}
	return &id, nil
}

// EnsureIdentity registers the pseudonym on first use and returns the stored
// row. Existing ban and warning state is never overwritten.
func (ds *DatabaseService) EnsureIdentity(ctx context.Context, pseudonym string, realUserID, communityID int64, now time.Time) (*models.Identity, error) {
	var identity *models.Identity
	err := ds.withTx(ctx, "ensure identity", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO identities (pseudonym, real_user_id, community_id, created_at) VALUES (?, ?, ?, ?)",
			pseudonym, realUserID, communityID, now.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert identity: %w", err)
		}
		identity, err = getIdentity(ctx, tx, pseudonym)
		return err
	})
	if err != nil {
		return nil, err
	}
	return identity, nil
}

// GetIdentity fetches an identity by pseudonym.
func (ds *DatabaseService) GetIdentity(ctx context.Context, pseudonym string) (*models.Identity, error) {
	return getIdentity(ctx, ds.DB, pseudonym)
}

func getIdentity(ctx context.Context, q querier, pseudonym string) (*models.Identity, error) {
	row := q.QueryRowContext(ctx, "SELECT "+identityColumns+" FROM identities WHERE pseudonym = ?", pseudonym)
	identity, err := scanIdentity(row)
	if err != nil {
		return nil, notFound(err, "identity %s", pseudonym)
	}
	return identity, nil
}

// SetIdentityBanned flips the community-wide ban flag. It reports false when
// the flag already had the requested value. A ban records ev and counts
// towards the lifetime warning total; ev is ignored when lifting a ban.
func (ds *DatabaseService) SetIdentityBanned(ctx context.Context, pseudonym string, banned bool, ev *models.WarningEvent) (bool, error) {
	changed := false
	err := ds.withTx(ctx, "set identity banned", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "UPDATE identities SET banned = ? WHERE pseudonym = ? AND banned != ?", banned, pseudonym, banned)
		if err != nil {
			return fmt.Errorf("failed to update ban flag: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// Either the identity is missing or nothing to change.
			if _, err := getIdentity(ctx, tx, pseudonym); err != nil {
				return err
			}
			return nil
		}
		changed = true
		if banned && ev != nil {
			if err := insertWarningEvent(ctx, tx, ev); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, "UPDATE identities SET warning_count = warning_count + 1 WHERE pseudonym = ?", pseudonym); err != nil {
				return fmt.Errorf("failed to bump warning count: %w", err)
			}
		}
		return nil
	})
	return changed, err
}
