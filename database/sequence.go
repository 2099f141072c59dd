package database

import (
	"context"
	"fmt"
)

// nextNumber atomically issues the next display number for a community in a
// single statement, creating the counter on first use.
func nextNumber(ctx context.Context, q querier, communityID int64) (int64, error) {
	var n int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO scope_sequence (community_id, next_number) VALUES (?, 2)
		ON CONFLICT(community_id) DO UPDATE SET next_number = next_number + 1
		RETURNING next_number - 1`, communityID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate display number for community %d: %w", communityID, err)
	}
	return n, nil
}

// NextDisplayNumber reserves a display number outside of any entry insert.
// Upload sessions use it to hold a number before their file arrives.
func (ds *DatabaseService) NextDisplayNumber(ctx context.Context, communityID int64) (int64, error) {
	return nextNumber(ctx, ds.DB, communityID)
}

// PeekDisplayNumber returns the number the next allocation would issue.
func (ds *DatabaseService) PeekDisplayNumber(ctx context.Context, communityID int64) (int64, error) {
	var n int64
	err := ds.DB.QueryRowContext(ctx, "SELECT COALESCE((SELECT next_number FROM scope_sequence WHERE community_id = ?), 1)", communityID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to read sequence for community %d: %w", communityID, err)
	}
	return n, nil
}
