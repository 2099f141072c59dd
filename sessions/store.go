// Package sessions holds pending upload sessions, one slot per real user.
// Stores only keep sessions; expiry against the upload TTL is decided by the
// caller from CreatedAt.
package sessions

import (
	"anonfeedback/models"
	"context"
)

type Store interface {
	// Get returns the user's session, or nil when there is none.
	Get(ctx context.Context, userID int64) (*models.PendingUploadSession, error)
	// Put stores s, replacing and returning any previous session for the user.
	Put(ctx context.Context, s *models.PendingUploadSession) (*models.PendingUploadSession, error)
	// PutIfAbsent stores s only when the user has no session.
	PutIfAbsent(ctx context.Context, s *models.PendingUploadSession) (bool, error)
	// Take removes the user's session if it still holds the given display
	// number, and reports whether it did.
	Take(ctx context.Context, userID, displayNumber int64) (bool, error)
	// List returns every stored session.
	List(ctx context.Context) ([]*models.PendingUploadSession, error)
}
