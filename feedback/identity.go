package feedback

import (
	"anonfeedback/models"
	"anonfeedback/utils"
	"context"
)

// Resolve returns the identity of a user within a community, registering it
// on first use.
func (s *Service) Resolve(ctx context.Context, userID, communityID int64) (*models.Identity, error) {
	pseudonym := utils.GenerateCookie(userID, communityID)
	identity, err := s.db.EnsureIdentity(ctx, pseudonym, userID, communityID, s.now())
	if err != nil {
		return nil, storage(err, "could not register identity")
	}
	return identity, nil
}
