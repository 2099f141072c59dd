package feedback

import (
	"anonfeedback/config"
	"anonfeedback/models"
	"context"
	"fmt"
)

func warningNotice(warnings int, reason string) string {
	msg := fmt.Sprintf("⚠️ Your anonymous feedback was removed. This is warning %d under this thread owner's posts.\nReason: %s\n\n", warnings, reason)
	if models.IsBannedCount(warnings) {
		return msg + fmt.Sprintf("With %d warnings you are now banned from sending anonymous feedback in all of this owner's threads. Contact an administrator if you disagree.", warnings)
	}
	return msg + fmt.Sprintf("Please keep your feedback constructive. %d warnings under the same owner result in a ban.", config.BanThreshold)
}

// warnAuthor tells the real user behind a pseudonym about a new warning.
func (s *Service) warnAuthor(ctx context.Context, pseudonym string, warnings int, reason string) {
	identity, err := s.db.GetIdentity(ctx, pseudonym)
	if err != nil {
		s.logger.Warn("Could not look up user to notify", "error", err)
		return
	}
	s.notify(ctx, identity.RealUserID, warningNotice(warnings, reason))
}
