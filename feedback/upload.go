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
	"mime"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Upload is a file delivered out of band for a pending upload session.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
	// Caption is the text sent along with the file, if any.
	Caption string
}

// StartUpload reserves a display number and opens an upload session for the
// invoking user, superseding any session they already had. The reserved
// number of a superseded session is never reissued.
func (s *Service) StartUpload(ctx context.Context, inv Invocation, kind models.ContentKind, description string) (*models.PendingUploadSession, error) {
	if kind != models.KindImage && kind != models.KindFile {
		return nil, validation(CodeBadFile, "uploads must be images or files")
	}
	description = strings.TrimSpace(description)
	if n := utf8.RuneCountInString(description); n > config.MaxBodyLen {
		return nil, validation(CodeBodyTooLong, "description is %d characters long, the limit is %d", n, config.MaxBodyLen)
	}
	if s.storage == nil {
		return nil, storage(fmt.Errorf("no attachment storage configured"), "uploads are not available")
	}

	adm, err := s.admit(ctx, inv)
	if err != nil {
		return nil, err
	}
	number, err := s.db.NextDisplayNumber(ctx, inv.CommunityID)
	if err != nil {
		return nil, storage(err, "could not reserve a feedback number")
	}

	sess := &models.PendingUploadSession{
		RealUserID:    inv.UserID,
		Pseudonym:     adm.identity.Pseudonym,
		CommunityID:   inv.CommunityID,
		ThreadID:      adm.threadID,
		TargetLink:    adm.link,
		Kind:          kind,
		Description:   description,
		DisplayNumber: number,
		CreatedAt:     s.now(),
	}
	prev, err := s.sessions.Put(ctx, sess)
	if err != nil {
		return nil, storage(err, "could not open the upload session")
	}
	if prev != nil {
		uploadSessionCount.WithLabelValues("superseded").Inc()
		s.logger.Info("Upload session superseded", "guild_id", prev.CommunityID, "burnt_number", prev.DisplayNumber)
	}
	uploadSessionCount.WithLabelValues("started").Inc()
	s.logger.Info("Upload session started", "guild_id", sess.CommunityID, "number", number,
		"pseudonym", utils.ShortCookie(sess.Pseudonym), "kind", kind)
	return sess, nil
}

// pendingSession returns the user's live session. An expired session is
// removed and reported as upload_expired.
func (s *Service) pendingSession(ctx context.Context, userID int64) (*models.PendingUploadSession, error) {
	sess, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return nil, storage(err, "could not read the upload session")
	}
	if sess == nil {
		return nil, validation(CodeNoPendingUpload, "there is no pending upload, start one with the image or file command")
	}
	if s.now().Sub(sess.CreatedAt) > config.UploadTTL {
		if _, err := s.sessions.Take(ctx, userID, sess.DisplayNumber); err != nil {
			s.logger.Warn("Failed to drop expired upload session", "error", err)
		}
		uploadSessionCount.WithLabelValues("expired").Inc()
		return nil, validation(CodeUploadExpired, "the upload request expired after %s, please start again", config.UploadTTL)
	}
	return sess, nil
}

// FulfillUpload completes the user's pending session with the delivered file.
// A file that fails validation leaves the session open for another try.
func (s *Service) FulfillUpload(ctx context.Context, userID int64, up Upload) (*models.FeedbackEntry, error) {
	sess, err := s.pendingSession(ctx, userID)
	if err != nil {
		if CodeOf(err) == CodeUploadExpired {
			s.notify(ctx, userID, "❌ Your feedback upload request expired (over 5 minutes). Please run the command again.")
		}
		return nil, err
	}

	data, ext, contentType, err := prepareUpload(sess.Kind, up)
	if err != nil {
		return nil, err
	}

	taken, err := s.sessions.Take(ctx, userID, sess.DisplayNumber)
	if err != nil {
		return nil, storage(err, "could not claim the upload session")
	}
	if !taken {
		// Superseded or fulfilled concurrently.
		return nil, validation(CodeNoPendingUpload, "this upload request is no longer pending")
	}

	ref, err := s.storage.SaveFile(ctx, uuid.NewString()+ext, data, contentType)
	if err != nil {
		s.restoreSession(ctx, sess)
		return nil, storage(err, "could not store the attachment")
	}

	body := strings.TrimSpace(up.Caption)
	if body == "" {
		body = sess.Description
	}
	if body == "" {
		body = "File name: " + up.Filename
	}
	if utf8.RuneCountInString(body) > config.MaxBodyLen {
		body = string([]rune(body)[:config.MaxBodyLen])
	}

	e := &models.FeedbackEntry{
		DisplayNumber:  sess.DisplayNumber,
		Pseudonym:      sess.Pseudonym,
		CommunityID:    sess.CommunityID,
		TargetLink:     sess.TargetLink,
		TargetThreadID: sess.ThreadID,
		Kind:           sess.Kind,
		Body:           body,
		FileRef:        sql.NullString{String: ref, Valid: true},
		CreatedAt:      s.now(),
	}
	if err := s.db.CreateFeedbackWithNumber(ctx, e, s.rateWindow()); err != nil {
		if derr := s.storage.DeleteFile(ctx, ref); derr != nil {
			s.logger.Warn("Failed to remove orphaned attachment", "ref", ref, "error", derr)
		}
		if errors.Is(err, database.ErrRateLimited) {
			uploadSessionCount.WithLabelValues("failed").Inc()
			return nil, rateLimited()
		}
		s.restoreSession(ctx, sess)
		return nil, storage(err, "could not store feedback")
	}
	if err := s.publish(ctx, e); err != nil {
		uploadSessionCount.WithLabelValues("failed").Inc()
		return e, err
	}

	uploadSessionCount.WithLabelValues("fulfilled").Inc()
	s.logger.Info("Feedback published", "guild_id", e.CommunityID, "number", e.DisplayNumber,
		"pseudonym", utils.ShortCookie(e.Pseudonym), "kind", e.Kind)
	s.notify(ctx, userID, fmt.Sprintf("✅ Your %s feedback was posted! Feedback number: %s", e.Kind, FormatNumber(e.DisplayNumber)))
	return e, nil
}

// restoreSession puts a claimed session back after a failure, unless the
// user has started a new one meanwhile.
func (s *Service) restoreSession(ctx context.Context, sess *models.PendingUploadSession) {
	if _, err := s.sessions.PutIfAbsent(ctx, sess); err != nil {
		s.logger.Warn("Failed to restore upload session", "number", sess.DisplayNumber, "error", err)
	}
}

// prepareUpload checks a delivered file against the session's kind and
// returns the bytes to publish. Images are re-encoded without metadata.
func prepareUpload(kind models.ContentKind, up Upload) (data []byte, ext, contentType string, err error) {
	if len(up.Data) == 0 {
		return nil, "", "", validation(CodeBadFile, "the upload is empty")
	}
	if len(up.Data) > config.MaxFileSize {
		return nil, "", "", validation(CodeFileTooLarge, "the file is %.1fMB, the limit is %dMB",
			float64(len(up.Data))/1024/1024, config.MaxFileSize/1024/1024)
	}

	ext = utils.FileExtension(up.Filename)
	isImage := slices.Contains(config.ImageExtensions, ext)
	switch kind {
	case models.KindImage:
		if !isImage {
			return nil, "", "", validation(CodeBadFile, "unsupported image format %q, supported: %s", ext, strings.Join(config.ImageExtensions, ", "))
		}
	case models.KindFile:
		if !isImage && !slices.Contains(config.FileExtensions, ext) {
			return nil, "", "", validation(CodeBadFile, "unsupported file format %q", ext)
		}
	}

	if isImage {
		clean, cleanExt, cleanType, err := utils.SanitizeImage(up.Data)
		if err != nil {
			return nil, "", "", validation(CodeBadFile, "the image could not be read")
		}
		return clean, cleanExt, cleanType, nil
	}

	contentType = up.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(ext)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return up.Data, ext, contentType, nil
}

// PurgeExpiredUploads drops sessions older than the upload TTL and returns
// how many it removed. Expiry is also enforced on every lookup; this only
// frees memory.
func (s *Service) PurgeExpiredUploads(ctx context.Context) (int, error) {
	all, err := s.sessions.List(ctx)
	if err != nil {
		return 0, storage(err, "could not list upload sessions")
	}
	cutoff := s.now().Add(-config.UploadTTL)
	removed := 0
	for _, sess := range all {
		if !sess.CreatedAt.Before(cutoff) {
			continue
		}
		ok, err := s.sessions.Take(ctx, sess.RealUserID, sess.DisplayNumber)
		if err != nil {
			return removed, storage(err, "could not drop upload session")
		}
		if ok {
			removed++
			uploadSessionCount.WithLabelValues("expired").Inc()
		}
	}
	return removed, nil
}
