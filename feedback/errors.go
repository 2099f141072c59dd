package feedback

import (
	"errors"
	"fmt"
)

// Error kinds. Callers match them with errors.Is.
var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrStorage      = errors.New("storage error")
	ErrPresentation = errors.New("presentation error")
)

// Error codes carried by *Error.
const (
	CodeNotQualifying   = "not_qualifying"
	CodeBadLink         = "bad_link"
	CodeEmptyBody       = "empty_body"
	CodeBodyTooLong     = "body_too_long"
	CodeRateLimited     = "rate_limited"
	CodeBanned          = "banned"
	CodeBannedByOwner   = "banned_by_owner"
	CodeAlreadyBanned   = "already_banned"
	CodeNotBanned       = "not_banned"
	CodeAlreadyRemoved  = "already_removed"
	CodeForbidden       = "forbidden"
	CodeBadFile         = "bad_file"
	CodeFileTooLarge    = "file_too_large"
	CodeNoPendingUpload = "no_pending_upload"
	CodeUploadExpired   = "upload_expired"
	CodeBadAmount       = "bad_amount"
	CodeUnknownNumber   = "unknown_number"
	CodeUnknownUser     = "unknown_user"
	CodeThreadGone      = "thread_gone"
	CodeStorage         = "storage"
	CodePresentation    = "presentation"
)

// Error is returned by every engine operation. Msg is safe to show to the
// acting user; Err carries the underlying cause, if any.
type Error struct {
	Kind error
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

func validation(code, format string, args ...any) error {
	rejectionCount.WithLabelValues(code).Inc()
	return &Error{Kind: ErrValidation, Code: code, Msg: fmt.Sprintf(format, args...)}
}

func notFound(code, format string, args ...any) error {
	rejectionCount.WithLabelValues(code).Inc()
	return &Error{Kind: ErrNotFound, Code: code, Msg: fmt.Sprintf(format, args...)}
}

func storage(err error, format string, args ...any) error {
	return &Error{Kind: ErrStorage, Code: CodeStorage, Msg: fmt.Sprintf(format, args...), Err: err}
}

func presentation(err error, format string, args ...any) error {
	return &Error{Kind: ErrPresentation, Code: CodePresentation, Msg: fmt.Sprintf(format, args...), Err: err}
}
