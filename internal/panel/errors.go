package panel

import "errors"

type Kind string

const (
	KindValidation   Kind = "validation"
	KindAccessDenied Kind = "access_denied"
	KindNotFound     Kind = "not_found"
	// KindAlreadyDone marks idempotency signals: already finalized, closed, voted or completed.
	KindAlreadyDone Kind = "already_done"
)

// Error is an expected workflow outcome carrying the message shown to the user.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Kind) + ": " + e.Message
}

func Validation(message string) error  { return &Error{Kind: KindValidation, Message: message} }
func Denied(message string) error      { return &Error{Kind: KindAccessDenied, Message: message} }
func NotFound(message string) error    { return &Error{Kind: KindNotFound, Message: message} }
func AlreadyDone(message string) error { return &Error{Kind: KindAlreadyDone, Message: message} }

// KindOf returns the kind of a panel error, or "" for anything else.
func KindOf(err error) Kind {
	var panelErr *Error
	if errors.As(err, &panelErr) {
		return panelErr.Kind
	}
	return ""
}
