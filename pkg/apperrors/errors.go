package apperrors

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrRequestNotPending  = errors.New("request is not pending")
	ErrAlreadyClaimed     = errors.New("request already claimed for processing")
	ErrUnknownKind        = errors.New("unknown request kind")
	ErrUnsafeSubjectValue = errors.New("subject value failed injection screening")
)
