package domain

import "errors"

var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists indicates a duplicate entity.
	ErrAlreadyExists = errors.New("already exists")
	// ErrConcurrentModification indicates an update was sent with a stale version.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrUnauthorized indicates the credentials were rejected.
	ErrUnauthorized = errors.New("unauthorized")
)

// FieldError is a platform validation error normalized for form mapping.
type FieldError struct {
	DetailedErrorMessage string `json:"detailedErrorMessage"`
	Code                 string `json:"code"`
	Error                string `json:"error"`
	Message              string `json:"message"`
}
