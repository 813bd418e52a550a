package domain

import "errors"

// Validation errors: rejected before the store is touched, retryable by
// the caller with corrected input.
var (
	ErrInvalidKey      = errors.New("invalid room key")
	ErrInvalidName     = errors.New("invalid name")
	ErrInvalidAvatar   = errors.New("invalid avatar")
	ErrInvalidCapacity = errors.New("invalid max members")
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room full")
	ErrFileNotFound = errors.New("file not found")

	// ErrNotAdmin and ErrUnauthorized are surfaced and logged, never retried.
	ErrNotAdmin     = errors.New("not room admin")
	ErrUnauthorized = errors.New("unauthorized")

	// ErrStoreUnavailable makes every mutating operation fail closed.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// IsValidation reports whether err belongs to the validation class.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidKey) ||
		errors.Is(err, ErrInvalidName) ||
		errors.Is(err, ErrInvalidAvatar) ||
		errors.Is(err, ErrInvalidCapacity)
}
