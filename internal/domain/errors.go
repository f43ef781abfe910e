package domain

import "errors"

// Domain errors
var (
	ErrItemNotTracked        = errors.New("item is not tracked")
	ErrAlreadyTracked        = errors.New("item is already tracked")
	ErrTrackingNotFound      = errors.New("tracking record not found")
	ErrInvalidTrackingRecord = errors.New("tracking record is missing mandatory fields")
	ErrUserNotFound          = errors.New("user not found")
	ErrUnknownBucket         = errors.New("unknown leaderboard bucket")
	ErrContentDeleted        = errors.New("content deleted upstream")
	ErrSourceUnavailable     = errors.New("score source unavailable")
	ErrItemTooOld            = errors.New("item is too old to be tracked")
	ErrInvalidCommission     = errors.New("commission rate must be within [0,1]")
	ErrInvalidRequest        = errors.New("invalid request")
	ErrInternalError         = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrItemNotTracked) ||
		errors.Is(err, ErrTrackingNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrUnknownBucket)
}

// IsTransient reports whether a failure is expected to clear up on retry.
// Anything that is not a data integrity failure is retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrContentDeleted) && !errors.Is(err, ErrInvalidTrackingRecord)
}
