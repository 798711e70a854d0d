// Package apperr holds the error taxonomy shared by the store, the hub and
// the sessions. Callers wrap these with github.com/pkg/errors and test them
// with errors.Is.
package apperr

import "github.com/pkg/errors"

var (
	ErrInvalidPeer        = errors.New("invalid peer")
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrVersionConflict    = errors.New("version conflict")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrSubscriptionLost   = errors.New("subscription lost")
	ErrForbidden          = errors.New("forbidden")
	ErrRateLimited        = errors.New("rate limited")
	ErrInvalidContent     = errors.New("invalid content")
	ErrRemoved            = errors.New("participant removed")
)

// Unavailable marks a backend failure as transient so it surfaces as a
// dismissible notice instead of a hard failure.
func Unavailable(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(ErrStorageUnavailable, "%s: %v", msg, err)
}

// Transient reports whether err is worth retrying.
func Transient(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrVersionConflict)
}
