package forum

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrDuplicateUser      = errors.New("username already taken")
	ErrDuplicateSubforum  = errors.New("subforum already exists")
	ErrInvalidParent      = errors.New("parent comment belongs to another post")
	ErrInvalidVoteValue   = errors.New("vote must be -1, 0 or 1")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthenticated    = errors.New("user id required")
	ErrLedgerMismatch     = errors.New("post aggregate does not match its votes")
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// NotFound wraps ErrNotFound with the kind and id of the missing row.
func NotFound(kind string, id interface{}) error {
	return fmt.Errorf("%w: %s %v", ErrNotFound, kind, id)
}

// Unavailable marks err as an unexpected backend failure. Errors that already
// carry one of the kinds above are returned unchanged.
func Unavailable(err error) error {
	if err == nil || IsKnown(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
}

// IsKnown reports whether err carries one of the error kinds of this package.
func IsKnown(err error) bool {
	for _, kind := range []error{
		ErrNotFound,
		ErrDuplicateUser,
		ErrDuplicateSubforum,
		ErrInvalidParent,
		ErrInvalidVoteValue,
		ErrInvalidInput,
		ErrUnauthenticated,
		ErrLedgerMismatch,
		ErrBackendUnavailable,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
