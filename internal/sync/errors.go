package sync

import (
	"errors"
	"fmt"
)

// ErrNoActiveUser is returned by engine operations that need an active
// user when none has been initialized.
var ErrNoActiveUser = errors.New("no active user")

// ValidationError indicates input that must be rejected before any
// write: a malformed server record or an unusable identifier. The
// offending call fails; nothing is cached.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error (%s): %s", e.Field, e.Message)
}

// IsValidationError reports whether err (or any error in its chain) is
// a ValidationError.
func IsValidationError(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}

// IdentityError indicates an operation addressed to a user other than
// the current one, e.g. wiping a partition while someone else is
// active.
type IdentityError struct {
	Requested string
	Active    string
}

func (e *IdentityError) Error() string {
	if e.Active == "" {
		return fmt.Sprintf("identity error: %s is not the current user", e.Requested)
	}
	return fmt.Sprintf("identity error: %s is not the current user (%s is)", e.Requested, e.Active)
}

// IsIdentityError reports whether err (or any error in its chain) is
// an IdentityError.
func IsIdentityError(err error) bool {
	var idErr *IdentityError
	return errors.As(err, &idErr)
}
