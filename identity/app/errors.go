package app

import (
	"errors"
	"fmt"

	"github.com/codewandler/identity-go/core/bus"
	"github.com/codewandler/identity-go/identity/user"
)

var ErrDuplicateRegistration = errors.New("user already registered")

// DuplicateRegistrationError is returned when the user stream already
// existed at registration time. It wraps the store's conflict.
type DuplicateRegistrationError struct {
	UserID string
	Err    error
}

func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrDuplicateRegistration, e.UserID, e.Err)
}

func (e *DuplicateRegistrationError) Is(target error) bool { return target == ErrDuplicateRegistration }
func (e *DuplicateRegistrationError) Unwrap() error        { return e.Err }

// Classify labels handler errors for the bus: caller mistakes and business
// rejections are "rejected", everything else is "error".
func Classify(err error) string {
	switch {
	case err == nil:
		return bus.OutcomeOK
	case errors.Is(err, user.ErrValidation),
		errors.Is(err, user.ErrRegistrationRejected),
		errors.Is(err, user.ErrAuthenticationRejected),
		errors.Is(err, ErrDuplicateRegistration):
		return bus.OutcomeRejected
	}
	return bus.OutcomeError
}
