package user

import (
	"errors"
	"fmt"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrRegistrationRejected   = errors.New("registration rejected")
	ErrAuthenticationRejected = errors.New("authentication rejected: invalid credentials")
)

// ValidationError reports malformed input for one field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, reason string) error { return &ValidationError{Field: field, Reason: reason} }

type RejectionReason string

const (
	EmailAlreadyInUse      RejectionReason = "email_already_in_use"
	UserTooYoung           RejectionReason = "user_too_young"
	DateOfBirthInTheFuture RejectionReason = "date_of_birth_in_the_future"
)

// RegistrationRejected is a business rule violation during registration.
type RegistrationRejected struct {
	Reason RejectionReason
}

func (e *RegistrationRejected) Error() string {
	return fmt.Sprintf("%s: %s", ErrRegistrationRejected, e.Reason)
}

func (e *RegistrationRejected) Is(target error) bool { return target == ErrRegistrationRejected }

func reject(reason RejectionReason) error { return &RegistrationRejected{Reason: reason} }

// IsRejectedFor reports whether err is a registration rejection with reason.
func IsRejectedFor(err error, reason RejectionReason) bool {
	var rr *RegistrationRejected
	return errors.As(err, &rr) && rr.Reason == reason
}
