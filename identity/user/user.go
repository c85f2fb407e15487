package user

import (
	"errors"
	"fmt"
	"time"

	"github.com/codewandler/identity-go/core/es"
)

// User is the event-sourced identity aggregate. Its fields are set only by
// Apply, for freshly raised events and replayed ones alike.
type User struct {
	es.BaseAggregate

	id           ID
	email        Email
	password     HashedPassword
	dateOfBirth  *DateOfBirth
	displayName  *DisplayName
	registeredAt time.Time
	lastLoginAt  time.Time
	registered   bool
}

type (
	registerOptions struct {
		dateOfBirth *DateOfBirth
		displayName *DisplayName
	}
	RegisterOption func(*registerOptions)
)

func WithDateOfBirth(d DateOfBirth) RegisterOption {
	return func(o *registerOptions) { o.dateOfBirth = &d }
}

func WithDisplayName(n DisplayName) RegisterOption {
	return func(o *registerOptions) { o.displayName = &n }
}

// Register creates a user and records its UserRegistered event. When a date
// of birth is given, it must not lie after registeredAt and the user must be
// at least MinimumAge years old at registeredAt.
func Register(id ID, email Email, password HashedPassword, registeredAt time.Time, opts ...RegisterOption) (*User, error) {
	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}

	if dob := o.dateOfBirth; dob != nil {
		if dob.IsAfter(registeredAt) {
			return nil, reject(DateOfBirthInTheFuture)
		}
		if dob.AgeAt(registeredAt) < MinimumAge {
			return nil, reject(UserTooYoung)
		}
	}

	ev := &UserRegistered{
		UserID:       id.String(),
		Email:        email.String(),
		PasswordHash: password.String(),
		RegisteredAt: es.NormalizeTime(registeredAt),
	}
	if o.dateOfBirth != nil {
		ev.DateOfBirth = o.dateOfBirth.String()
	}
	if o.displayName != nil {
		ev.DisplayName = o.displayName.String()
	}

	u := &User{}
	if err := es.RaiseAndApply(u, ev); err != nil {
		return nil, err
	}
	return u, nil
}

// Reconstitute rebuilds a user from its stream without recording anything.
func Reconstitute(events []es.Event) (*User, error) {
	if len(events) == 0 {
		return nil, errors.New("user stream is empty")
	}
	u := &User{}
	if err := es.Replay(u, events); err != nil {
		return nil, err
	}
	return u, nil
}

// Login checks plain against the stored hash and records UserLoggedIn on
// success. A mismatch records nothing.
func (u *User) Login(plain string, now time.Time) error {
	if !u.registered || !u.password.Verify(plain) {
		return ErrAuthenticationRejected
	}
	return es.RaiseAndApply(u, &UserLoggedIn{UserID: u.id.String(), LoggedInAt: es.NormalizeTime(now)})
}

func (u *User) Apply(event es.Event) error {
	switch e := event.(type) {
	case *UserRegistered:
		return u.applyRegistered(e)
	case *UserLoggedIn:
		if !u.registered {
			return fmt.Errorf("user %s: login before registration", e.UserID)
		}
		if e.LoggedInAt.After(u.lastLoginAt) {
			u.lastLoginAt = e.LoggedInAt
		}
		return nil
	}
	return es.UnknownEvent("user", event)
}

func (u *User) applyRegistered(e *UserRegistered) error {
	if u.registered {
		return fmt.Errorf("user %s: already registered", e.UserID)
	}
	id, err := ParseID(e.UserID)
	if err != nil {
		return err
	}
	email, err := ParseEmail(e.Email)
	if err != nil {
		return err
	}
	password, err := ParseHashedPassword(e.PasswordHash)
	if err != nil {
		return err
	}
	if e.DateOfBirth != "" {
		dob, err := ParseDateOfBirth(e.DateOfBirth)
		if err != nil {
			return err
		}
		u.dateOfBirth = &dob
	}
	if e.DisplayName != "" {
		name, err := ParseDisplayName(e.DisplayName)
		if err != nil {
			return err
		}
		u.displayName = &name
	}

	u.SetID(id.String())
	u.id = id
	u.email = email
	u.password = password
	u.registeredAt = e.RegisteredAt
	u.registered = true
	return nil
}

func (u *User) ID() ID                  { return u.id }
func (u *User) Email() Email            { return u.email }
func (u *User) RegisteredAt() time.Time { return u.registeredAt }

// LastLoginAt is zero when the user never logged in.
func (u *User) LastLoginAt() time.Time { return u.lastLoginAt }

func (u *User) DateOfBirth() (DateOfBirth, bool) {
	if u.dateOfBirth == nil {
		return DateOfBirth{}, false
	}
	return *u.dateOfBirth, true
}

func (u *User) DisplayName() (DisplayName, bool) {
	if u.displayName == nil {
		return DisplayName{}, false
	}
	return *u.displayName, true
}

var _ es.Aggregate = (*User)(nil)
