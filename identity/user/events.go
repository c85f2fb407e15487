package user

import (
	"errors"
	"time"

	"github.com/codewandler/identity-go/core/es"
)

const (
	// AggregateType names the user streams.
	AggregateType = "user"
	// EmailAggregateType names the email reservation streams, one per
	// normalized email address.
	EmailAggregateType = "user_email"
)

type (
	UserRegistered struct {
		UserID       string    `json:"user_id"`
		Email        string    `json:"email"`
		PasswordHash string    `json:"password_hash"`
		DateOfBirth  string    `json:"date_of_birth,omitempty"`
		DisplayName  string    `json:"display_name,omitempty"`
		RegisteredAt time.Time `json:"registered_at"`
	}

	UserLoggedIn struct {
		UserID     string    `json:"user_id"`
		LoggedInAt time.Time `json:"logged_in_at"`
	}

	// EmailClaimed reserves an email address for one user. It is the first
	// and only event of a user_email stream.
	EmailClaimed struct {
		Email     string    `json:"email"`
		UserID    string    `json:"user_id"`
		ClaimedAt time.Time `json:"claimed_at"`
	}
)

func (e *UserRegistered) EventType() string     { return "identity.user_registered" }
func (e *UserRegistered) AggregateID() string   { return e.UserID }
func (e *UserRegistered) OccurredAt() time.Time { return e.RegisteredAt }

func (e *UserLoggedIn) EventType() string     { return "identity.user_logged_in" }
func (e *UserLoggedIn) AggregateID() string   { return e.UserID }
func (e *UserLoggedIn) OccurredAt() time.Time { return e.LoggedInAt }

func (e *EmailClaimed) EventType() string     { return "identity.email_claimed" }
func (e *EmailClaimed) AggregateID() string   { return e.Email }
func (e *EmailClaimed) OccurredAt() time.Time { return e.ClaimedAt }

func (e *UserRegistered) Validate() error {
	switch {
	case e.UserID == "":
		return errors.New("user id is required")
	case e.Email == "":
		return errors.New("email is required")
	case e.PasswordHash == "":
		return errors.New("password hash is required")
	case e.RegisteredAt.IsZero():
		return errors.New("registered at is zero")
	}
	return nil
}

func (e *UserLoggedIn) Validate() error {
	if e.LoggedInAt.IsZero() {
		return errors.New("logged in at is zero")
	}
	return nil
}

// NewEmailClaimed builds the reservation of email for id.
func NewEmailClaimed(email Email, id ID, at time.Time) *EmailClaimed {
	return &EmailClaimed{Email: email.String(), UserID: id.String(), ClaimedAt: es.NormalizeTime(at)}
}

// RegisterEvents adds every identity event to r.
func RegisterEvents(r es.Registrar) {
	es.RegisterEvents(r,
		es.EventOf[UserRegistered](),
		es.EventOf[UserLoggedIn](),
		es.EventOf[EmailClaimed](),
	)
}

// NewRegistry returns a registry that decodes every identity event.
func NewRegistry() *es.EventRegistry {
	r := es.NewRegistry()
	RegisterEvents(r)
	return r
}
