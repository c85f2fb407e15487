package app

import (
	"context"

	"github.com/codewandler/identity-go/identity/user"
)

// UserReadModel is the query side the handlers consult. It may lag the
// event store.
type UserReadModel interface {
	ExistsWithEmail(ctx context.Context, email user.Email) (bool, error)
	// FindUserIDByEmail returns nil when no user has the email.
	FindUserIDByEmail(ctx context.Context, email user.Email) (*user.ID, error)
}
