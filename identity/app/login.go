package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/codewandler/identity-go/core/clock"
	"github.com/codewandler/identity-go/core/es"
	"github.com/codewandler/identity-go/identity/user"
)

type LoginHandler struct {
	log   *slog.Logger
	users *es.Repository[*user.User]
	clock clock.Clock
}

func NewLoginHandler(deps Deps) *LoginHandler {
	deps = deps.withDefaults()
	return &LoginHandler{
		log:   deps.Log.With(slog.String("handler", LoginUser{}.CommandName())),
		users: newUserRepository(deps),
		clock: deps.Clock,
	}
}

// Handle verifies the password and records the login. Unknown ids and wrong
// passwords both yield user.ErrAuthenticationRejected. A concurrent write to
// the same user is retried once against the re-read stream.
func (h *LoginHandler) Handle(ctx context.Context, cmd LoginUser) error {
	id, err := user.ParseID(cmd.UserID)
	if err != nil {
		return user.ErrAuthenticationRejected
	}

	for attempt := 1; ; attempt++ {
		u, v, err := h.users.Load(ctx, id.String())
		if errors.Is(err, es.ErrAggregateNotFound) {
			return user.ErrAuthenticationRejected
		}
		if err != nil {
			return err
		}

		if err := u.Login(cmd.Password, h.clock.Now()); err != nil {
			return err
		}

		_, err = h.users.Save(ctx, u, v)
		if errors.Is(err, es.ErrConcurrencyConflict) && attempt == 1 {
			h.log.Debug("login raced, retrying", slog.String("user_id", id.String()), v.SlogAttr())
			continue
		}
		return err
	}
}
