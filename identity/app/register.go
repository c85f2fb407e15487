package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codewandler/identity-go/core/clock"
	"github.com/codewandler/identity-go/core/es"
	"github.com/codewandler/identity-go/identity/user"
)

type RegisterUserHandler struct {
	log       *slog.Logger
	store     es.EventStore
	users     *es.Repository[*user.User]
	readModel UserReadModel
	hasher    user.PasswordHasher
	clock     clock.Clock
}

func NewRegisterUserHandler(deps Deps) *RegisterUserHandler {
	deps = deps.withDefaults()
	return &RegisterUserHandler{
		log:       deps.Log.With(slog.String("handler", RegisterUser{}.CommandName())),
		store:     deps.Store,
		users:     newUserRepository(deps),
		readModel: deps.ReadModel,
		hasher:    deps.Hasher,
		clock:     deps.Clock,
	}
}

func (h *RegisterUserHandler) Handle(ctx context.Context, cmd RegisterUser) error {
	id, err := user.ParseID(cmd.ID)
	if err != nil {
		return err
	}
	email, err := user.ParseEmail(cmd.Email)
	if err != nil {
		return err
	}
	plain, err := user.ParsePlainPassword(cmd.Password)
	if err != nil {
		return err
	}
	var opts []user.RegisterOption
	if cmd.DateOfBirth != "" {
		dob, err := user.ParseDateOfBirth(cmd.DateOfBirth)
		if err != nil {
			return err
		}
		opts = append(opts, user.WithDateOfBirth(dob))
	}
	if cmd.DisplayName != "" {
		name, err := user.ParseDisplayName(cmd.DisplayName)
		if err != nil {
			return err
		}
		opts = append(opts, user.WithDisplayName(name))
	}

	log := h.log.With(slog.String("user_id", id.String()))

	// Advisory only: the read model may lag, the email claim below decides.
	taken, err := h.readModel.ExistsWithEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if taken {
		return &user.RegistrationRejected{Reason: user.EmailAlreadyInUse}
	}

	// A taken id must not reserve the email. Save below still decides races.
	if v, err := h.users.Version(ctx, id.String()); err != nil {
		return fmt.Errorf("read user version: %w", err)
	} else if v != 0 {
		return &DuplicateRegistrationError{UserID: id.String(), Err: es.NewConcurrencyConflict(user.AggregateType, id.String(), 0, v)}
	}

	hash, err := h.hasher.Hash(plain)
	if err != nil {
		return err
	}
	u, err := user.Register(id, email, hash, h.clock.Now(), opts...)
	if err != nil {
		return err
	}

	if _, err := es.AppendEvents(
		ctx,
		h.store,
		user.EmailAggregateType,
		email.String(),
		0,
		user.NewEmailClaimed(email, id, u.RegisteredAt()),
	); err != nil {
		if errors.Is(err, es.ErrConcurrencyConflict) {
			log.Info("email already claimed")
			return &user.RegistrationRejected{Reason: user.EmailAlreadyInUse}
		}
		return fmt.Errorf("claim email: %w", err)
	}

	if _, err := h.users.Save(ctx, u, 0); err != nil {
		// Only a concurrent registration of id gets here. The claim stays and
		// keeps the address reserved for id.
		log.Warn("email claimed but user not stored", slog.Any("error", err))
		if errors.Is(err, es.ErrConcurrencyConflict) {
			return &DuplicateRegistrationError{UserID: id.String(), Err: err}
		}
		return err
	}

	log.Info("user registered")
	return nil
}
