package app

import (
	"context"

	"github.com/codewandler/identity-go/identity/user"
)

type FindUserAuthDataByEmailHandler struct {
	readModel UserReadModel
}

func NewFindUserAuthDataByEmailHandler(deps Deps) *FindUserAuthDataByEmailHandler {
	return &FindUserAuthDataByEmailHandler{readModel: deps.ReadModel}
}

// Handle returns nil when no user has the email.
func (h *FindUserAuthDataByEmailHandler) Handle(ctx context.Context, q FindUserAuthDataByEmail) (*AuthData, error) {
	email, err := user.ParseEmail(q.Email)
	if err != nil {
		return nil, err
	}
	id, err := h.readModel.FindUserIDByEmail(ctx, email)
	if err != nil || id == nil {
		return nil, err
	}
	return &AuthData{ID: id.String(), Roles: []string{RoleUser}}, nil
}
