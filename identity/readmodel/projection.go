package readmodel

import (
	"errors"
	"sync"
	"time"

	"github.com/codewandler/identity-go/core/es"
	"github.com/codewandler/identity-go/identity/user"
	"github.com/codewandler/identity-go/ports/kv"
)

const ProjectionName = "identity.users"

// UserProjection folds user events into UserDocuments. Every event is merged
// into the stored document, so redelivered or reordered events converge on
// the same result.
type UserProjection struct {
	mu    sync.Mutex
	store *Store
}

func NewUserProjection(store *Store) *UserProjection {
	return &UserProjection{store: store}
}

func (p *UserProjection) Name() string { return ProjectionName }

func (p *UserProjection) Handle(msgCtx es.MsgCtx) error {
	switch e := msgCtx.Event().(type) {
	case *user.UserRegistered:
		return p.upsert(msgCtx, e.UserID, func(doc *UserDocument) {
			at := e.RegisteredAt
			doc.Email = e.Email
			doc.PasswordHash = e.PasswordHash
			doc.DisplayName = e.DisplayName
			doc.RegisteredAt = &at
			bump(doc, at)
		})
	case *user.UserLoggedIn:
		return p.upsert(msgCtx, e.UserID, func(doc *UserDocument) {
			at := e.LoggedInAt
			if doc.LastLoginAt == nil || at.After(*doc.LastLoginAt) {
				doc.LastLoginAt = &at
			}
			bump(doc, at)
		})
	}
	return nil
}

func (p *UserProjection) upsert(msgCtx es.MsgCtx, id string, mutate func(doc *UserDocument)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx := msgCtx.Context()
	doc, err := p.store.Get(ctx, id)
	if errors.Is(err, kv.ErrNotFound) {
		doc, err = &UserDocument{ID: id}, nil
	}
	if err != nil {
		return err
	}
	mutate(doc)
	return p.store.Put(ctx, doc)
}

func bump(doc *UserDocument, at time.Time) {
	if at.After(doc.UpdatedAt) {
		doc.UpdatedAt = at
	}
}

var _ es.Projection = (*UserProjection)(nil)
