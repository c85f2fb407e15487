// Package readmodel keeps the query side of the identity subsystem: one
// document per user, maintained by UserProjection and served by Store.
package readmodel

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/codewandler/identity-go/core/cache"
	"github.com/codewandler/identity-go/core/sf"
	"github.com/codewandler/identity-go/identity/user"
	"github.com/codewandler/identity-go/ports/kv"
)

const (
	usersPrefix   = "users/"
	byEmailPrefix = "users_by_email/"
)

// UserDocument is derived from the user stream. UpdatedAt is the instant of
// the last event folded in.
type UserDocument struct {
	ID           string     `json:"id"`
	Email        string     `json:"email,omitempty"`
	PasswordHash string     `json:"password_hash,omitempty"`
	DisplayName  string     `json:"display_name,omitempty"`
	RegisteredAt *time.Time `json:"registered_at,omitempty"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func userKey(id string) string { return usersPrefix + id }

// emailKey encodes the address since '@' and '+' are not valid key bytes.
func emailKey(email string) string {
	return byEmailPrefix + base64.RawURLEncoding.EncodeToString([]byte(email))
}

type emailIndex struct {
	UserID string `json:"user_id"`
}

// Store reads and writes user documents in a kv.Store.
type Store struct {
	kv      kv.Store
	byEmail cache.Cache[string]
	lookups sf.Group[string]
}

type Option func(*Store)

// WithEmailCache keeps email to id lookups that found a user in c. Only hits
// are cached: an email claimed by a user never moves to another one.
func WithEmailCache(c cache.Cache[string]) Option {
	return func(s *Store) { s.byEmail = c }
}

func NewStore(store kv.Store, opts ...Option) *Store {
	s := &Store{kv: store, byEmail: cache.Nop[string]{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the document of id, or kv.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*UserDocument, error) {
	doc, err := kv.Get[UserDocument](ctx, s.kv, userKey(id))
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Put stores doc and, when it carries an email, its email index entry.
func (s *Store) Put(ctx context.Context, doc *UserDocument) error {
	if err := kv.Put(ctx, s.kv, userKey(doc.ID), doc, kv.PutOptions{}); err != nil {
		return fmt.Errorf("put user %s: %w", doc.ID, err)
	}
	if doc.Email == "" {
		return nil
	}
	if err := kv.Put(ctx, s.kv, emailKey(doc.Email), emailIndex{UserID: doc.ID}, kv.PutOptions{}); err != nil {
		return fmt.Errorf("put email index %s: %w", doc.ID, err)
	}
	return nil
}

// IDs lists the ids of every stored document.
func (s *Store) IDs(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx, usersPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k[len(usersPrefix):])
	}
	return ids, nil
}

func (s *Store) ExistsWithEmail(ctx context.Context, email user.Email) (bool, error) {
	id, err := s.FindUserIDByEmail(ctx, email)
	return id != nil, err
}

// FindUserIDByEmail returns nil when no document carries email. Concurrent
// lookups of one email share a single read.
func (s *Store) FindUserIDByEmail(ctx context.Context, email user.Email) (*user.ID, error) {
	key := email.String()
	raw, ok := s.byEmail.Get(key)
	if !ok {
		var err error
		raw, _, err = s.lookups.Do(key, func() (string, error) {
			idx, err := kv.Get[emailIndex](ctx, s.kv, emailKey(key))
			if errors.Is(err, kv.ErrNotFound) {
				return "", nil
			}
			if err != nil {
				return "", err
			}
			return idx.UserID, nil
		})
		if err != nil || raw == "" {
			return nil, err
		}
	}
	id, err := user.ParseID(raw)
	if err != nil {
		return nil, fmt.Errorf("email index %s: %w", email, err)
	}
	s.byEmail.Put(key, raw)
	return &id, nil
}
