package user

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher turns a plain password into a salted one-way hash. Two
// calls with the same input yield different hashes.
type PasswordHasher interface {
	Hash(plain PlainPassword) (HashedPassword, error)
}

type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a hasher with the given cost. Costs outside
// [bcrypt.MinCost, bcrypt.MaxCost] fall back to bcrypt.DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(plain PlainPassword) (HashedPassword, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain.Reveal()), h.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return HashedPassword{}, invalid("password", "must be at most 72 bytes")
	}
	if err != nil {
		return HashedPassword{}, fmt.Errorf("hash password: %w", err)
	}
	return ParseHashedPassword(string(b))
}

var _ PasswordHasher = (*BcryptHasher)(nil)
