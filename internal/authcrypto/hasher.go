// Package authcrypto defines the password-hasher boundary spec.md 1
// names as an external collaborator ("the password hasher") and ships the
// concrete bcrypt implementation (golang.org/x/crypto/bcrypt, already the
// teacher's own transitive dependency via golang.org/x/crypto).
package authcrypto

import "golang.org/x/crypto/bcrypt"

// Hasher verifies and produces password hashes. The interface boundary
// exists so internal/auth never imports bcrypt directly — spec.md treats
// hashing as an external collaborator, not a core concern.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
}

// BcryptHasher is the shipped Hasher implementation.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher builds a BcryptHasher. cost<=0 uses bcrypt's default.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	raw, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (h *BcryptHasher) Verify(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

var _ Hasher = (*BcryptHasher)(nil)
