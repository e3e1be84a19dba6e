// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"
)

// Bcrypt cost bounds. DefaultBcryptCost balances brute-force resistance
// against login latency.
const (
	DefaultBcryptCost = 10
	MinBcryptCost     = bcrypt.MinCost
	MaxBcryptCost     = bcrypt.MaxCost
)

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")

// PasswordHasher provides one-way salted password hashing.
type PasswordHasher interface {
	// Hash produces a salted hash of the password. Each call embeds a
	// fresh random salt, so hashing the same input twice yields
	// different outputs.
	Hash(password string) (string, error)

	// Verify checks the password against a stored hash. A malformed
	// hash is a mismatch, not an error: the only error condition is an
	// empty password.
	Verify(password, hash string) (bool, error)
}

// BcryptHasher implements PasswordHasher using bcrypt. The work factor
// and salt are embedded in the hash output, so Verify needs no
// configuration to check hashes produced at a different cost.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a BcryptHasher with the given cost. Costs
// outside bcrypt's supported range fall back to DefaultBcryptCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < MinBcryptCost || cost > MaxBcryptCost {
		cost = DefaultBcryptCost
	}
	return &BcryptHasher{cost: cost}
}

// Cost returns the configured work factor.
func (h *BcryptHasher) Cost() int {
	return h.cost
}

// Hash produces a salted bcrypt hash of the password.
func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", oops.Code("AUTH_HASH_FAILED").Wrap(err)
	}
	return string(hash), nil
}

// Verify checks the password against a stored bcrypt hash. Mismatches
// and malformed hashes both report (false, nil); corrupt stored data
// must never escalate into a control-flow error on the login path.
func (h *BcryptHasher) Verify(password, hash string) (bool, error) {
	if password == "" {
		return false, ErrEmptyPassword
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	// Truncated or non-bcrypt stored hash. Treat as mismatch.
	return false, nil
}

// Compile-time interface check.
var _ PasswordHasher = (*BcryptHasher)(nil)
