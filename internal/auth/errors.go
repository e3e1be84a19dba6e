// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import "errors"

// Sentinel errors for callers to branch on with errors.Is. Repository
// implementations return these; the service wraps them with oops codes
// and context before they cross the public boundary.
var (
	// ErrNotFound is returned when a requested user does not exist.
	ErrNotFound = errors.New("user not found")

	// ErrEmailTaken is returned when an email is already registered.
	ErrEmailTaken = errors.New("email already in use")

	// ErrUsernameTaken is returned when a username is already registered.
	ErrUsernameTaken = errors.New("username already in use")
)

// IsConflict reports whether err is a uniqueness conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrEmailTaken) || errors.Is(err, ErrUsernameTaken)
}

// ConflictField returns which field a conflict error names, or "" if
// err is not a conflict.
func ConflictField(err error) string {
	switch {
	case errors.Is(err, ErrEmailTaken):
		return "email"
	case errors.Is(err, ErrUsernameTaken):
		return "username"
	default:
		return ""
	}
}
