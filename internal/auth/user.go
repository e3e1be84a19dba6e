// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
)

// Password validation constraints. Only length is enforced; composition
// rules are a caller policy, not a core invariant.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72 // bcrypt input limit
)

// usernameRegex matches usernames that start with a letter and contain
// only letters, numbers, and underscores.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// emailRegex is a light syntactic check. Deliverability is not the
// core's concern; the storage layer enforces uniqueness.
var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// User represents a persisted account record. PasswordHash never
// crosses the public API boundary; see Identity.
type User struct {
	ID           ulid.ULID
	Username     string
	Email        string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity is the public projection of a User. It has no hash field by
// construction, which is what enforces the "hash never leaves the core"
// invariant.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
}

// Identity returns the public projection of the user.
func (u *User) Identity() Identity {
	return Identity{
		ID:       u.ID.String(),
		Username: u.Username,
		Email:    u.Email,
		Name:     u.Name,
	}
}

// NewUser creates a validated User with a fresh ID. passwordHash must
// already be hashed; NewUser only checks that it is non-empty.
func NewUser(username, email, name, passwordHash string) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("AUTH_INVALID_INPUT").Errorf("password hash cannot be empty")
	}

	now := time.Now().UTC()
	return &User{
		ID:           ulid.Make(),
		Username:     username,
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ValidateUsername validates a username against the rules above.
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code("AUTH_INVALID_INPUT").Errorf("username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return oops.Code("AUTH_INVALID_INPUT").
			With("min", MinUsernameLength).
			Errorf("username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code("AUTH_INVALID_INPUT").
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code("AUTH_INVALID_INPUT").
			Errorf("username must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// ValidateEmail validates email syntax.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code("AUTH_INVALID_INPUT").Errorf("email cannot be empty")
	}
	if len(email) > 254 || !emailRegex.MatchString(email) {
		return oops.Code("AUTH_INVALID_INPUT").Errorf("email is not valid")
	}
	return nil
}

// ValidatePassword validates a plaintext password before hashing.
func ValidatePassword(password string) error {
	if password == "" {
		return oops.Code("AUTH_INVALID_INPUT").Errorf("password cannot be empty")
	}
	if len(password) < MinPasswordLength {
		return oops.Code("AUTH_INVALID_INPUT").
			With("min", MinPasswordLength).
			Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return oops.Code("AUTH_INVALID_INPUT").
			With("max", MaxPasswordLength).
			Errorf("password must be at most %d characters", MaxPasswordLength)
	}
	return nil
}

// NormalizeEmail trims whitespace and lowercases. Emails are stored
// normalized; lookups and uniqueness are case-insensitive either way.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ProfileUpdate carries partial profile fields for Update. Nil pointers
// leave the field unchanged. Password changes go through
// UpdatePassword, never through here.
type ProfileUpdate struct {
	Username *string
	Email    *string
	Name     *string
}

// UserRepository manages user persistence. Implementations must enforce
// the email/username uniqueness invariant atomically per write: Create
// and Update return ErrEmailTaken or ErrUsernameTaken on violation
// regardless of any pre-check the caller performed.
type UserRepository interface {
	// Create stores a new user.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by email (case-insensitive).
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByUsername retrieves a user by username (case-insensitive).
	GetByUsername(ctx context.Context, username string) (*User, error)

	// List returns all users ordered by creation time.
	List(ctx context.Context) ([]*User, error)

	// Update applies a partial profile update. Returns ErrNotFound if
	// the id is absent.
	Update(ctx context.Context, id ulid.ULID, fields ProfileUpdate) (*User, error)

	// UpdatePassword replaces only the password hash.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error

	// Delete removes a user. Returns ErrNotFound if the id is absent.
	Delete(ctx context.Context, id ulid.ULID) error
}
