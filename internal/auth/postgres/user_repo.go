// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package postgres implements auth repositories using PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/auth"
)

// Unique index names from the users migration. The constraint that
// fired decides which field the conflict error names.
const (
	emailUniqueIndex    = "users_email_lower_idx"
	usernameUniqueIndex = "users_username_lower_idx"
)

// poolIface is the subset of pgxpool.Pool the repository uses. Tests
// substitute a pgxmock pool.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UserRepository implements auth.UserRepository using PostgreSQL. The
// unique indexes on lower(email) and lower(username) are the
// authoritative enforcement of the uniqueness invariant; this
// repository only translates their violations.
type UserRepository struct {
	pool poolIface
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool poolIface) *UserRepository {
	return &UserRepository{pool: pool}
}

const userColumns = `id, username, email, name, password_hash, created_at, updated_at`

// Create stores a new user. Returns auth.ErrEmailTaken or
// auth.ErrUsernameTaken when a unique index rejects the insert, which
// is race-safe regardless of any pre-check the caller performed.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, username, email, name, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		user.ID.String(),
		user.Username,
		user.Email,
		user.Name,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if conflict := conflictFor(err); conflict != nil {
			return conflict
		}
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("username", user.Username).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id.String())

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user by id").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email (case-insensitive).
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE LOWER(email) = LOWER($1)
	`, email)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	return user, nil
}

// GetByUsername retrieves a user by username (case-insensitive).
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE LOWER(username) = LOWER($1)
	`, username)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("username", username).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_USERNAME_FAILED").
			With("operation", "get user by username").
			With("username", username).
			Wrap(err)
	}
	return user, nil
}

// List returns all users ordered by creation time.
func (r *UserRepository) List(ctx context.Context) ([]*auth.User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, oops.Code("USER_LIST_FAILED").
			With("operation", "list users").
			Wrap(err)
	}
	defer rows.Close()

	var users []*auth.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, oops.Code("USER_LIST_FAILED").
				With("operation", "scan user row").
				Wrap(err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("USER_LIST_FAILED").
			With("operation", "iterate users").
			Wrap(err)
	}
	return users, nil
}

// Update applies a partial profile update and returns the updated
// record. Unset fields keep their stored values.
func (r *UserRepository) Update(ctx context.Context, id ulid.ULID, fields auth.ProfileUpdate) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE users SET
			username = COALESCE($2, username),
			email = COALESCE($3, email),
			name = COALESCE($4, name),
			updated_at = $5
		WHERE id = $1
		RETURNING `+userColumns+`
	`,
		id.String(),
		fields.Username,
		fields.Email,
		fields.Name,
		time.Now().UTC(),
	)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		if conflict := conflictFor(err); conflict != nil {
			return nil, conflict
		}
		return nil, oops.Code("USER_UPDATE_FAILED").
			With("operation", "update user").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// UpdatePassword replaces only the password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE users SET password_hash = $2, updated_at = $3
		WHERE id = $1
	`, id.String(), passwordHash, time.Now().UTC())
	if err != nil {
		return oops.Code("USER_UPDATE_PASSWORD_FAILED").
			With("operation", "update password").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Delete removes a user.
func (r *UserRepository) Delete(ctx context.Context, id ulid.ULID) error {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM users WHERE id = $1
	`, id.String())
	if err != nil {
		return oops.Code("USER_DELETE_FAILED").
			With("operation", "delete user").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// conflictFor maps a unique-violation error to the sentinel naming the
// conflicted field, or nil if err is not a unique violation.
func conflictFor(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return nil
	}
	switch pgErr.ConstraintName {
	case emailUniqueIndex:
		return oops.Code("USER_CONFLICT").With("field", "email").Wrap(auth.ErrEmailTaken)
	case usernameUniqueIndex:
		return oops.Code("USER_CONFLICT").With("field", "username").Wrap(auth.ErrUsernameTaken)
	default:
		// Unknown unique index on the users table. Surface as an email
		// conflict rather than an internal error; email is the primary
		// login key.
		return oops.Code("USER_CONFLICT").Wrap(auth.ErrEmailTaken)
	}
}

// scanUser scans a single row into a User. Callers are responsible for
// handling pgx.ErrNoRows.
func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr        string
		username     string
		email        string
		name         string
		passwordHash string
		createdAt    time.Time
		updatedAt    time.Time
	)

	err := row.Scan(&idStr, &username, &email, &name, &passwordHash, &createdAt, &updatedAt)
	if err != nil {
		// Propagate pgx.ErrNoRows unchanged for callers to handle with context.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("USER_SCAN_FAILED").
			With("operation", "scan user").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").
			With("operation", "parse user id").
			With("id", idStr).
			Wrap(err)
	}

	return &auth.User{
		ID:           id,
		Username:     username,
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, nil
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
