// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/auth/postgres"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)
	return mock
}

func uniqueViolation(constraint string) *pgconn.PgError {
	return &pgconn.PgError{
		Code:           pgerrcode.UniqueViolation,
		ConstraintName: constraint,
	}
}

func testUser() *auth.User {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &auth.User{
		ID:           ulid.Make(),
		Username:     "alice",
		Email:        "alice@example.com",
		Name:         "Alice",
		PasswordHash: "$2a$10$storedhash",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func userRows(u *auth.User) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "username", "email", "name", "password_hash", "created_at", "updated_at",
	}).AddRow(u.ID.String(), u.Username, u.Email, u.Name, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
}

func TestUserRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts user", func(t *testing.T) {
		mock := newMockPool(t)
		user := testUser()

		mock.ExpectExec(`INSERT INTO users`).
			WithArgs(user.ID.String(), user.Username, user.Email, user.Name,
				user.PasswordHash, user.CreatedAt, user.UpdatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		repo := postgres.NewUserRepository(mock)
		require.NoError(t, repo.Create(ctx, user))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("email unique violation", func(t *testing.T) {
		mock := newMockPool(t)
		user := testUser()

		mock.ExpectExec(`INSERT INTO users`).
			WithArgs(user.ID.String(), user.Username, user.Email, user.Name,
				user.PasswordHash, user.CreatedAt, user.UpdatedAt).
			WillReturnError(uniqueViolation("users_email_lower_idx"))

		repo := postgres.NewUserRepository(mock)
		err := repo.Create(ctx, user)
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrEmailTaken)
		errutil.AssertErrorContext(t, err, "field", "email")
	})

	t.Run("username unique violation", func(t *testing.T) {
		mock := newMockPool(t)
		user := testUser()

		mock.ExpectExec(`INSERT INTO users`).
			WithArgs(user.ID.String(), user.Username, user.Email, user.Name,
				user.PasswordHash, user.CreatedAt, user.UpdatedAt).
			WillReturnError(uniqueViolation("users_username_lower_idx"))

		repo := postgres.NewUserRepository(mock)
		err := repo.Create(ctx, user)
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrUsernameTaken)
		errutil.AssertErrorContext(t, err, "field", "username")
	})

	t.Run("other database error", func(t *testing.T) {
		mock := newMockPool(t)
		user := testUser()

		mock.ExpectExec(`INSERT INTO users`).
			WithArgs(user.ID.String(), user.Username, user.Email, user.Name,
				user.PasswordHash, user.CreatedAt, user.UpdatedAt).
			WillReturnError(errors.New("connection refused"))

		repo := postgres.NewUserRepository(mock)
		err := repo.Create(ctx, user)
		require.Error(t, err)
		assert.False(t, auth.IsConflict(err))
		errutil.AssertErrorCode(t, err, "USER_CREATE_FAILED")
	})
}

func TestUserRepository_GetByID(t *testing.T) {
	ctx := context.Background()

	t.Run("retrieves user", func(t *testing.T) {
		mock := newMockPool(t)
		user := testUser()

		mock.ExpectQuery(`(?s)SELECT.+FROM users.+WHERE id =`).
			WithArgs(user.ID.String()).
			WillReturnRows(userRows(user))

		repo := postgres.NewUserRepository(mock)
		got, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
		assert.Equal(t, user.Username, got.Username)
		assert.Equal(t, user.Email, got.Email)
		assert.Equal(t, user.PasswordHash, got.PasswordHash)
	})

	t.Run("not found", func(t *testing.T) {
		mock := newMockPool(t)
		id := ulid.Make()

		mock.ExpectQuery(`(?s)SELECT.+FROM users.+WHERE id =`).
			WithArgs(id.String()).
			WillReturnRows(pgxmock.NewRows([]string{
				"id", "username", "email", "name", "password_hash", "created_at", "updated_at",
			}))

		repo := postgres.NewUserRepository(mock)
		_, err := repo.GetByID(ctx, id)
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorCode(t, err, "USER_NOT_FOUND")
	})

	t.Run("corrupt id in storage", func(t *testing.T) {
		mock := newMockPool(t)
		id := ulid.Make()
		now := time.Now().UTC()

		mock.ExpectQuery(`(?s)SELECT.+FROM users.+WHERE id =`).
			WithArgs(id.String()).
			WillReturnRows(pgxmock.NewRows([]string{
				"id", "username", "email", "name", "password_hash", "created_at", "updated_at",
			}).AddRow("not-a-ulid", "alice", "alice@example.com", "", "hash", now, now))

		repo := postgres.NewUserRepository(mock)
		_, err := repo.GetByID(ctx, id)
		require.Error(t, err)
		assert.NotErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestUserRepository_GetByEmail(t *testing.T) {
	ctx := context.Background()

	t.Run("matches case-insensitively", func(t *testing.T) {
		mock := newMockPool(t)
		user := testUser()

		mock.ExpectQuery(`(?s)SELECT.+FROM users.+WHERE LOWER\(email\) = LOWER\(\$1\)`).
			WithArgs("Alice@Example.COM").
			WillReturnRows(userRows(user))

		repo := postgres.NewUserRepository(mock)
		got, err := repo.GetByEmail(ctx, "Alice@Example.COM")
		require.NoError(t, err)
		assert.Equal(t, user.Email, got.Email)
	})

	t.Run("not found", func(t *testing.T) {
		mock := newMockPool(t)

		mock.ExpectQuery(`(?s)SELECT.+FROM users.+WHERE LOWER\(email\) = LOWER\(\$1\)`).
			WithArgs("nobody@example.com").
			WillReturnRows(pgxmock.NewRows([]string{
				"id", "username", "email", "name", "password_hash", "created_at", "updated_at",
			}))

		repo := postgres.NewUserRepository(mock)
		_, err := repo.GetByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestUserRepository_GetByUsername(t *testing.T) {
	ctx := context.Background()
	mock := newMockPool(t)
	user := testUser()

	mock.ExpectQuery(`(?s)SELECT.+FROM users.+WHERE LOWER\(username\) = LOWER\(\$1\)`).
		WithArgs("ALICE").
		WillReturnRows(userRows(user))

	repo := postgres.NewUserRepository(mock)
	got, err := repo.GetByUsername(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, user.Username, got.Username)
}

func TestUserRepository_List(t *testing.T) {
	ctx := context.Background()

	t.Run("returns users in creation order", func(t *testing.T) {
		mock := newMockPool(t)
		first := testUser()
		second := testUser()
		second.Username = "bob"
		second.Email = "bob@example.com"

		rows := userRows(first).
			AddRow(second.ID.String(), second.Username, second.Email, second.Name,
				second.PasswordHash, second.CreatedAt, second.UpdatedAt)
		mock.ExpectQuery(`(?s)SELECT.+FROM users.+ORDER BY created_at, id`).
			WillReturnRows(rows)

		repo := postgres.NewUserRepository(mock)
		users, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, users, 2)
		assert.Equal(t, "alice", users[0].Username)
		assert.Equal(t, "bob", users[1].Username)
	})

	t.Run("empty table", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(`(?s)SELECT.+FROM users.+ORDER BY created_at, id`).
			WillReturnRows(pgxmock.NewRows([]string{
				"id", "username", "email", "name", "password_hash", "created_at", "updated_at",
			}))

		repo := postgres.NewUserRepository(mock)
		users, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, users)
	})
}

func TestUserRepository_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("applies partial update", func(t *testing.T) {
		mock := newMockPool(t)
		user := testUser()
		newName := "Alice B"
		updated := *user
		updated.Name = newName

		mock.ExpectQuery(`UPDATE users SET`).
			WithArgs(user.ID.String(), (*string)(nil), (*string)(nil), &newName, pgxmock.AnyArg()).
			WillReturnRows(userRows(&updated))

		repo := postgres.NewUserRepository(mock)
		got, err := repo.Update(ctx, user.ID, auth.ProfileUpdate{Name: &newName})
		require.NoError(t, err)
		assert.Equal(t, newName, got.Name)
	})

	t.Run("not found", func(t *testing.T) {
		mock := newMockPool(t)
		id := ulid.Make()

		mock.ExpectQuery(`UPDATE users SET`).
			WithArgs(id.String(), (*string)(nil), (*string)(nil), (*string)(nil), pgxmock.AnyArg()).
			WillReturnRows(pgxmock.NewRows([]string{
				"id", "username", "email", "name", "password_hash", "created_at", "updated_at",
			}))

		repo := postgres.NewUserRepository(mock)
		_, err := repo.Update(ctx, id, auth.ProfileUpdate{})
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("email conflict on update", func(t *testing.T) {
		mock := newMockPool(t)
		id := ulid.Make()
		email := "taken@example.com"

		mock.ExpectQuery(`UPDATE users SET`).
			WithArgs(id.String(), (*string)(nil), &email, (*string)(nil), pgxmock.AnyArg()).
			WillReturnError(uniqueViolation("users_email_lower_idx"))

		repo := postgres.NewUserRepository(mock)
		_, err := repo.Update(ctx, id, auth.ProfileUpdate{Email: &email})
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrEmailTaken)
	})
}

func TestUserRepository_UpdatePassword(t *testing.T) {
	ctx := context.Background()

	t.Run("updates hash", func(t *testing.T) {
		mock := newMockPool(t)
		id := ulid.Make()

		mock.ExpectExec(`UPDATE users SET password_hash =`).
			WithArgs(id.String(), "$2a$10$newhash", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		repo := postgres.NewUserRepository(mock)
		require.NoError(t, repo.UpdatePassword(ctx, id, "$2a$10$newhash"))
	})

	t.Run("not found when no rows affected", func(t *testing.T) {
		mock := newMockPool(t)
		id := ulid.Make()

		mock.ExpectExec(`UPDATE users SET password_hash =`).
			WithArgs(id.String(), "$2a$10$newhash", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		repo := postgres.NewUserRepository(mock)
		err := repo.UpdatePassword(ctx, id, "$2a$10$newhash")
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestUserRepository_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes user", func(t *testing.T) {
		mock := newMockPool(t)
		id := ulid.Make()

		mock.ExpectExec(`DELETE FROM users WHERE id =`).
			WithArgs(id.String()).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		repo := postgres.NewUserRepository(mock)
		require.NoError(t, repo.Delete(ctx, id))
	})

	t.Run("not found when no rows affected", func(t *testing.T) {
		mock := newMockPool(t)
		id := ulid.Make()

		mock.ExpectExec(`DELETE FROM users WHERE id =`).
			WithArgs(id.String()).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		repo := postgres.NewUserRepository(mock)
		err := repo.Delete(ctx, id)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}
