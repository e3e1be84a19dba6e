// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

func TestBcryptHasher_Hash(t *testing.T) {
	// MinCost keeps the test fast; the work factor does not change
	// hashing semantics.
	hasher := auth.NewBcryptHasher(auth.MinBcryptCost)

	t.Run("produces verifiable hash", func(t *testing.T) {
		hash, err := hasher.Hash("correct horse battery staple")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(hash, "$2a$"))

		ok, err := hasher.Verify("correct horse battery staple", hash)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("salts each hash independently", func(t *testing.T) {
		first, err := hasher.Hash("same password")
		require.NoError(t, err)
		second, err := hasher.Hash("same password")
		require.NoError(t, err)
		assert.NotEqual(t, first, second)
	})

	t.Run("rejects empty password", func(t *testing.T) {
		_, err := hasher.Hash("")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_EMPTY_PASSWORD")
	})
}

func TestBcryptHasher_Verify(t *testing.T) {
	hasher := auth.NewBcryptHasher(auth.MinBcryptCost)
	hash, err := hasher.Hash("the right password")
	require.NoError(t, err)

	t.Run("wrong password is mismatch not error", func(t *testing.T) {
		ok, err := hasher.Verify("the wrong password", hash)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("malformed stored hash is mismatch not error", func(t *testing.T) {
		ok, err := hasher.Verify("the right password", "not-a-bcrypt-hash")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("empty stored hash is mismatch not error", func(t *testing.T) {
		ok, err := hasher.Verify("the right password", "")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("rejects empty password", func(t *testing.T) {
		_, err := hasher.Verify("", hash)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_EMPTY_PASSWORD")
	})

	t.Run("verifies hashes from a different cost", func(t *testing.T) {
		higher := auth.NewBcryptHasher(auth.MinBcryptCost + 1)
		hash, err := higher.Hash("portable password")
		require.NoError(t, err)

		ok, err := hasher.Verify("portable password", hash)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestNewBcryptHasher_CostBounds(t *testing.T) {
	tests := []struct {
		name string
		cost int
		want int
	}{
		{"in range", 12, 12},
		{"minimum", auth.MinBcryptCost, auth.MinBcryptCost},
		{"below range falls back to default", 2, auth.DefaultBcryptCost},
		{"above range falls back to default", 40, auth.DefaultBcryptCost},
		{"zero falls back to default", 0, auth.DefaultBcryptCost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, auth.NewBcryptHasher(tt.cost).Cost())
		})
	}
}
