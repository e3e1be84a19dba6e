// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

//go:build integration

package integration

import (
	"context"
	"sync"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/gatehouse/gatehouse/internal/auth"
)

var _ = Describe("Registration and login", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		truncateUsers()
	})

	Describe("Register", func() {
		It("creates an account and issues a working token", func() {
			result, err := env.Service.Register(ctx, auth.RegisterInput{
				Username: "alice",
				Email:    "alice@example.com",
				Name:     "Alice",
				Password: "a secure password",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.ID).NotTo(BeEmpty())
			Expect(result.Username).To(Equal("alice"))
			Expect(result.Email).To(Equal("alice@example.com"))
			Expect(result.Token).NotTo(BeEmpty())

			verified := env.Service.VerifyToken(result.Token)
			Expect(verified.Valid).To(BeTrue())
			Expect(verified.Claims.Subject).To(Equal(result.ID))
			Expect(verified.Claims.Username).To(Equal("alice"))
		})

		It("stores a hash, never the plaintext password", func() {
			result, err := env.Service.Register(ctx, auth.RegisterInput{
				Username: "alice",
				Email:    "alice@example.com",
				Password: "a secure password",
			})
			Expect(err).NotTo(HaveOccurred())

			var stored string
			err = env.pool.QueryRow(ctx,
				`SELECT password_hash FROM users WHERE id = $1`, result.ID).Scan(&stored)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored).To(HavePrefix("$2a$"))
			Expect(stored).NotTo(ContainSubstring("a secure password"))
		})

		It("rejects a duplicate email regardless of case", func() {
			_, err := env.Service.Register(ctx, auth.RegisterInput{
				Username: "alice",
				Email:    "alice@example.com",
				Password: "a secure password",
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = env.Service.Register(ctx, auth.RegisterInput{
				Username: "different",
				Email:    "ALICE@example.com",
				Password: "a secure password",
			})
			Expect(err).To(MatchError(auth.ErrEmailTaken))
		})

		It("rejects a duplicate username regardless of case", func() {
			_, err := env.Service.Register(ctx, auth.RegisterInput{
				Username: "alice",
				Email:    "alice@example.com",
				Password: "a secure password",
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = env.Service.Register(ctx, auth.RegisterInput{
				Username: "ALICE",
				Email:    "other@example.com",
				Password: "a secure password",
			})
			Expect(err).To(MatchError(auth.ErrUsernameTaken))
		})

		It("admits exactly one winner for concurrent registrations of the same email", func() {
			const attempts = 8
			var wg sync.WaitGroup
			errs := make([]error, attempts)

			for i := range attempts {
				wg.Add(1)
				go func(n int) {
					defer wg.Done()
					user, err := auth.NewUser(
						usernameFor(n), "race@example.com", "", "$2a$10$racehash")
					if err != nil {
						errs[n] = err
						return
					}
					errs[n] = env.Users.Create(ctx, user)
				}(i)
			}
			wg.Wait()

			winners := 0
			for _, err := range errs {
				if err == nil {
					winners++
				} else {
					Expect(auth.IsConflict(err)).To(BeTrue(), "unexpected error: %v", err)
				}
			}
			Expect(winners).To(Equal(1))
		})
	})

	Describe("Login", func() {
		BeforeEach(func() {
			_, err := env.Service.Register(ctx, auth.RegisterInput{
				Username: "alice",
				Email:    "alice@example.com",
				Password: "a secure password",
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("succeeds with the right credentials", func() {
			result, err := env.Service.Login(ctx, auth.LoginInput{
				Email:    "alice@example.com",
				Password: "a secure password",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Username).To(Equal("alice"))
			Expect(env.Service.VerifyToken(result.Token).Valid).To(BeTrue())
		})

		It("matches email case-insensitively", func() {
			_, err := env.Service.Login(ctx, auth.LoginInput{
				Email:    "Alice@Example.COM",
				Password: "a secure password",
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("returns the identical error for wrong password and unknown email", func() {
			_, wrongPass := env.Service.Login(ctx, auth.LoginInput{
				Email:    "alice@example.com",
				Password: "not the password",
			})
			_, unknownEmail := env.Service.Login(ctx, auth.LoginInput{
				Email:    "nobody@example.com",
				Password: "not the password",
			})

			Expect(wrongPass).To(HaveOccurred())
			Expect(unknownEmail).To(HaveOccurred())
			Expect(wrongPass.Error()).To(Equal(unknownEmail.Error()))
			Expect(wrongPass.Error()).To(Equal("invalid email or password"))
		})
	})

	Describe("Profile lifecycle", func() {
		It("updates, changes password, and deletes", func() {
			result, err := env.Service.Register(ctx, auth.RegisterInput{
				Username: "alice",
				Email:    "alice@example.com",
				Password: "a secure password",
			})
			Expect(err).NotTo(HaveOccurred())

			id := mustParseULID(result.ID)

			name := "Alice B"
			identity, err := env.Service.UpdateProfile(ctx, id, auth.ProfileUpdate{Name: &name})
			Expect(err).NotTo(HaveOccurred())
			Expect(identity.Name).To(Equal("Alice B"))

			Expect(env.Service.ChangePassword(ctx, id, "a secure password", "an even better one")).To(Succeed())

			_, err = env.Service.Login(ctx, auth.LoginInput{
				Email:    "alice@example.com",
				Password: "a secure password",
			})
			Expect(err).To(HaveOccurred())

			_, err = env.Service.Login(ctx, auth.LoginInput{
				Email:    "alice@example.com",
				Password: "an even better one",
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(env.Service.DeleteUser(ctx, id)).To(Succeed())

			// The freed email registers again.
			_, err = env.Service.Register(ctx, auth.RegisterInput{
				Username: "alice",
				Email:    "alice@example.com",
				Password: "a secure password",
			})
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
