// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"runtime"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/gatehouse/gatehouse/pkg/errutil"
)

// dummyPasswordHash keeps the unknown-email login path shaped like the
// wrong-password path: bcrypt still runs against a well-formed hash, and
// the caller sees the same error either way. The checksum is
// unreachable, so it never matches any password.
//
//nolint:gosec // G101: intentionally fake hash, not a credential.
const dummyPasswordHash = "$2a$10$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// errInvalidCredentials is the single user-visible login failure. The
// message is identical whether the email is unknown or the password is
// wrong, to avoid revealing account existence.
func errInvalidCredentials() error {
	return oops.Code("AUTH_INVALID_CREDENTIALS").Errorf("invalid email or password")
}

// RegisterInput carries registration fields. Validation happens in the
// service regardless of what the transport checked.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Password string `json:"password"`
}

// LoginInput carries login credentials.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResult is the public outcome of registration and login. It embeds
// Identity, which has no hash field under any key name.
type AuthResult struct {
	Identity
	Token string `json:"token"`
}

// Service orchestrates registration, login, and profile flows. It holds
// no locks of its own; the repository is the final arbiter of
// uniqueness, and each store call is independently atomic.
type Service struct {
	users  UserRepository
	hasher PasswordHasher
	tokens *TokenIssuer

	// hashSlots bounds concurrent bcrypt work so credential hashing
	// cannot starve unrelated requests.
	hashSlots *semaphore.Weighted

	logger *slog.Logger
	tracer trace.Tracer
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithHashConcurrency bounds how many hashing operations may run at
// once. Values below 1 keep the default.
func WithHashConcurrency(n int) ServiceOption {
	return func(s *Service) {
		if n >= 1 {
			s.hashSlots = semaphore.NewWeighted(int64(n))
		}
	}
}

// NewService creates a Service. All three dependencies are required.
func NewService(users UserRepository, hasher PasswordHasher, tokens *TokenIssuer, opts ...ServiceOption) (*Service, error) {
	if users == nil {
		return nil, oops.Code("AUTH_CONFIG_INVALID").Errorf("user repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_CONFIG_INVALID").Errorf("password hasher is required")
	}
	if tokens == nil {
		return nil, oops.Code("AUTH_CONFIG_INVALID").Errorf("token issuer is required")
	}

	s := &Service{
		users:     users,
		hasher:    hasher,
		tokens:    tokens,
		hashSlots: semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
		logger:    slog.Default(),
		tracer:    otel.Tracer("github.com/gatehouse/gatehouse/internal/auth"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register creates an account and returns its identity plus a fresh
// bearer token. Steps run strictly in order: validate, uniqueness
// pre-check (email before username), hash, persist, issue. The store
// enforces uniqueness independently of the pre-check; a race lost
// between pre-check and persist surfaces as the same conflict error.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	ctx, span := s.tracer.Start(ctx, "auth.Register")
	defer span.End()

	if err := ValidateRegistration(in); err != nil {
		return nil, err
	}

	// Advisory pre-check. Email first: when both fields conflict the
	// caller is told about the email.
	if _, err := s.users.GetByEmail(ctx, in.Email); err == nil {
		return nil, conflictError(ErrEmailTaken)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "check email uniqueness").
			Wrap(err)
	}
	if _, err := s.users.GetByUsername(ctx, in.Username); err == nil {
		return nil, conflictError(ErrUsernameTaken)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "check username uniqueness").
			Wrap(err)
	}

	// The plaintext is replaced by its hash before anything reaches
	// storage.
	hash, err := s.hashPassword(ctx, in.Password)
	if err != nil {
		return nil, err
	}

	user, err := NewUser(in.Username, NormalizeEmail(in.Email), in.Name, hash)
	if err != nil {
		return nil, err
	}

	if err := s.users.Create(ctx, user); err != nil {
		// Lost the race against a concurrent registration. The caller
		// cannot distinguish this from a pre-check conflict.
		if IsConflict(err) {
			return nil, conflictError(err)
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create user").
			Wrap(err)
	}

	token, err := s.tokens.Issue(user.ID, user.Username)
	if err != nil {
		errutil.LogError(s.logger, "token issuance failed after registration", err)
		return nil, err
	}

	s.logger.Info("user registered", "user_id", user.ID.String(), "username", user.Username)
	return &AuthResult{Identity: user.Identity(), Token: token}, nil
}

// Login authenticates by email and password. An unknown email proceeds
// through the same verification step against a dummy hash, so both
// failure branches return the identical error.
func (s *Service) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	ctx, span := s.tracer.Start(ctx, "auth.Login")
	defer span.End()

	if err := ValidateLogin(in); err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, in.Email)
	exists := err == nil
	targetHash := dummyPasswordHash
	switch {
	case exists:
		targetHash = user.PasswordHash
	case errors.Is(err, ErrNotFound):
		// Fall through with the dummy hash.
	default:
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	valid, err := s.verifyPassword(ctx, in.Password, targetHash)
	if err != nil {
		if !exists {
			return nil, errInvalidCredentials()
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			Wrap(err)
	}
	if !exists || !valid {
		return nil, errInvalidCredentials()
	}

	token, err := s.tokens.Issue(user.ID, user.Username)
	if err != nil {
		errutil.LogError(s.logger, "token issuance failed after login", err)
		return nil, err
	}

	return &AuthResult{Identity: user.Identity(), Token: token}, nil
}

// VerifyToken validates a bearer token and returns its claims. Bad
// tokens are a result, never an error.
func (s *Service) VerifyToken(token string) VerificationResult {
	return s.tokens.Verify(token)
}

// GetUser returns the public identity for an id.
func (s *Service) GetUser(ctx context.Context, id ulid.ULID) (*Identity, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	identity := user.Identity()
	return &identity, nil
}

// ListUsers returns public identities for all users.
func (s *Service) ListUsers(ctx context.Context) ([]Identity, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}
	identities := make([]Identity, 0, len(users))
	for _, u := range users {
		identities = append(identities, u.Identity())
	}
	return identities, nil
}

// UpdateProfile applies a partial profile update. Username and email
// changes re-enter the uniqueness contract; the store remains the final
// arbiter.
func (s *Service) UpdateProfile(ctx context.Context, id ulid.ULID, fields ProfileUpdate) (*Identity, error) {
	if fields.Username != nil {
		if err := ValidateUsername(*fields.Username); err != nil {
			return nil, err
		}
	}
	if fields.Email != nil {
		if err := ValidateEmail(*fields.Email); err != nil {
			return nil, err
		}
		normalized := NormalizeEmail(*fields.Email)
		fields.Email = &normalized
	}

	user, err := s.users.Update(ctx, id, fields)
	if err != nil {
		if IsConflict(err) {
			return nil, conflictError(err)
		}
		return nil, err
	}
	identity := user.Identity()
	return &identity, nil
}

// ChangePassword verifies the current password, then re-hashes and
// stores the new one.
func (s *Service) ChangePassword(ctx context.Context, id ulid.ULID, current, next string) error {
	ctx, span := s.tracer.Start(ctx, "auth.ChangePassword")
	defer span.End()

	if err := ValidatePassword(next); err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return err
	}

	valid, err := s.verifyPassword(ctx, current, user.PasswordHash)
	if err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "verify current password").
			Wrap(err)
	}
	if !valid {
		return errInvalidCredentials()
	}

	hash, err := s.hashPassword(ctx, next)
	if err != nil {
		return err
	}
	return s.users.UpdatePassword(ctx, id, hash)
}

// DeleteUser removes an account. The freed email and username become
// available for re-registration.
func (s *Service) DeleteUser(ctx context.Context, id ulid.ULID) error {
	return s.users.Delete(ctx, id)
}

// ValidateRegistration checks all registration fields, reporting the
// first failure.
func ValidateRegistration(in RegisterInput) error {
	if err := ValidateUsername(in.Username); err != nil {
		return err
	}
	if err := ValidateEmail(in.Email); err != nil {
		return err
	}
	return ValidatePassword(in.Password)
}

// ValidateLogin checks login fields for presence only; anything further
// would leak which part of the credential pair was wrong.
func ValidateLogin(in LoginInput) error {
	if in.Email == "" {
		return oops.Code("AUTH_INVALID_INPUT").Errorf("email cannot be empty")
	}
	if in.Password == "" {
		return oops.Code("AUTH_INVALID_INPUT").Errorf("password cannot be empty")
	}
	return nil
}

// hashPassword runs the hasher under the concurrency bound. Waiting for
// a slot respects ctx, so a cancelled request never burns CPU on a hash
// it no longer needs.
func (s *Service) hashPassword(ctx context.Context, password string) (string, error) {
	if err := s.hashSlots.Acquire(ctx, 1); err != nil {
		return "", oops.Code("AUTH_HASH_FAILED").
			With("operation", "acquire hash slot").
			Wrap(err)
	}
	defer s.hashSlots.Release(1)
	return s.hasher.Hash(password)
}

// verifyPassword runs verification under the same bound as hashing;
// both recompute the work factor.
func (s *Service) verifyPassword(ctx context.Context, password, hash string) (bool, error) {
	if err := s.hashSlots.Acquire(ctx, 1); err != nil {
		return false, oops.Code("AUTH_HASH_FAILED").
			With("operation", "acquire hash slot").
			Wrap(err)
	}
	defer s.hashSlots.Release(1)
	return s.hasher.Verify(password, hash)
}

// conflictError wraps a uniqueness conflict with its field name for the
// transport layer.
func conflictError(err error) error {
	return oops.Code("AUTH_CONFLICT").
		With("field", ConflictField(err)).
		Wrap(err)
}
