// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package auth implements the Gatehouse identity core.
//
// # Domain Types
//
// User is the persisted account record. NewUser validates input and
// assigns an ID; direct struct initialization bypasses validation and
// may create invalid state. Repository implementations receive
// pre-validated records from the constructor.
//
// # Components
//
//   - PasswordHasher - one-way salted credential hashing (bcrypt)
//   - TokenIssuer - signed bearer token issuance and verification
//   - UserRepository - persisted user records; the storage layer is the
//     final arbiter of email/username uniqueness
//   - Service - registration, login, and profile orchestration on top
//     of the three above
//
// Components are wired by explicit construction; nothing in this
// package reads the environment or global state mid-request.
package auth
