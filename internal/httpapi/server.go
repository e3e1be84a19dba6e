// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package httpapi is the thin HTTP glue in front of the identity core.
// It binds requests, maps the core's error taxonomy to status codes,
// and records metrics. No business rules live here.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/oklog/ulid/v2"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/observability"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

// Handler serves the identity API.
type Handler struct {
	svc     *auth.Service
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewHandler creates the API handler. metrics may be nil when the
// observability server is disabled.
func NewHandler(svc *auth.Service, metrics *observability.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, metrics: metrics, logger: logger}
}

// Routes returns the API route table.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/verify", h.handleVerify)
	mux.HandleFunc("GET /users", h.handleListUsers)
	mux.HandleFunc("GET /users/{id}", h.handleGetUser)
	mux.HandleFunc("PATCH /users/{id}", h.handleUpdateUser)
	mux.HandleFunc("POST /users/{id}/password", h.handleChangePassword)
	mux.HandleFunc("DELETE /users/{id}", h.handleDeleteUser)
	return mux
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if err := decodeJSON(r, &in); err != nil {
		h.countRegistration("invalid")
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	result, err := h.svc.Register(r.Context(), in)
	if err != nil {
		h.countRegistration(outcomeFor(err))
		h.writeServiceError(w, err)
		return
	}

	h.countRegistration("ok")
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in auth.LoginInput
	if err := decodeJSON(r, &in); err != nil {
		h.countLogin("invalid")
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	result, err := h.svc.Login(r.Context(), in)
	if err != nil {
		h.countLogin(outcomeFor(err))
		h.writeServiceError(w, err)
		return
	}

	h.countLogin("ok")
	writeJSON(w, http.StatusOK, result)
}

// verifyRequest and verifyResponse are the wire shapes for token
// verification. A bad token is a 200 with valid=false, not an error
// status: verification has no failure mode the client must branch on
// beyond the result itself.
type verifyRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	Valid  bool        `json:"valid"`
	Claims *claimsView `json:"claims,omitempty"`
	Reason string      `json:"reason,omitempty"`
}

type claimsView struct {
	Subject   string `json:"subject"`
	Username  string `json:"username"`
	Issuer    string `json:"issuer"`
	Audience  string `json:"audience"`
	IssuedAt  int64  `json:"issued_at"`
	ExpiresAt int64  `json:"expires_at"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var in verifyRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	result := h.svc.VerifyToken(in.Token)
	resp := verifyResponse{Valid: result.Valid, Reason: result.Reason}
	if result.Valid {
		h.countVerification("valid")
		resp.Claims = &claimsView{
			Subject:   result.Claims.Subject,
			Username:  result.Claims.Username,
			Issuer:    result.Claims.Issuer,
			Audience:  result.Claims.Audience,
			IssuedAt:  result.Claims.IssuedAt.Unix(),
			ExpiresAt: result.Claims.ExpiresAt.Unix(),
		}
	} else {
		h.countVerification("invalid")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	identities, err := h.svc.ListUsers(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, identities)
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	identity, err := h.svc.GetUser(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

// updateUserRequest uses pointers so absent fields stay unchanged.
type updateUserRequest struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
	Name     *string `json:"name"`
}

func (h *Handler) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var in updateUserRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	identity, err := h.svc.UpdateProfile(r.Context(), id, auth.ProfileUpdate{
		Username: in.Username,
		Email:    in.Email,
		Name:     in.Name,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var in changePasswordRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	if err := h.svc.ChangePassword(r.Context(), id, in.CurrentPassword, in.NewPassword); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteUser(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// errorResponse is the wire shape for failures. Field names the
// conflicted field on 409 responses.
type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// writeServiceError maps the core's error taxonomy to HTTP statuses.
// Internal failures are logged here and surfaced as an opaque 500; the
// body never carries an internal error chain.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case auth.IsConflict(err):
		writeError(w, http.StatusConflict, err.Error(), auth.ConflictField(err))
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, http.StatusNotFound, "user not found", "")
	case errutil.Code(err) == "AUTH_INVALID_CREDENTIALS":
		writeError(w, http.StatusUnauthorized, "invalid email or password", "")
	case errutil.Code(err) == "AUTH_INVALID_INPUT", errutil.Code(err) == "AUTH_EMPTY_PASSWORD":
		writeError(w, http.StatusBadRequest, err.Error(), "")
	default:
		errutil.LogError(h.logger, "request failed", err)
		writeError(w, http.StatusInternalServerError, "internal error", "")
	}
}

func (h *Handler) countRegistration(outcome string) {
	if h.metrics != nil {
		h.metrics.RegistrationsTotal.WithLabelValues(outcome).Inc()
	}
}

func (h *Handler) countLogin(outcome string) {
	if h.metrics != nil {
		h.metrics.LoginsTotal.WithLabelValues(outcome).Inc()
	}
}

func (h *Handler) countVerification(result string) {
	if h.metrics != nil {
		h.metrics.TokenVerificationsTotal.WithLabelValues(result).Inc()
	}
}

// outcomeFor buckets service errors for metrics labels.
func outcomeFor(err error) string {
	switch {
	case auth.IsConflict(err):
		return "conflict"
	case errutil.Code(err) == "AUTH_INVALID_CREDENTIALS":
		return "unauthorized"
	case errutil.Code(err) == "AUTH_INVALID_INPUT", errutil.Code(err) == "AUTH_EMPTY_PASSWORD":
		return "invalid"
	default:
		return "error"
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (ulid.ULID, bool) {
	id, err := ulid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id", "")
		return ulid.ULID{}, false
	}
	return id, true
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // response write error means the client went away
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, field string) {
	writeJSON(w, status, errorResponse{Error: msg, Field: field})
}
