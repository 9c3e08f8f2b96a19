// Package server contains HTTP handlers for the mock API.
// This file implements the account endpoints and Bearer token enforcement.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/RegistryAccord/registryaccord-apitest-go/internal/ident"
	"github.com/RegistryAccord/registryaccord-apitest-go/internal/model"
	"github.com/RegistryAccord/registryaccord-apitest-go/internal/storage"
)

// passwordHashKind selects the salted digest used for stored passwords.
const passwordHashKind = "sha256"

// hashPassword returns the salted digest stored for password.
func (h *Handler) hashPassword(password string) (string, error) {
	return h.cfg.Encrypt.Salts.Hash(passwordHashKind, password)
}

// handleRegister creates an account.
// Request body: {"username": "...", "password": "...", "email": "..."}
// Responds 201 with the account, 409 when the username is taken.
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !h.allowMethods(w, r, http.MethodPost) {
		return
	}
	var input model.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, codeValidation, "invalid JSON body", nil)
		return
	}
	input.Username = strings.TrimSpace(input.Username)
	if input.Username == "" || input.Password == "" {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, codeValidation, "username and password are required", nil)
		return
	}

	id, err := ident.NewUserID()
	if err != nil {
		h.writeErrorWithRequest(w, r, http.StatusInternalServerError, codeInternal, "failed to allocate user id", nil)
		return
	}
	hash, err := h.hashPassword(input.Password)
	if err != nil {
		h.writeErrorWithRequest(w, r, http.StatusInternalServerError, codeInternal, "failed to hash password", nil)
		return
	}
	user := model.User{
		ID:           id,
		Username:     input.Username,
		PasswordHash: hash,
		Email:        strings.TrimSpace(input.Email),
		CreatedAt:    h.clock(),
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			h.writeErrorWithRequest(w, r, http.StatusConflict, codeConflict, "username already taken", nil)
			return
		}
		h.logger.Error("create user failed", "error", err, "correlationId", correlationIDFrom(r.Context()))
		h.writeErrorWithRequest(w, r, http.StatusInternalServerError, codeInternal, "failed to persist user", nil)
		return
	}

	h.writeSuccess(w, http.StatusCreated, user.ToDTO(), nil, r)
	h.logger.Info("user registered", "userId", user.ID, "username", user.Username, "correlationId", correlationIDFrom(r.Context()))
}

// handleLogin checks credentials and issues an access token.
// Unknown users and wrong passwords get the same 401.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.allowMethods(w, r, http.MethodPost) {
		return
	}
	var input model.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, codeValidation, "invalid JSON body", nil)
		return
	}
	input.Username = strings.TrimSpace(input.Username)
	if input.Username == "" || input.Password == "" {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, codeValidation, "username and password are required", nil)
		return
	}

	user, err := h.store.GetUser(r.Context(), input.Username)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.logger.Error("user lookup failed", "error", err, "correlationId", correlationIDFrom(r.Context()))
		h.writeErrorWithRequest(w, r, http.StatusInternalServerError, codeInternal, "user lookup failed", nil)
		return
	}
	hash, hashErr := h.hashPassword(input.Password)
	if err != nil || hashErr != nil || subtle.ConstantTimeCompare([]byte(hash), []byte(user.PasswordHash)) != 1 {
		incrementLogin("failure")
		h.logger.Warn("login rejected", "username", input.Username, "correlationId", correlationIDFrom(r.Context()))
		h.writeErrorWithRequest(w, r, http.StatusUnauthorized, codeAuthz, "invalid username or password", nil)
		return
	}

	token, expires, err := h.tokens.Issue(user)
	if err != nil {
		h.writeErrorWithRequest(w, r, http.StatusInternalServerError, codeInternal, "failed to sign jwt", nil)
		return
	}
	incrementLogin("success")
	incrementJWTIssuance()

	h.writeSuccess(w, http.StatusOK, model.LoginResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: expires.UTC().Format(time.RFC3339),
	}, nil, r)
	h.logger.Info("session issued", "userId", user.ID, "correlationId", correlationIDFrom(r.Context()))
}

// requireToken rejects requests without a valid "Bearer <jwt>" Authorization
// header and stores the validated claims in the request context.
func (h *Handler) requireToken(next func(http.ResponseWriter, *http.Request)) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get("Authorization"))
		token, found := strings.CutPrefix(raw, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="apitest"`)
			h.writeErrorWithRequest(w, r, http.StatusUnauthorized, codeAuthz, "missing bearer token", nil)
			return
		}
		claims, err := h.validator.ValidateToken(strings.TrimSpace(token))
		if err != nil {
			h.logger.Warn("token rejected", "error", err, "correlationId", correlationIDFrom(r.Context()))
			w.Header().Set("WWW-Authenticate", `Bearer realm="apitest", error="invalid_token"`)
			h.writeErrorWithRequest(w, r, http.StatusUnauthorized, codeAuthz, "invalid or expired token", nil)
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyUser, claims)
		next(w, r.WithContext(ctx))
	}
}

func claimsFrom(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(contextKeyUser).(Claims)
	return c, ok
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	if !h.allowMethods(w, r, http.MethodGet) {
		return
	}
	claims, ok := claimsFrom(r.Context())
	if !ok {
		h.writeErrorWithRequest(w, r, http.StatusUnauthorized, codeAuthz, "missing bearer token", nil)
		return
	}
	user, err := h.store.GetUser(r.Context(), claims.Username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.writeErrorWithRequest(w, r, http.StatusNotFound, codeNotFound, "user not found", nil)
			return
		}
		h.writeErrorWithRequest(w, r, http.StatusInternalServerError, codeInternal, "user lookup failed", nil)
		return
	}
	if user.ID != claims.Subject {
		h.writeErrorWithRequest(w, r, http.StatusUnauthorized, codeAuthz, "token subject mismatch", nil)
		return
	}
	h.writeSuccess(w, http.StatusOK, user.ToDTO(), nil, r)
}
