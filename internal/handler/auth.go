package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/mathpath/mathexam/internal/apperr"
	appI18n "github.com/mathpath/mathexam/internal/i18n"
	"github.com/mathpath/mathexam/internal/model"
)

type registerRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type changePasswordRequest struct {
	UserID          string `json:"userId"`
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=6,max=72"`
}

type loginResponse struct {
	ID     string              `json:"id"`
	Email  string              `json:"email"`
	Role   model.UserRole      `json:"role"`
	Points int                 `json:"points"`
	Status model.AccountStatus `json:"status"`
	Token  string              `json:"token"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, r, fmt.Errorf("hash password: %w", err))
		return
	}

	u, err := h.store.CreateUser(r.Context(), model.User{
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         model.UserRoleUser,
		Points:       h.config.InitialPoints,
	})
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			err = fmt.Errorf("%w: %v", apperr.ErrBadRequest, err)
		}
		writeError(w, r, err)
		return
	}

	writeData(w, http.StatusCreated, map[string]any{
		"id":    u.ID,
		"email": u.Email,
		"role":  u.Role,
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	u, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeErrorMessage(w, r, apperr.ErrUnauthorized, appI18n.T(r.Context(), "BadCredentials"))
			return
		}
		writeError(w, r, err)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		writeErrorMessage(w, r, apperr.ErrUnauthorized, appI18n.T(r.Context(), "BadCredentials"))
		return
	}
	if u.Status != model.StatusActive {
		writeErrorMessage(w, r, apperr.ErrForbidden, appI18n.T(r.Context(), "AccountDisabled"))
		return
	}

	token, err := h.signer.Issue(model.Identity{UserID: u.ID, Email: u.Email, Role: u.Role})
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("user logged in", "user_id", u.ID)
	writeData(w, http.StatusOK, loginResponse{
		ID:     u.ID,
		Email:  u.Email,
		Role:   u.Role,
		Points: u.Points,
		Status: u.Status,
		Token:  token,
	})
}

// handleChangePassword changes the password of userId, defaulting to the
// caller. Only admins may name another user.
func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.UserID == "" {
		req.UserID = identity(r).UserID
	}
	if err := forbidIfNot(r, req.UserID); err != nil {
		writeError(w, r, err)
		return
	}

	u, err := h.store.GetUserByID(r.Context(), req.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		writeErrorMessage(w, r, apperr.ErrUnauthorized, appI18n.T(r.Context(), "WrongPassword"))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, r, fmt.Errorf("hash password: %w", err))
		return
	}
	if err := h.store.UpdatePassword(r.Context(), u.ID, string(hash)); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("password changed", "user_id", u.ID, "by", identity(r).UserID)
	writeData(w, http.StatusOK, map[string]string{"message": appI18n.T(r.Context(), "PasswordChanged")})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := h.store.GetUserByID(r.Context(), identity(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, u)
}
