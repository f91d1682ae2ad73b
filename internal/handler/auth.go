package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/medgate/medgate-go/internal/middleware"
	"github.com/medgate/medgate-go/internal/model"
	"github.com/medgate/medgate-go/internal/service"
)

// AuthHandler handles HTTP requests for authentication. Authentication
// failures are answered with a bare status code.
type AuthHandler struct {
	auth         *service.AuthService
	provisioning *service.ProvisioningService
	logger       *slog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(auth *service.AuthService, provisioning *service.ProvisioningService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, provisioning: provisioning, logger: logger}
}

// HandleRegister handles POST /auth/register requests.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.auth.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmailRequired), errors.Is(err, service.ErrPasswordRequired):
			writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
		case errors.Is(err, service.ErrEmailTaken):
			writeJSON(w, http.StatusConflict, errorResponse(err.Error()))
		default:
			h.internalError(w, r, "register failed", err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

// HandleLogin handles POST /auth/login requests.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		h.internalError(w, r, "login failed", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleGoogleCallback handles GET /auth/google/callback?code=... requests.
func (h *AuthHandler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	resp, err := h.provisioning.LoginWithGoogle(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrCodeRequired):
			writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
		case errors.Is(err, service.ErrIdentityUnverified):
			h.logger.InfoContext(r.Context(), "google login rejected", "error", err)
			w.WriteHeader(http.StatusUnauthorized)
		default:
			h.internalError(w, r, "google login failed", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleValidate handles GET /validate requests: 200 for a valid Bearer
// token, 401 otherwise. Neither carries a body.
func (h *AuthHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.BearerToken(r)
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if _, err := h.auth.Validate(token); err != nil {
		h.logger.DebugContext(r.Context(), "token rejected", "error", err)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// HandleSetRole handles PUT /auth/users/role requests from administrators.
func (h *AuthHandler) HandleSetRole(w http.ResponseWriter, r *http.Request) {
	var req model.SetRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.auth.SetRole(r.Context(), req.Email, req.Role); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRole):
			writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
		case errors.Is(err, service.ErrUserNotFound):
			writeJSON(w, http.StatusNotFound, errorResponse(err.Error()))
		default:
			h.internalError(w, r, "set role failed", err)
		}
		return
	}

	if id, ok := middleware.IdentityFromContext(r.Context()); ok {
		h.logger.InfoContext(r.Context(), "role changed", "by", id.Subject, "email", req.Email, "role", req.Role)
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleChangePassword handles PUT /auth/password requests for the caller's
// own account.
func (h *AuthHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var req model.ChangePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.auth.ChangePassword(r.Context(), id.Subject, req.Password); err != nil {
		switch {
		case errors.Is(err, service.ErrPasswordRequired):
			writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
		case errors.Is(err, service.ErrUserNotFound):
			// Token for a user that was never persisted.
			writeJSON(w, http.StatusNotFound, errorResponse(err.Error()))
		default:
			h.internalError(w, r, "change password failed", err)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.ErrorContext(r.Context(), msg, "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
}
