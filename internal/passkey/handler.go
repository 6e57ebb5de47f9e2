package passkey

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"nottu-serverless/internal/httpjson"
	"nottu-serverless/internal/observability"
)

type ceremonyService interface {
	RegisterOptions(ctx context.Context, email, name string) (RegisterOptionsResult, error)
	RegisterVerify(ctx context.Context, email, name string, credential json.RawMessage) (Session, error)
	LoginOptions(ctx context.Context, email string) (LoginOptionsResult, error)
	LoginVerify(ctx context.Context, email string, credential json.RawMessage) (Session, error)
}

type Handler struct {
	service ceremonyService
	logger  *observability.Logger
}

func NewHandler(service *Service, logger *observability.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type registerRequest struct {
	Email      string          `json:"email"`
	Name       string          `json:"name"`
	Credential json.RawMessage `json:"credential"`
}

type loginRequest struct {
	Email      string          `json:"email"`
	Credential json.RawMessage `json:"credential"`
}

func (h *Handler) RegisterOptions(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpjson.DecodeBody(w, r, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "Please provide email and name.")
		return
	}

	result, err := h.service.RegisterOptions(r.Context(), req.Email, req.Name)
	if err != nil {
		h.writeCeremonyError(w, err, "passkey_register_options_failed", "Server error during registration.")
		return
	}

	httpjson.WriteData(w, http.StatusOK, result)
}

func (h *Handler) RegisterVerify(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpjson.DecodeBody(w, r, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "Please provide email, name, and credential.")
		return
	}

	session, err := h.service.RegisterVerify(r.Context(), req.Email, req.Name, req.Credential)
	if err != nil {
		h.writeCeremonyError(w, err, "passkey_register_verify_failed", "Server error during registration.")
		return
	}

	httpjson.WriteData(w, http.StatusOK, session)
}

func (h *Handler) LoginOptions(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpjson.DecodeBody(w, r, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "Please provide email.")
		return
	}

	result, err := h.service.LoginOptions(r.Context(), req.Email)
	if err != nil {
		h.writeCeremonyError(w, err, "passkey_login_options_failed", "Server error during login.")
		return
	}

	httpjson.WriteData(w, http.StatusOK, result)
}

func (h *Handler) LoginVerify(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpjson.DecodeBody(w, r, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "Please provide email and credential.")
		return
	}

	session, err := h.service.LoginVerify(r.Context(), req.Email, req.Credential)
	if err != nil {
		h.writeCeremonyError(w, err, "passkey_login_verify_failed", "Server error during login.")
		return
	}

	httpjson.WriteData(w, http.StatusOK, session)
}

func (h *Handler) writeCeremonyError(w http.ResponseWriter, err error, event, fallback string) {
	var validation *ValidationError
	switch {
	case errors.As(err, &validation):
		httpjson.WriteError(w, http.StatusBadRequest, validation.Message)
	case errors.Is(err, ErrEmailTaken):
		httpjson.WriteError(w, http.StatusBadRequest, "Email already registered.")
	case errors.Is(err, ErrChallengeInvalid):
		httpjson.WriteError(w, http.StatusBadRequest, "Invalid or expired challenge.")
	case errors.Is(err, ErrVerificationFailed):
		h.logger.Warn(event, map[string]any{"error": err.Error()})
		httpjson.WriteError(w, http.StatusBadRequest, "Passkey verification failed.")
	case errors.Is(err, ErrUnknownUser):
		httpjson.WriteError(w, http.StatusUnauthorized, "Invalid email.")
	case errors.Is(err, ErrUnknownCredential):
		httpjson.WriteError(w, http.StatusUnauthorized, "Credential not found.")
	default:
		observability.CaptureError(h.logger, event, err, nil)
		httpjson.WriteError(w, http.StatusInternalServerError, fallback)
	}
}
