// AngelaMos | 2026
// handler.go

package principal

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/carterperez-dev/templates/credential-engine/internal/core"
	"github.com/carterperez-dev/templates/credential-engine/internal/credential"
	"github.com/carterperez-dev/templates/credential-engine/internal/middleware"
)

type Handler struct {
	service   *Service
	validator *validator.Validate
}

func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// RegisterRoutes mounts the account endpoints on a router already scoped to
// the auth path.
func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator func(http.Handler) http.Handler,
	limiter func(http.Handler) http.Handler,
) {
	r.With(limiter).Post("/signup", h.Register)
	r.Post("/verify-email", h.VerifyEmail)
	r.With(limiter).Post("/verify-email/resend", h.ResendVerification)
	r.With(limiter).Post("/password/forgot", h.ForgotPassword)
	r.With(limiter).Post("/password/reset", h.ResetPassword)
	r.With(authenticator).Get("/me", h.GetMe)
	r.With(authenticator, limiter).Post("/password/change", h.ChangePassword)
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.service.Register(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		if errors.Is(err, ErrEmailExists) {
			core.JSONError(w, core.DuplicateError("email"))
			return
		}
		core.InternalServerError(w, err)
		return
	}

	core.Created(w, ToPrincipalResponse(p))
}

func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req SecretRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.service.VerifyEmail(r.Context(), req.Token)
	if err != nil {
		h.failSecret(w, err)
		return
	}

	core.OK(w, ToPrincipalResponse(p))
}

func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.ResendVerification(r.Context(), req.Email); err != nil {
		h.failSecret(w, err)
		return
	}

	core.Accepted(w, nil)
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), req.Email); err != nil {
		h.failSecret(w, err)
		return
	}

	core.Accepted(w, nil)
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		h.failSecret(w, err)
		return
	}

	core.NoContent(w)
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.service.ChangePassword(
		r.Context(),
		middleware.GetPrincipalID(r.Context()),
		req.CurrentPassword,
		req.NewPassword,
	)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			core.Unauthorized(w, "current password is incorrect")
			return
		}
		h.failSecret(w, err)
		return
	}

	core.NoContent(w)
}

func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	principalID := middleware.GetPrincipalID(r.Context())

	p, err := h.service.Get(r.Context(), principalID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			core.NotFound(w, "principal")
			return
		}
		core.InternalServerError(w, err)
		return
	}

	core.OK(w, ToPrincipalResponse(p))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		core.BadRequest(w, "invalid request body")
		return false
	}

	if err := h.validator.Struct(dst); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return false
	}

	return true
}

// failSecret gives every rejected single-use secret the same answer.
func (h *Handler) failSecret(w http.ResponseWriter, err error) {
	switch {
	case credential.IsAuthFailure(err):
		core.JSONError(w, core.NewAppError(
			err,
			"link is invalid or has expired",
			http.StatusBadRequest,
			"INVALID_TOKEN",
		))
	case errors.Is(err, credential.ErrStoreUnavailable):
		core.JSONError(w, core.UnavailableError())
	default:
		core.InternalServerError(w, err)
	}
}
