// AngelaMos | 2026
// handler.go

package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/carterperez-dev/templates/credential-engine/internal/core"
	"github.com/carterperez-dev/templates/credential-engine/internal/credential"
	"github.com/carterperez-dev/templates/credential-engine/internal/middleware"
	"github.com/carterperez-dev/templates/credential-engine/internal/principal"
)

// Authenticator checks a password and returns the principal it belongs to.
// principal.Service satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (string, error)
}

type Handler struct {
	service   *Service
	auth      Authenticator
	cookies   *Cookies
	validator *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
}

func NewHandler(
	service *Service,
	auth Authenticator,
	cookies *Cookies,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:   service,
		auth:      auth,
		cookies:   cookies,
		validator: validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
		now:       time.Now,
	}
}

// SessionPath groups the only endpoints that read the refresh cookie. The
// cookie path must end in it.
const SessionPath = "/session"

// RegisterRoutes mounts the session endpoints on a router already scoped to
// the auth path. limiter guards the password endpoint.
func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator func(http.Handler) http.Handler,
	limiter func(http.Handler) http.Handler,
) {
	r.With(limiter).Post("/login", h.Login)
	r.Route(SessionPath, func(r chi.Router) {
		r.With(limiter).Post("/refresh", h.Refresh)
		r.Post("/logout", h.Logout)
	})

	r.Group(func(r chi.Router) {
		r.Use(authenticator)
		r.Post("/logout-all", h.LogoutAll)
		r.Get("/sessions", h.GetSessions)
		r.Delete("/sessions/{sessionID}", h.RevokeSession)
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	principalID, err := h.auth.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, principal.ErrInvalidCredentials):
			core.JSONError(w, core.UnauthorizedError("invalid email or password"))
		case errors.Is(err, principal.ErrEmailNotVerified):
			core.JSONError(w, core.NewAppError(
				err,
				"email address has not been verified",
				http.StatusForbidden,
				"EMAIL_NOT_VERIFIED",
			))
		default:
			h.fail(w, r, err)
		}
		return
	}

	issued, err := h.service.Login(r.Context(), principalID, deviceFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.cookies.Set(w, issued.RefreshToken, issued.RefreshExpiresAt)
	core.OK(w, toTokenResponse(issued, h.now()))
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw := h.cookies.Read(r)
	if raw == "" {
		h.cookies.Clear(w)
		core.JSONError(w, core.ReauthenticateError())
		return
	}

	issued, err := h.service.Refresh(r.Context(), raw, deviceFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.cookies.Set(w, issued.RefreshToken, issued.RefreshExpiresAt)
	core.OK(w, toTokenResponse(issued, h.now()))
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if raw := h.cookies.Read(r); raw != "" {
		//nolint:errcheck // Logout always returns nil
		_ = h.service.Logout(r.Context(), raw)
	}

	h.cookies.Clear(w)
	core.NoContent(w)
}

func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	principalID := middleware.GetPrincipalID(r.Context())
	if principalID == "" {
		core.Unauthorized(w, "")
		return
	}

	n, err := h.service.LogoutAll(r.Context(), principalID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.cookies.Clear(w)
	core.OK(w, LogoutAllResponse{Revoked: n})
}

func (h *Handler) GetSessions(w http.ResponseWriter, r *http.Request) {
	principalID := middleware.GetPrincipalID(r.Context())
	if principalID == "" {
		core.Unauthorized(w, "")
		return
	}

	sessions, err := h.service.ActiveSessions(r.Context(), principalID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	core.OK(w, SessionsResponse{Sessions: sessions})
}

func (h *Handler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	principalID := middleware.GetPrincipalID(r.Context())
	if principalID == "" {
		core.Unauthorized(w, "")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		core.BadRequest(w, "session ID required")
		return
	}

	err := h.service.RevokeSession(r.Context(), principalID, sessionID)
	if err != nil {
		if errors.Is(err, credential.ErrCredentialInvalid) {
			core.NotFound(w, "session")
			return
		}
		h.fail(w, r, err)
		return
	}

	core.NoContent(w)
}

// fail maps engine and issuer errors to the outward response. Every
// credential failure looks the same to the client; the cause is only logged.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case IsReauthRequired(err):
		h.logger.WarnContext(r.Context(), "session rejected",
			"reason", failureKind(err),
			"request_id", middleware.GetRequestID(r.Context()),
		)
		h.cookies.Clear(w)
		core.JSONError(w, core.ReauthenticateError())
	case errors.Is(err, credential.ErrStoreUnavailable):
		h.logger.ErrorContext(r.Context(), "credential store unavailable",
			"error", err,
			"request_id", middleware.GetRequestID(r.Context()),
		)
		core.JSONError(w, core.UnavailableError())
	default:
		core.InternalServerError(w, err)
	}
}

func deviceFrom(r *http.Request) credential.DeviceInfo {
	return credential.NewDeviceInfo(r.UserAgent(), middleware.ClientIP(r))
}
