// Package echo exposes the lifecycle protocol and the admin console over
// HTTP. Handlers stay thin: every decision lives in the services layer.
package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/quorumid/stepauth/domain"
	"github.com/quorumid/stepauth/services"
)

// API wires the HTTP surface to the coordinator and the stores.
type API struct {
	coordinator *services.Coordinator
	tokens      *services.TokenService
	sessions    *services.SessionService
	stream      EventStream
}

// NewAPI creates the HTTP API. stream may be nil when no live event feed is
// mounted.
func NewAPI(coordinator *services.Coordinator, tokens *services.TokenService, sessions *services.SessionService, stream EventStream) *API {
	return &API{
		coordinator: coordinator,
		tokens:      tokens,
		sessions:    sessions,
		stream:      stream,
	}
}

// RegisterRoutes registers the lifecycle and admin routes.
func (a *API) RegisterRoutes(e *echo.Echo) {
	e.POST("/auth/login", a.LoginHandler)
	e.POST("/auth/token", a.SubmitTokenHandler)
	e.POST("/auth/totp", a.SubmitTOTPHandler)
	e.POST("/auth/logout", a.LogoutHandler)
	e.GET("/auth/sessions/:id", a.ValidateSessionHandler)

	e.GET("/admin/tokens", a.ListTokensHandler)
	e.DELETE("/admin/tokens/:id", a.DeleteTokenHandler)
	e.GET("/admin/sessions", a.ListSessionsHandler)
	e.POST("/admin/sessions/:id/force-logout", a.ForceLogoutHandler)
	if a.stream != nil {
		e.GET("/admin/events", a.EventsHandler)
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginHandler runs the first factor. On success the response says which
// second factor to proceed with; the one-time token plaintext itself goes out
// of band and is never echoed back here.
func (a *API) LoginHandler(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	grant, err := a.coordinator.BeginLogin(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"method":     grant.Method,
		"expires_at": grant.ExpiresAt,
	})
}

type submitRequest struct {
	DeviceID string `json:"device_id"`
	Token    string `json:"token"`
}

// SubmitTokenHandler verifies a one-time token and returns the session
// reference on success.
func (a *API) SubmitTokenHandler(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	session, err := a.coordinator.SubmitToken(c.Request().Context(), req.DeviceID, req.Token, c.RealIP())
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"session_id": session.ID,
		"expires_at": session.ExpiresAt,
	})
}

// SubmitTOTPHandler verifies an authenticator-app code.
func (a *API) SubmitTOTPHandler(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	session, err := a.coordinator.SubmitTOTP(c.Request().Context(), req.DeviceID, req.Token, c.RealIP())
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"session_id": session.ID,
		"expires_at": session.ExpiresAt,
	})
}

type logoutRequest struct {
	SessionID string `json:"session_id"`
}

// LogoutHandler expires the caller's session.
func (a *API) LogoutHandler(c echo.Context) error {
	var req logoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	ok, err := a.coordinator.Logout(c.Request().Context(), req.SessionID)
	if err != nil {
		return mapError(err)
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found or not active")
	}
	return c.NoContent(http.StatusNoContent)
}

// ValidateSessionHandler reports a session's validity and remaining time.
func (a *API) ValidateSessionHandler(c echo.Context) error {
	result, err := a.coordinator.ValidateSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	if result.Outcome != services.ValidateOutcomeValid {
		return c.JSON(http.StatusOK, map[string]any{
			"ok":     false,
			"reason": result.Outcome,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"ok":             true,
		"time_remaining": result.TimeRemaining,
		"duration":       result.Duration,
	})
}

// ListTokensHandler lists tokens, optionally filtered by ?status=.
func (a *API) ListTokensHandler(c echo.Context) error {
	var filter *domain.TokenStatus
	if raw := c.QueryParam("status"); raw != "" {
		status := domain.TokenStatus(raw)
		switch status {
		case domain.TokenStatusActive, domain.TokenStatusUsed, domain.TokenStatusExpired:
			filter = &status
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "unknown token status")
		}
	}

	tokens, err := a.tokens.List(c.Request().Context(), filter)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, tokens)
}

// DeleteTokenHandler removes a token regardless of status.
func (a *API) DeleteTokenHandler(c echo.Context) error {
	ok, err := a.tokens.Delete(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "token not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// ListSessionsHandler lists ACTIVE sessions, newest first.
func (a *API) ListSessionsHandler(c echo.Context) error {
	sessions, err := a.sessions.ListActive(c.Request().Context())
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, sessions)
}

// ForceLogoutHandler terminates a session on behalf of an administrator.
func (a *API) ForceLogoutHandler(c echo.Context) error {
	ok, err := a.coordinator.ForceLogout(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found or not active")
	}
	return c.NoContent(http.StatusNoContent)
}

// mapError translates service errors into HTTP responses. Authentication
// failures share one generic 401 body; store failures surface as 503 without
// internal detail.
func mapError(err error) error {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		return echo.NewHTTPError(http.StatusBadRequest, vErr.Error())
	case errors.Is(err, services.ErrInvalidCredentials),
		errors.Is(err, services.ErrInvalidToken):
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication failed")
	case errors.Is(err, domain.ErrStoreUnavailable):
		log.Error().Err(err).Msg("Store unavailable while serving request")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "temporarily unavailable")
	default:
		log.Error().Err(err).Msg("Unhandled error while serving request")
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
