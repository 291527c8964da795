package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/sparring/internal/composer"
	"github.com/xiaot623/sparring/internal/domain"
)

// Handler implements the bridge routes.
type Handler struct {
	deps   Deps
	logger *slog.Logger
}

func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{deps: deps, logger: logger}
}

// RegisterRoutes registers the bridge routes.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	api := e.Group("/api")
	api.GET("/state", h.GetState)
	api.GET("/sessions", h.ListSessions)
	api.POST("/sessions", h.CreateSession)
	api.POST("/sessions/:id/select", h.SelectSession)
	api.PATCH("/sessions/:id", h.RenameSession)
	api.POST("/sessions/:id/delete-request", h.RequestDelete)
	api.DELETE("/sessions/:id/delete-request", h.CancelDelete)
	api.DELETE("/sessions/:id", h.DeleteSession)
	api.POST("/messages", h.SendMessage)
	api.GET("/dashboard", h.GetDashboard)

	if h.deps.Feed != nil {
		e.GET("/ws", h.deps.Feed.HandleWebSocket)
	}
}

// ErrorResponse is the bridge's error body.
type ErrorResponse struct {
	Error string           `json:"error"`
	Kind  domain.ErrorKind `json:"kind"`
}

func (h *Handler) fail(c echo.Context, err error) error {
	kind := domain.KindOf(err)
	return c.JSON(statusFor(err, kind), ErrorResponse{Error: domain.UserMessage(err), Kind: kind})
}

func statusFor(err error, kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		switch {
		case errors.Is(err, domain.ErrSessionNotFound):
			return http.StatusNotFound
		case errors.Is(err, domain.ErrEditInProgress), errors.Is(err, domain.ErrDeleteInProgress),
			errors.Is(err, domain.ErrDeleteNotConfirmed), errors.Is(err, domain.ErrNotEditing):
			return http.StatusConflict
		}
		return http.StatusBadRequest
	case domain.KindAuth:
		return http.StatusUnauthorized
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindNetwork:
		return http.StatusBadGateway
	case domain.KindMediaAccess:
		return http.StatusForbidden
	case domain.KindStale:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// Health handles GET /health.
func (h *Handler) Health(c echo.Context) error {
	body := map[string]interface{}{"status": "healthy"}
	if h.deps.Hub != nil {
		body["connections"] = h.deps.Hub.ConnectionCount()
	}
	return c.JSON(http.StatusOK, body)
}

// GetState handles GET /api/state.
func (h *Handler) GetState(c echo.Context) error {
	return c.JSON(http.StatusOK, h.deps.Store.Snapshot())
}

// ListSessions handles GET /api/sessions by refreshing the history.
func (h *Handler) ListSessions(c echo.Context) error {
	sessions, err := h.deps.Store.ListSessions(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// CreateSession handles POST /api/sessions.
func (h *Handler) CreateSession(c echo.Context) error {
	session, err := h.deps.Store.CreateSession(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, session)
}

// SelectSession handles POST /api/sessions/:id/select.
func (h *Handler) SelectSession(c echo.Context) error {
	if err := h.deps.Store.SelectSession(c.Request().Context(), c.Param("id")); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, h.deps.Store.Snapshot())
}

// RenameRequest is the body of PATCH /api/sessions/:id.
type RenameRequest struct {
	Title string `json:"title"`
}

// RenameSession handles PATCH /api/sessions/:id.
func (h *Handler) RenameSession(c echo.Context) error {
	var req RenameRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Kind: domain.KindValidation})
	}
	if err := h.deps.Store.RenameSession(c.Request().Context(), c.Param("id"), req.Title); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// RequestDelete handles POST /api/sessions/:id/delete-request.
func (h *Handler) RequestDelete(c echo.Context) error {
	if err := h.deps.Store.RequestDelete(c.Param("id")); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"row": h.deps.Store.Row(c.Param("id"))})
}

// CancelDelete handles DELETE /api/sessions/:id/delete-request.
func (h *Handler) CancelDelete(c echo.Context) error {
	h.deps.Store.CancelDelete(c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}

// DeleteSession handles DELETE /api/sessions/:id. The delete must have been
// requested first.
func (h *Handler) DeleteSession(c echo.Context) error {
	if err := h.deps.Store.DeleteSession(c.Request().Context(), c.Param("id")); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// SendResponse is the body returned by POST /api/messages. Message is nil
// when there was nothing to send or another send was in flight.
type SendResponse struct {
	Sent    bool            `json:"sent"`
	Message *domain.Message `json:"message"`
}

// SendMessage handles POST /api/messages with a multipart body carrying the
// text in "message" and an optional attachment in "file".
func (h *Handler) SendMessage(c echo.Context) error {
	ctx := c.Request().Context()
	if h.deps.MaxUpload > 0 {
		c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, h.deps.MaxUpload)
	}

	draft := composer.New(h.deps.Policy, h.logger)
	draft.SetText(c.FormValue("message"))

	if fh, err := c.FormFile("file"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "could not read file", Kind: domain.KindValidation})
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "could not read file", Kind: domain.KindValidation})
		}
		if _, err := draft.AddFile(ctx, fh.Filename, data); err != nil {
			return h.fail(c, err)
		}
	} else if !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart) {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid multipart body", Kind: domain.KindValidation})
	}

	msg, err := h.deps.Store.Send(ctx, draft.Draft())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, SendResponse{Sent: msg != nil, Message: msg})
}

// GetDashboard handles GET /api/dashboard for the configured user, or the
// user_id query parameter when given.
func (h *Handler) GetDashboard(c echo.Context) error {
	if h.deps.Dashboard == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "dashboard not configured", Kind: domain.KindValidation})
	}
	userID := c.QueryParam("user_id")
	if userID == "" {
		userID = h.deps.UserID
	}
	dash, err := h.deps.Dashboard.Load(c.Request().Context(), userID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, dash)
}
