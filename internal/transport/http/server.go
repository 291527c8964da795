// Package http provides the local bridge: an HTTP server exposing the client
// state to a UI running on the same machine.
package http

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/sparring/internal/composer"
	"github.com/xiaot623/sparring/internal/service"
	"github.com/xiaot623/sparring/internal/store"
	"github.com/xiaot623/sparring/internal/transport/ws"
)

// Deps are the collaborators the bridge serves.
type Deps struct {
	Store     *store.Store
	Policy    composer.Checker
	Dashboard *service.Dashboard
	Hub       *ws.Hub
	Feed      *ws.Server
	UserID    string
	// MaxUpload bounds multipart request bodies; zero means unlimited.
	MaxUpload int64
	Logger    *slog.Logger
}

// NewServer creates the bridge's echo instance.
func NewServer(deps Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	NewHandler(deps).RegisterRoutes(e)
	return e
}

// ForwardEvents publishes every store event on the hub until the returned
// function is called. Message events are scoped to their session.
func ForwardEvents(st *store.Store, hub *ws.Hub, logger *slog.Logger) func() {
	if logger == nil {
		logger = slog.Default()
	}
	return st.Subscribe(func(ev store.Event) {
		var scope string
		switch ev.Type {
		case store.EventMessageAppended, store.EventMessageUpdated, store.EventMessagesReplaced:
			scope = ev.SessionID
		}
		if err := hub.BroadcastJSON(scope, ev); err != nil {
			logger.Warn("failed to publish event", "type", string(ev.Type), "error", err)
		}
	})
}
