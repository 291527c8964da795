// Package fakebackend implements the chat backend REST contract in memory.
// It backs the end-to-end tests and the `sparring fake-backend` demo.
package fakebackend

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/xiaot623/sparring/internal/domain"
)

// ReplyFunc produces the assistant reply to a stored user message.
type ReplyFunc func(user domain.Message) domain.Message

// Config configures the fake backend.
type Config struct {
	// Token is the only accepted bearer token. Empty accepts any token.
	Token string
	// RateLimit is the sustained number of chat requests per second; zero
	// disables limiting.
	RateLimit float64
	Burst     int
	Reply     ReplyFunc
	Now       func() time.Time
}

// Server holds the in-memory backend state.
type Server struct {
	cfg Config

	mu       sync.Mutex
	sessions []domain.ChatSession
	messages map[string][]domain.Message
}

// New creates an empty backend.
func New(cfg Config) *Server {
	if cfg.Reply == nil {
		cfg.Reply = DefaultReply
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Server{
		cfg:      cfg,
		messages: make(map[string][]domain.Message),
	}
}

// NewEcho creates an echo instance with the backend routes registered.
func (s *Server) NewEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s.RegisterRoutes(e)
	return e
}

// RegisterRoutes registers the backend routes.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	api := e.Group("/api", s.requireBearer)
	api.POST("/chat-sessions", s.CreateSession)
	api.GET("/chat-sessions", s.ListSessions)
	api.PATCH("/chat-sessions/:id", s.RenameSession)
	api.DELETE("/chat-sessions/:id", s.DeleteSession)
	api.GET("/messages/:session_id", s.ListMessages)
	api.POST("/chat", s.Chat, s.rateLimiter())

	api.GET("/dashboard/stats/:user_id", s.DashboardStats)
	api.GET("/dashboard/insights/:user_id", s.Insights)
	api.GET("/dashboard/badges/:user_id", s.Badges)
	api.GET("/dashboard/errors/:user_id", s.LearningErrors)

	e.POST("/webrtc/offer", s.VoiceOffer, s.requireBearer)
}

func (s *Server) requireBearer(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		auth := c.Request().Header.Get("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		if !strings.HasPrefix(auth, "Bearer ") || token == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{"detail": "Not authenticated"})
		}
		if s.cfg.Token != "" && token != s.cfg.Token {
			return c.JSON(http.StatusUnauthorized, map[string]string{"detail": "Invalid token"})
		}
		return next(c)
	}
}

func (s *Server) rateLimiter() echo.MiddlewareFunc {
	if s.cfg.RateLimit <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	burst := s.cfg.Burst
	if burst <= 0 {
		burst = int(s.cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
	}
	deny := func(c echo.Context, identifier string, err error) error {
		return c.JSON(http.StatusTooManyRequests, map[string]string{"detail": "Too many requests"})
	}
	unidentified := func(c echo.Context, err error) error {
		return c.JSON(http.StatusForbidden, map[string]string{"detail": "Could not identify client"})
	}
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(s.cfg.RateLimit),
			Burst:     burst,
			ExpiresIn: 3 * time.Minute,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.Request().Header.Get("Authorization"), nil
		},
		ErrorHandler: unidentified,
		DenyHandler:  deny,
	})
}

// DefaultReply answers every message with a short acknowledgement.
func DefaultReply(user domain.Message) domain.Message {
	text := strings.TrimSpace(user.Text())
	reply := "¡Muy bien! Sigamos practicando."
	switch user.Content.(type) {
	case domain.AudioContent:
		reply = "Te escuché. ¡Buena pronunciación!"
	case domain.ImageContent:
		reply = "¡Qué imagen tan interesante! Descríbela en español."
	case domain.PDFContent:
		reply = "Gracias por el documento. ¿Qué parte quieres repasar?"
	default:
		if text != "" {
			reply = "Entiendo: \"" + text + "\". ¡Muy bien! Sigamos practicando."
		}
	}
	return domain.Message{
		Sender:  domain.SenderAssistant,
		Content: domain.TextContent{Text: reply},
	}
}

func newID() string {
	return uuid.NewString()
}
