package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/xiaot623/sparring/internal/domain"
)

// RenameSessionRequest is the body of PATCH /api/chat-sessions/{id}.
type RenameSessionRequest struct {
	Title string `json:"title"`
}

// CreateSession calls POST /api/chat-sessions.
func (c *Client) CreateSession(ctx context.Context) (*domain.ChatSession, error) {
	var session domain.ChatSession
	err := c.do(ctx, request{
		op:     "create session",
		method: http.MethodPost,
		path:   "/api/chat-sessions",
	}, &session)
	if err != nil {
		return nil, err
	}
	if session.ID == "" {
		return nil, domain.NewError(domain.KindNetwork, "create session", fmt.Errorf("backend returned a session without an id"))
	}
	return &session, nil
}

// ListSessions calls GET /api/chat-sessions, filtered by userID when set.
func (c *Client) ListSessions(ctx context.Context, userID string) ([]domain.ChatSession, error) {
	path := "/api/chat-sessions"
	if userID != "" {
		path += "?user_id=" + url.QueryEscape(userID)
	}

	var sessions []domain.ChatSession
	if err := c.do(ctx, request{op: "list sessions", method: http.MethodGet, path: path}, &sessions); err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []domain.ChatSession{}
	}
	return sessions, nil
}

// RenameSession calls PATCH /api/chat-sessions/{id}.
func (c *Client) RenameSession(ctx context.Context, id, title string) error {
	body, err := json.Marshal(RenameSessionRequest{Title: title})
	if err != nil {
		return fmt.Errorf("failed to marshal rename request: %w", err)
	}
	return c.do(ctx, request{
		op:          "rename session",
		method:      http.MethodPatch,
		path:        "/api/chat-sessions/" + url.PathEscape(id),
		body:        bytes.NewReader(body),
		contentType: "application/json",
	}, nil)
}

// DeleteSession calls DELETE /api/chat-sessions/{id}.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, request{
		op:     "delete session",
		method: http.MethodDelete,
		path:   "/api/chat-sessions/" + url.PathEscape(id),
	}, nil)
}
