// Package api provides an HTTP client for the chat backend REST API.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xiaot623/sparring/internal/adapter/auth"
	"github.com/xiaot623/sparring/internal/domain"
)

// Client is an HTTP client for the chat backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     auth.TokenSource
	now        func() time.Time
}

// NewClient creates a new backend client. Every request carries a bearer
// token from tokens; a zero timeout defaults to 30 seconds.
func NewClient(baseURL string, tokens auth.TokenSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		tokens: tokens,
		now:    time.Now,
	}
}

// ErrorResponse represents an error response from the backend. FastAPI-style
// backends use "detail"; others use "error".
type ErrorResponse struct {
	Detail json.RawMessage `json:"detail,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func (e ErrorResponse) message() string {
	if len(e.Detail) > 0 {
		var s string
		if json.Unmarshal(e.Detail, &s) == nil {
			return s
		}
	}
	return e.Error
}

// request describes one backend call. body, when non-nil, is sent with
// contentType.
type request struct {
	op          string
	method      string
	path        string
	body        io.Reader
	contentType string
}

// do authenticates and executes req, decoding a JSON response into out when
// out is non-nil and the body is not empty. Failures come back as
// *domain.Error.
func (c *Client) do(ctx context.Context, req request, out interface{}) error {
	token, err := auth.Bearer(ctx, c.tokens, c.now())
	if err != nil {
		return domain.NewError(domain.KindAuth, req.op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, req.body)
	if err != nil {
		return domain.NewError(domain.KindNetwork, req.op, fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.NewError(domain.KindNetwork, req.op, fmt.Errorf("failed to %s: %w", req.op, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewError(domain.KindNetwork, req.op, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(req.op, resp.StatusCode, respBody)
	}

	if out == nil || len(strings.TrimSpace(string(respBody))) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return domain.NewError(domain.KindNetwork, req.op, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func statusError(op string, status int, body []byte) error {
	var errResp ErrorResponse
	detail := ""
	if json.Unmarshal(body, &errResp) == nil {
		detail = errResp.message()
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &domain.Error{Kind: domain.KindAuth, Op: op, Status: status, Detail: detail, Err: domain.ErrUnauthorized}
	case http.StatusTooManyRequests:
		return &domain.Error{Kind: domain.KindRateLimited, Op: op, Status: status, Detail: domain.RateLimitedMessage, Err: domain.ErrRateLimited}
	}

	e := &domain.Error{Kind: domain.KindNetwork, Op: op, Status: status, Detail: detail}
	if detail == "" {
		e.Err = fmt.Errorf("backend returned status %d: %s", status, strings.TrimSpace(string(body)))
	}
	return e
}
