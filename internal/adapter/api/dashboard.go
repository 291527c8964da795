package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/xiaot623/sparring/internal/domain"
)

// DashboardStats calls GET /api/dashboard/stats/{userId}.
func (c *Client) DashboardStats(ctx context.Context, userID string) (*domain.DashboardStats, error) {
	var stats domain.DashboardStats
	if err := c.getDashboard(ctx, "stats", userID, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Insights calls GET /api/dashboard/insights/{userId}.
func (c *Client) Insights(ctx context.Context, userID string) ([]domain.Insight, error) {
	var insights []domain.Insight
	if err := c.getDashboard(ctx, "insights", userID, &insights); err != nil {
		return nil, err
	}
	return insights, nil
}

// Badges calls GET /api/dashboard/badges/{userId}.
func (c *Client) Badges(ctx context.Context, userID string) ([]domain.Badge, error) {
	var badges []domain.Badge
	if err := c.getDashboard(ctx, "badges", userID, &badges); err != nil {
		return nil, err
	}
	return badges, nil
}

// LearningErrors calls GET /api/dashboard/errors/{userId}.
func (c *Client) LearningErrors(ctx context.Context, userID string) ([]domain.LearningError, error) {
	var errs []domain.LearningError
	if err := c.getDashboard(ctx, "errors", userID, &errs); err != nil {
		return nil, err
	}
	return errs, nil
}

func (c *Client) getDashboard(ctx context.Context, section, userID string, out interface{}) error {
	return c.do(ctx, request{
		op:     "load dashboard " + section,
		method: http.MethodGet,
		path:   fmt.Sprintf("/api/dashboard/%s/%s", section, url.PathEscape(userID)),
	}, out)
}

// VoiceOffer is an SDP offer or answer exchanged with the voice endpoint.
type VoiceOffer struct {
	SDP      string `json:"sdp"`
	Type     string `json:"type"`
	WebRTCID string `json:"webrtc_id,omitempty"`
}

// SendVoiceOffer calls POST /webrtc/offer and returns the backend's answer.
func (c *Client) SendVoiceOffer(ctx context.Context, sdp, sdpType string) (*VoiceOffer, error) {
	offer := VoiceOffer{SDP: sdp, Type: sdpType, WebRTCID: newWebRTCID()}
	body, err := json.Marshal(offer)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal voice offer: %w", err)
	}

	var answer VoiceOffer
	err = c.do(ctx, request{
		op:          "send voice offer",
		method:      http.MethodPost,
		path:        "/webrtc/offer",
		body:        bytes.NewReader(body),
		contentType: "application/json",
	}, &answer)
	if err != nil {
		return nil, err
	}
	return &answer, nil
}

func newWebRTCID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:7]
}
