package fakebackend

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/sparring/internal/domain"
)

type detail map[string]string

func notFound(c echo.Context, what string) error {
	return c.JSON(http.StatusNotFound, detail{"detail": what + " not found"})
}

// CreateSession handles POST /api/chat-sessions.
func (s *Server) CreateSession(c echo.Context) error {
	session := domain.ChatSession{
		ID:        newID(),
		Title:     domain.DefaultSessionTitle,
		CreatedAt: s.cfg.Now().UTC(),
		UserID:    c.QueryParam("user_id"),
	}

	s.mu.Lock()
	s.sessions = append(s.sessions, session)
	s.mu.Unlock()

	return c.JSON(http.StatusOK, session)
}

// ListSessions handles GET /api/chat-sessions.
func (s *Server) ListSessions(c echo.Context) error {
	userID := c.QueryParam("user_id")

	s.mu.Lock()
	out := make([]domain.ChatSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if userID == "" || sess.UserID == "" || sess.UserID == userID {
			out = append(out, sess)
		}
	}
	s.mu.Unlock()

	return c.JSON(http.StatusOK, out)
}

// RenameSession handles PATCH /api/chat-sessions/:id.
func (s *Server) RenameSession(c echo.Context) error {
	var req struct {
		Title string `json:"title"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, detail{"detail": "Invalid request body"})
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return c.JSON(http.StatusBadRequest, detail{"detail": "Title must not be empty"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(c.Param("id"))
	if idx < 0 {
		return notFound(c, "Chat session")
	}
	s.sessions[idx].Title = title
	return c.JSON(http.StatusOK, s.sessions[idx])
}

// DeleteSession handles DELETE /api/chat-sessions/:id.
func (s *Server) DeleteSession(c echo.Context) error {
	id := c.Param("id")

	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return notFound(c, "Chat session")
	}
	s.sessions = append(s.sessions[:idx:idx], s.sessions[idx+1:]...)
	delete(s.messages, id)
	return c.NoContent(http.StatusNoContent)
}

// ListMessages handles GET /api/messages/:session_id.
func (s *Server) ListMessages(c echo.Context) error {
	s.mu.Lock()
	msgs := append([]domain.Message{}, s.messages[c.Param("session_id")]...)
	s.mu.Unlock()

	return c.JSON(http.StatusOK, msgs)
}

// Chat handles POST /api/chat. It stores the user message, titles an
// untitled session after its first message and returns the assistant reply.
func (s *Server) Chat(c echo.Context) error {
	sessionID := c.FormValue("session_id")
	if sessionID == "" {
		return c.JSON(http.StatusBadRequest, detail{"detail": "session_id is required"})
	}
	text := c.FormValue("message")

	content, err := readContent(c, text)
	if err != nil {
		return c.JSON(http.StatusBadRequest, detail{"detail": err.Error()})
	}

	now := s.cfg.Now().UTC()
	user := domain.Message{
		ID:        newID(),
		SessionID: sessionID,
		Sender:    domain.SenderUser,
		Content:   content,
		Timestamp: now,
		Delivery:  domain.DeliverySent,
	}

	s.mu.Lock()
	idx := s.indexLocked(sessionID)
	if idx < 0 {
		s.mu.Unlock()
		return notFound(c, "Chat session")
	}
	if len(s.messages[sessionID]) == 0 && s.sessions[idx].Untitled() {
		if title := domain.DeriveTitle(text); title != "" {
			s.sessions[idx].Title = title
		}
	}
	s.messages[sessionID] = append(s.messages[sessionID], user)
	s.mu.Unlock()

	reply := s.cfg.Reply(user)
	reply.ID = newID()
	reply.SessionID = sessionID
	reply.Timestamp = s.cfg.Now().UTC()
	reply.Delivery = domain.DeliverySent
	if reply.Sender == "" {
		reply.Sender = domain.SenderAssistant
	}

	s.mu.Lock()
	s.messages[sessionID] = append(s.messages[sessionID], reply)
	s.mu.Unlock()

	return c.JSON(http.StatusOK, reply)
}

// readContent builds the user message content from the multipart parts.
// Only one file part is honoured.
func readContent(c echo.Context, text string) (domain.Content, error) {
	for _, field := range []domain.AttachmentKind{domain.AttachmentAudio, domain.AttachmentImage, domain.AttachmentPDF} {
		fh, err := c.FormFile(string(field))
		if err != nil {
			continue
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", field, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", field, err)
		}

		media := domain.Media{Name: fh.Filename, MIMEType: fh.Header.Get("Content-Type"), Data: data}
		switch field {
		case domain.AttachmentAudio:
			return domain.AudioContent{Audio: media, Text: text}, nil
		case domain.AttachmentImage:
			return domain.ImageContent{Image: media, Text: text}, nil
		default:
			return domain.PDFContent{Ref: fh.Filename, Title: fh.Filename, Text: text}, nil
		}
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("message or file is required")
	}
	return domain.TextContent{Text: text}, nil
}

// VoiceOffer handles POST /webrtc/offer with a canned SDP answer.
func (s *Server) VoiceOffer(c echo.Context) error {
	var offer struct {
		SDP      string `json:"sdp"`
		Type     string `json:"type"`
		WebRTCID string `json:"webrtc_id"`
	}
	if err := c.Bind(&offer); err != nil || offer.SDP == "" {
		return c.JSON(http.StatusBadRequest, detail{"detail": "Invalid offer"})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"sdp":  "v=0\r\no=- " + offer.WebRTCID + " 0 IN IP4 127.0.0.1\r\ns=sparring\r\n",
		"type": "answer",
	})
}

func (s *Server) indexLocked(id string) int {
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// userMessagesLocked returns every user message in sessions owned by userID.
func (s *Server) userMessagesLocked(userID string) []domain.Message {
	var out []domain.Message
	for _, sess := range s.sessions {
		if userID != "" && sess.UserID != "" && sess.UserID != userID {
			continue
		}
		for _, m := range s.messages[sess.ID] {
			if m.Sender == domain.SenderUser {
				out = append(out, m)
			}
		}
	}
	return out
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
