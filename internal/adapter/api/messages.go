package api

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"

	"github.com/xiaot623/sparring/internal/domain"
)

// ListMessages calls GET /api/messages/{sessionId}.
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	var messages []domain.Message
	err := c.do(ctx, request{
		op:     "load messages",
		method: http.MethodGet,
		path:   "/api/messages/" + url.PathEscape(sessionID),
	}, &messages)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return messages, nil
}

// SendMessage calls POST /api/chat with a multipart body carrying the session
// id, the optional text and at most one file part named after the attachment
// kind: "audio", "image" or "pdf". The backend contract only names audio and
// image; PDFs go out as a "pdf" part and servers that do not know it ignore
// it. It returns the assistant reply, or nil when the backend sent none.
func (c *Client) SendMessage(ctx context.Context, req domain.SendRequest) (*domain.Message, error) {
	body, contentType, err := encodeSend(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}

	var reply domain.Message
	err = c.do(ctx, request{
		op:          "send message",
		method:      http.MethodPost,
		path:        "/api/chat",
		body:        body,
		contentType: contentType,
	}, &reply)
	if err != nil {
		return nil, err
	}
	if reply.Content == nil && reply.ID == "" {
		return nil, nil
	}
	if reply.SessionID == "" {
		reply.SessionID = req.SessionID
	}
	return &reply, nil
}

func encodeSend(req domain.SendRequest) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	if err := w.WriteField("session_id", req.SessionID); err != nil {
		return nil, "", err
	}
	if req.Text != "" {
		if err := w.WriteField("message", req.Text); err != nil {
			return nil, "", err
		}
	}

	if a := req.Attachment; a != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, string(a.Kind), a.Name))
		mimeType := a.MIMEType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		h.Set("Content-Type", mimeType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(a.Data); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}
