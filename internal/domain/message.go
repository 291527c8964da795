package domain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Delivery tracks a message's round trip to the backend. Messages fetched from
// the backend are always DeliverySent.
type Delivery string

const (
	DeliveryPending Delivery = "pending"
	DeliverySent    Delivery = "sent"
	DeliveryFailed  Delivery = "failed"
)

// Message represents a single message in a session.
type Message struct {
	ID        string
	SessionID string
	Sender    Sender
	Content   Content
	Timestamp time.Time
	Delivery  Delivery
}

// Text returns the message caption, or "" when there is no content.
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return m.Content.Caption()
}

// Provisional reports whether the message was created locally and has not been
// confirmed by the backend.
func (m Message) Provisional() bool {
	return m.Delivery == DeliveryPending || m.Delivery == DeliveryFailed
}

type contentWire struct {
	Type      ContentKind `json:"type"`
	Text      string      `json:"text"`
	PDFURL    string      `json:"pdfUrl,omitempty"`
	PageCount int         `json:"pageCount,omitempty"`
	Title     string      `json:"title,omitempty"`
	FileName  string      `json:"fileName,omitempty"`
	MIMEType  string      `json:"mimeType,omitempty"`
	MediaURL  string      `json:"mediaUrl,omitempty"`
}

type messageWire struct {
	ID          string      `json:"id,omitempty"`
	MongoID     string      `json:"_id,omitempty"`
	SessionID   string      `json:"session_id,omitempty"`
	SessionIDJS string      `json:"sessionId,omitempty"`
	Sender      Sender      `json:"sender"`
	Content     contentWire `json:"content"`
	Timestamp   wireTime    `json:"timestamp"`
	Audio       string      `json:"audio,omitempty"`
	Image       string      `json:"image,omitempty"`
	PDF         string      `json:"pdf,omitempty"`
	Delivery    Delivery    `json:"delivery,omitempty"`
}

// MarshalJSON encodes the message in the backend's wire shape. Inline media is
// carried base64-encoded in the top-level audio/image fields.
func (m Message) MarshalJSON() ([]byte, error) {
	w := messageWire{
		ID:        m.ID,
		SessionID: m.SessionID,
		Sender:    m.Sender,
		Timestamp: wireTime(m.Timestamp),
		Delivery:  m.Delivery,
	}
	switch c := m.Content.(type) {
	case TextContent:
		w.Content = contentWire{Type: ContentConversation, Text: c.Text}
	case AudioContent:
		w.Content = contentWire{Type: ContentAudio, Text: c.Text, FileName: c.Audio.Name, MIMEType: c.Audio.MIMEType, MediaURL: c.Audio.URL}
		if len(c.Audio.Data) > 0 {
			w.Audio = base64.StdEncoding.EncodeToString(c.Audio.Data)
		}
	case ImageContent:
		w.Content = contentWire{Type: ContentImage, Text: c.Text, FileName: c.Image.Name, MIMEType: c.Image.MIMEType, MediaURL: c.Image.URL}
		if len(c.Image.Data) > 0 {
			w.Image = base64.StdEncoding.EncodeToString(c.Image.Data)
		}
	case PDFContent:
		w.Content = contentWire{Type: ContentPDF, Text: c.Text, PDFURL: c.Ref, PageCount: c.PageCount, Title: c.Title}
	case nil:
		w.Content = contentWire{Type: ContentConversation}
	default:
		return nil, fmt.Errorf("unsupported content type %T", m.Content)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a message from the backend's wire shape.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w messageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	m.ID = firstNonEmpty(w.ID, w.MongoID)
	m.SessionID = firstNonEmpty(w.SessionID, w.SessionIDJS)
	m.Sender = w.Sender
	m.Timestamp = time.Time(w.Timestamp)
	m.Delivery = w.Delivery
	if m.Delivery == "" {
		m.Delivery = DeliverySent
	}

	switch w.Content.Type {
	case ContentConversation, "":
		m.Content = TextContent{Text: w.Content.Text}
	case ContentAudio:
		media, err := decodeMedia(w.Audio, w.Content)
		if err != nil {
			return fmt.Errorf("decode audio: %w", err)
		}
		m.Content = AudioContent{Audio: media, Text: w.Content.Text}
	case ContentImage:
		media, err := decodeMedia(w.Image, w.Content)
		if err != nil {
			return fmt.Errorf("decode image: %w", err)
		}
		m.Content = ImageContent{Image: media, Text: w.Content.Text}
	case ContentPDF:
		m.Content = PDFContent{
			Ref:       firstNonEmpty(w.Content.PDFURL, w.PDF),
			PageCount: w.Content.PageCount,
			Title:     w.Content.Title,
			Text:      w.Content.Text,
		}
	default:
		return fmt.Errorf("unknown content type %q", w.Content.Type)
	}
	return nil
}

func decodeMedia(encoded string, c contentWire) (Media, error) {
	media := Media{Name: c.FileName, MIMEType: c.MIMEType, URL: c.MediaURL}
	if encoded == "" {
		return media, nil
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Media{}, err
	}
	media.Data = data
	return media, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// wireTime tolerates the naive ISO timestamps the backend emits for stored
// messages alongside proper RFC 3339 values.
type wireTime time.Time

var wireTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func (t wireTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format(time.RFC3339Nano))
}

func (t *wireTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*t = wireTime(time.Time{})
		return nil
	}
	for _, layout := range wireTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = wireTime(parsed)
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}
