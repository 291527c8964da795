package domain

import "strings"

// AttachmentKind classifies a staged attachment.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentAudio AttachmentKind = "audio"
	AttachmentPDF   AttachmentKind = "pdf"
)

// DefaultImageCaption is used when an image is sent without text.
const DefaultImageCaption = "Uploaded image"

// Attachment is a binary payload staged client-side for the next message. It
// is never persisted on its own; sending consumes it into the message content.
type Attachment struct {
	Kind      AttachmentKind
	Name      string
	MIMEType  string
	Data      []byte
	Preview   string
	PageCount int
}

// Size returns the payload size in bytes.
func (a Attachment) Size() int64 {
	return int64(len(a.Data))
}

// Draft is user-composed content that has not been sent yet: text, a single
// attachment, or both.
type Draft struct {
	Text       string
	Attachment *Attachment
}

// Empty reports whether the draft carries nothing worth sending.
func (d Draft) Empty() bool {
	return strings.TrimSpace(d.Text) == "" && d.Attachment == nil
}

// Content converts the draft into the message content variant it represents.
func (d Draft) Content() Content {
	if d.Attachment == nil {
		return TextContent{Text: d.Text}
	}

	a := d.Attachment
	media := Media{Name: a.Name, MIMEType: a.MIMEType, Data: a.Data, URL: a.Preview}
	switch a.Kind {
	case AttachmentImage:
		text := d.Text
		if strings.TrimSpace(text) == "" {
			text = DefaultImageCaption
		}
		return ImageContent{Image: media, Text: text}
	case AttachmentAudio:
		return AudioContent{Audio: media, Text: d.Text}
	default:
		return PDFContent{Ref: a.Name, PageCount: a.PageCount, Title: a.Name, Text: d.Text}
	}
}

// SendRequest is the payload submitted to the backend for one outgoing message.
type SendRequest struct {
	SessionID  string
	Text       string
	Attachment *Attachment
}
