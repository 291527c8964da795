package domain

// ContentKind is the wire discriminator of a message payload.
type ContentKind string

const (
	ContentConversation ContentKind = "conversation"
	ContentAudio        ContentKind = "audio"
	ContentImage        ContentKind = "image"
	ContentPDF          ContentKind = "pdf"
)

// Content is the payload of a message. Exactly one variant is carried per
// message; the set of variants is closed.
type Content interface {
	Kind() ContentKind
	// Caption returns the text that accompanies the payload, if any.
	Caption() string
	isContent()
}

// Media is a binary payload, either inline or by reference.
type Media struct {
	Name     string
	MIMEType string
	Data     []byte
	URL      string
}

// Empty reports whether the media carries neither bytes nor a reference.
func (m Media) Empty() bool {
	return len(m.Data) == 0 && m.URL == ""
}

// TextContent is a plain conversational message.
type TextContent struct {
	Text string
}

// AudioContent is a voice message with an optional caption.
type AudioContent struct {
	Audio Media
	Text  string
}

// ImageContent is an image with an optional caption.
type ImageContent struct {
	Image Media
	Text  string
}

// PDFContent references a PDF document.
type PDFContent struct {
	Ref       string
	PageCount int
	Title     string
	Text      string
}

func (TextContent) Kind() ContentKind  { return ContentConversation }
func (AudioContent) Kind() ContentKind { return ContentAudio }
func (ImageContent) Kind() ContentKind { return ContentImage }
func (PDFContent) Kind() ContentKind   { return ContentPDF }

func (c TextContent) Caption() string  { return c.Text }
func (c AudioContent) Caption() string { return c.Text }
func (c ImageContent) Caption() string { return c.Text }
func (c PDFContent) Caption() string   { return c.Text }

func (TextContent) isContent()  {}
func (AudioContent) isContent() {}
func (ImageContent) isContent() {}
func (PDFContent) isContent()   {}
