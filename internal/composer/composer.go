// Package composer holds the draft being written and the attachments queued
// for it.
package composer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"rsc.io/pdf"

	"github.com/xiaot623/sparring/internal/domain"
)

// Checker decides whether an attachment may be staged.
type Checker interface {
	Check(ctx context.Context, a domain.Attachment) error
}

// Composer accumulates draft text and a queue of attachments. Only the first
// queued attachment belongs to the next message; the rest wait for later ones.
type Composer struct {
	policy Checker
	logger *slog.Logger

	mu    sync.Mutex
	text  string
	queue []domain.Attachment
}

// New creates an empty composer. A nil policy accepts everything.
func New(policy Checker, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{policy: policy, logger: logger}
}

// SetText replaces the draft text.
func (c *Composer) SetText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = text
}

// AddFile classifies data, checks it against the policy and queues it.
func (c *Composer) AddFile(ctx context.Context, name string, data []byte) (*domain.Attachment, error) {
	return c.add(ctx, name, data, "")
}

// AddPath reads a file from disk and queues it with a file:// preview.
func (c *Composer) AddPath(ctx context.Context, path string) (*domain.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	preview := ""
	if abs, err := filepath.Abs(path); err == nil {
		preview = "file://" + abs
	}
	return c.add(ctx, filepath.Base(path), data, preview)
}

func (c *Composer) add(ctx context.Context, name string, data []byte, preview string) (*domain.Attachment, error) {
	a, err := Classify(name, data)
	if err != nil {
		return nil, err
	}
	a.Preview = preview
	if a.Kind == domain.AttachmentPDF {
		a.PageCount = c.countPages(name, data)
	}
	if c.policy != nil {
		if err := c.policy.Check(ctx, *a); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	c.queue = append(c.queue, *a)
	c.mu.Unlock()
	return a, nil
}

// AttachRecording replaces every queued attachment with a finished recording.
func (c *Composer) AttachRecording(a *domain.Attachment) {
	if a == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = []domain.Attachment{*a}
}

// Attachments returns a copy of the queue.
func (c *Composer) Attachments() []domain.Attachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Attachment, len(c.queue))
	copy(out, c.queue)
	return out
}

// Draft returns the text plus the first queued attachment.
func (c *Composer) Draft() domain.Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := domain.Draft{Text: c.text}
	if len(c.queue) > 0 {
		a := c.queue[0]
		d.Attachment = &a
	}
	return d
}

// Consume clears the text and drops the attachment that went out with it.
func (c *Composer) Consume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = ""
	if len(c.queue) > 0 {
		c.queue = c.queue[1:]
	}
}

// Remove drops the i-th queued attachment.
func (c *Composer) Remove(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.queue) {
		return fmt.Errorf("no attachment at position %d", i)
	}
	c.queue = append(c.queue[:i], c.queue[i+1:]...)
	return nil
}

// Reset empties the composer.
func (c *Composer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = ""
	c.queue = nil
}

func (c *Composer) countPages(name string, data []byte) int {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		c.logger.Warn("failed to read pdf page count", "file", name, "error", err)
		return 0
	}
	return r.NumPage()
}

// Classify detects the MIME type and attachment kind of a file. The extension
// wins when it is known; content sniffing covers the rest.
func Classify(name string, data []byte) (*domain.Attachment, error) {
	mimeType := ""
	if ext := filepath.Ext(name); ext != "" {
		mimeType = mime.TypeByExtension(strings.ToLower(ext))
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mt
	}

	var kind domain.AttachmentKind
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		kind = domain.AttachmentImage
	case strings.HasPrefix(mimeType, "audio/"):
		kind = domain.AttachmentAudio
	case mimeType == "application/pdf":
		kind = domain.AttachmentPDF
	default:
		return nil, domain.NewError(domain.KindValidation, "attach "+name, fmt.Errorf("%w: %s", domain.ErrUnsupportedMIMEType, mimeType))
	}

	return &domain.Attachment{
		Kind:     kind,
		Name:     name,
		MIMEType: mimeType,
		Data:     data,
	}, nil
}
