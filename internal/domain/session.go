// Package domain defines the core domain models for the chat client.
package domain

import (
	"encoding/json"
	"strings"
	"time"
	"unicode"
)

// DefaultSessionTitle is the title a session carries until the backend derives one.
const DefaultSessionTitle = "New Chat"

// titleRunes is how much of the first message a derived title keeps.
const titleRunes = 30

// ChatSession represents a conversation thread known to the backend.
type ChatSession struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UserID    string    `json:"user_id,omitempty"`
}

// sessionWire accepts both "id" and the Mongo-style "_id" the backend emits.
type sessionWire struct {
	ID        string   `json:"id"`
	MongoID   string   `json:"_id"`
	Title     string   `json:"title"`
	CreatedAt wireTime `json:"created_at"`
	UserID    string   `json:"user_id,omitempty"`
}

// UnmarshalJSON decodes a session from either id spelling.
func (s *ChatSession) UnmarshalJSON(data []byte) error {
	var w sessionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.ID = w.ID
	if s.ID == "" {
		s.ID = w.MongoID
	}
	s.Title = w.Title
	s.CreatedAt = time.Time(w.CreatedAt)
	s.UserID = w.UserID
	return nil
}

// DeriveTitle builds a session title from the first user message: the first
// 30 characters, with "..." appended when the text was longer. Non-printable
// characters are dropped.
func DeriveTitle(text string) string {
	text = strings.Map(func(r rune) rune {
		if !unicode.IsPrint(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(text))
	runes := []rune(text)
	if len(runes) > titleRunes {
		return string(runes[:titleRunes]) + "..."
	}
	return text
}

// Untitled reports whether the session still carries the placeholder title.
func (s ChatSession) Untitled() bool {
	return s.Title == "" || s.Title == DefaultSessionTitle
}
