package store

import (
	"context"
	"strings"

	"github.com/xiaot623/sparring/internal/domain"
)

// LoadMessages makes sessionID the active session and replaces the buffer
// with its messages. On failure the buffer is cleared and the error recorded.
// A load that is superseded before it returns (the active session changed, or
// a newer load started) is discarded without touching the state.
func (s *Store) LoadMessages(ctx context.Context, sessionID string) error {
	err := s.loadMessages(ctx, sessionID)
	if domain.KindOf(err) == domain.KindStale {
		s.logger.Debug("discarding stale message load", "session_id", sessionID, "error", err)
		return nil
	}
	return err
}

// loadMessages is LoadMessages without the stale filter: a superseded load
// returns a KindStale error wrapping domain.ErrStaleResponse.
func (s *Store) loadMessages(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	events := s.activateLocked(sessionID)
	seq := s.loadSeq
	wasLoading := s.loadingLocked()
	s.loadInFlight = true
	if !wasLoading {
		events = append(events, Event{Type: EventLoadingChanged, Loading: true})
	}
	s.mu.Unlock()
	s.emit(events...)

	messages, err := s.backend.ListMessages(ctx, sessionID)

	s.mu.Lock()
	if s.activeID != sessionID || s.loadSeq != seq {
		s.mu.Unlock()
		return domain.NewError(domain.KindStale, "load messages", domain.ErrStaleResponse)
	}
	s.loadInFlight = false
	events = events[:0]
	if err != nil {
		s.messages = nil
		events = append(events, s.failLocked("load messages", err))
	} else {
		s.messages = cloneMessages(messages)
	}
	events = append(events, Event{Type: EventMessagesReplaced, SessionID: sessionID})
	if !s.loadingLocked() {
		events = append(events, Event{Type: EventLoadingChanged, Loading: false})
	}
	s.mu.Unlock()

	s.emit(events...)
	return err
}

// Send delivers a draft with an optimistic update.
//
// An empty draft, or a send while another load or send is in flight, is a
// no-op: Send returns (nil, nil) and nothing reaches the backend. Without an
// active session one is created first; if that fails the error is returned and
// no message is appended, so the caller keeps the draft.
//
// Otherwise the user message is appended as pending before the backend call.
// It stays in the buffer whatever the outcome: it becomes sent on success and
// failed on error. The returned message reflects that final state. The
// assistant reply is appended only if its session is still active, and the
// history is refreshed afterwards since the backend may have derived a title.
func (s *Store) Send(ctx context.Context, draft domain.Draft) (*domain.Message, error) {
	if draft.Empty() {
		return nil, nil
	}

	s.mu.Lock()
	if s.loadingLocked() {
		s.mu.Unlock()
		return nil, nil
	}
	s.sending = true
	needSession := s.activeID == ""
	s.mu.Unlock()
	s.emit(Event{Type: EventLoadingChanged, Loading: true})

	if needSession {
		if _, err := s.CreateSession(ctx); err != nil {
			s.finishSend()
			return nil, err
		}
	}

	s.mu.Lock()
	sessionID := s.activeID
	msg := domain.Message{
		ID:        s.newID(),
		SessionID: sessionID,
		Sender:    domain.SenderUser,
		Content:   draft.Content(),
		Timestamp: s.now(),
		Delivery:  domain.DeliveryPending,
	}
	firstUserMessage := true
	for _, m := range s.messages {
		if m.Sender == domain.SenderUser {
			firstUserMessage = false
			break
		}
	}
	s.messages = append(s.messages, msg)
	pending := msg
	events := []Event{{Type: EventMessageAppended, SessionID: sessionID, Message: &pending}}
	if idx := s.indexOfLocked(sessionID); idx >= 0 && firstUserMessage && s.sessions[idx].Untitled() {
		if title := domain.DeriveTitle(draft.Text); title != "" {
			s.sessions[idx].Title = title
			events = append(events, Event{Type: EventSessionsChanged})
		}
	}
	s.mu.Unlock()
	s.emit(events...)

	reply, err := s.backend.SendMessage(ctx, domain.SendRequest{
		SessionID:  sessionID,
		Text:       strings.TrimSpace(msg.Content.Caption()),
		Attachment: draft.Attachment,
	})

	s.mu.Lock()
	delivery := domain.DeliverySent
	if err != nil {
		delivery = domain.DeliveryFailed
	}
	msg.Delivery = delivery
	events = events[:0]
	for i := range s.messages {
		if s.messages[i].ID == msg.ID {
			s.messages[i].Delivery = delivery
			updated := s.messages[i]
			events = append(events, Event{Type: EventMessageUpdated, SessionID: sessionID, Message: &updated})
			break
		}
	}
	if err != nil {
		events = append(events, s.failLocked("send message", err))
	} else if reply != nil && s.activeID == sessionID {
		r := *reply
		if r.SessionID == "" {
			r.SessionID = sessionID
		}
		if r.Delivery == "" {
			r.Delivery = domain.DeliverySent
		}
		s.messages = append(s.messages, r)
		events = append(events, Event{Type: EventMessageAppended, SessionID: sessionID, Message: &r})
	}
	s.mu.Unlock()
	s.emit(events...)
	s.finishSend()

	if err != nil {
		return &msg, err
	}

	if _, lerr := s.ListSessions(ctx); lerr != nil {
		s.logger.Warn("failed to refresh history after send", "session_id", sessionID, "error", lerr)
	}
	return &msg, nil
}

func (s *Store) finishSend() {
	s.mu.Lock()
	s.sending = false
	loading := s.loadingLocked()
	s.mu.Unlock()
	if !loading {
		s.emit(Event{Type: EventLoadingChanged, Loading: false})
	}
}
