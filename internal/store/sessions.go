package store

import (
	"context"
	"strings"

	"github.com/xiaot623/sparring/internal/domain"
)

// ListSessions fetches the history and replaces the local copy in server
// order. On failure the history is emptied and the error recorded; the
// failure is recoverable.
func (s *Store) ListSessions(ctx context.Context) ([]domain.ChatSession, error) {
	sessions, err := s.backend.ListSessions(ctx, s.userID)
	if err != nil {
		s.mu.Lock()
		s.sessions = nil
		ev := s.failLocked("list sessions", err)
		s.mu.Unlock()

		s.emit(Event{Type: EventSessionsChanged}, ev)
		return nil, err
	}

	s.mu.Lock()
	s.sessions = cloneSessions(sessions)
	known := make(map[string]bool, len(sessions))
	for _, sess := range sessions {
		known[sess.ID] = true
	}
	for id := range s.rows {
		if !known[id] {
			delete(s.rows, id)
			if s.editingID == id {
				s.editingID = ""
			}
		}
	}
	s.mu.Unlock()

	s.saveHistory(ctx)
	s.emit(Event{Type: EventSessionsChanged})
	return cloneSessions(sessions), nil
}

// CreateSession asks the backend for a new session, appends it to the
// history and makes it active with an empty message buffer. On failure the
// state is left as it was.
func (s *Store) CreateSession(ctx context.Context) (*domain.ChatSession, error) {
	session, err := s.backend.CreateSession(ctx)
	if err != nil {
		s.mu.Lock()
		ev := s.failLocked("create session", err)
		s.mu.Unlock()

		s.emit(ev)
		return nil, err
	}

	s.mu.Lock()
	if s.indexOfLocked(session.ID) < 0 {
		s.sessions = append(s.sessions, *session)
	}
	events := s.activateLocked(session.ID)
	s.mu.Unlock()

	s.saveHistory(ctx)
	s.emit(append([]Event{{Type: EventSessionsChanged}}, events...)...)
	out := *session
	return &out, nil
}

// RenameSession validates title locally, then renames the session on the
// backend and updates the local title in place. Blank titles never reach the
// backend. On failure the local title is unchanged.
func (s *Store) RenameSession(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.NewError(domain.KindValidation, "rename session", domain.ErrEmptyTitle)
	}

	s.mu.Lock()
	if s.indexOfLocked(id) < 0 {
		s.mu.Unlock()
		return domain.NewError(domain.KindValidation, "rename session", domain.ErrSessionNotFound)
	}
	if s.editingID != "" && s.editingID != id {
		s.mu.Unlock()
		return domain.NewError(domain.KindValidation, "rename session", domain.ErrEditInProgress)
	}
	if s.rowLocked(id) == RowDeleting {
		s.mu.Unlock()
		return domain.NewError(domain.KindValidation, "rename session", domain.ErrDeleteInProgress)
	}
	s.editingID = id
	ev := s.setRowLocked(id, RowSaving)
	s.mu.Unlock()
	s.emit(ev)

	err := s.backend.RenameSession(ctx, id, title)

	s.mu.Lock()
	s.editingID = ""
	events := []Event{s.setRowLocked(id, RowIdle)}
	if err != nil {
		events = append(events, s.failLocked("rename session", err))
	} else if idx := s.indexOfLocked(id); idx >= 0 {
		s.sessions[idx].Title = title
		events = append(events, Event{Type: EventSessionsChanged})
	}
	s.mu.Unlock()

	if err == nil {
		s.saveHistory(ctx)
	}
	s.emit(events...)
	return err
}

// DeleteSession is the confirming step of the two-step delete; RequestDelete
// must have been called first. On success the session leaves the history and,
// if it was active, the buffer and active pointer are cleared. On failure the
// history is unchanged and the row returns to idle.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.rowLocked(id) != RowConfirmingDelete {
		s.mu.Unlock()
		return domain.NewError(domain.KindValidation, "delete session", domain.ErrDeleteNotConfirmed)
	}
	ev := s.setRowLocked(id, RowDeleting)
	s.mu.Unlock()
	s.emit(ev)

	err := s.backend.DeleteSession(ctx, id)

	s.mu.Lock()
	var events []Event
	if err != nil {
		events = append(events, s.setRowLocked(id, RowIdle), s.failLocked("delete session", err))
		s.mu.Unlock()
		s.emit(events...)
		return err
	}

	delete(s.rows, id)
	if idx := s.indexOfLocked(id); idx >= 0 {
		s.sessions = append(s.sessions[:idx:idx], s.sessions[idx+1:]...)
	}
	events = append(events, Event{Type: EventSessionsChanged})
	if s.activeID == id {
		events = append(events, s.activateLocked("")...)
	}
	s.mu.Unlock()

	s.saveHistory(ctx)
	s.emit(events...)
	return nil
}

// SelectSession makes id the active session and loads its messages.
// Navigation is refused while a rename is in progress.
func (s *Store) SelectSession(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.editingID != "" {
		s.mu.Unlock()
		return domain.NewError(domain.KindValidation, "select session", domain.ErrEditInProgress)
	}
	s.mu.Unlock()

	return s.LoadMessages(ctx, id)
}

// activateLocked switches the active pointer, clears the buffer and
// supersedes any in-flight load. Callers hold s.mu.
func (s *Store) activateLocked(id string) []Event {
	changed := s.activeID != id
	s.activeID = id
	s.messages = nil
	s.loadSeq++
	wasLoading := s.loadingLocked()
	s.loadInFlight = false

	events := []Event{{Type: EventMessagesReplaced, SessionID: id}}
	if changed {
		events = append([]Event{{Type: EventActiveChanged, SessionID: id}}, events...)
	}
	if wasLoading != s.loadingLocked() {
		events = append(events, Event{Type: EventLoadingChanged, Loading: s.loadingLocked()})
	}
	return events
}
