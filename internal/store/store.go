// Package store is the client-side session and message state container. It
// owns the chat history, the active session and its message buffer, and keeps
// them in sync with the backend using optimistic updates.
package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/sparring/internal/domain"
)

// Backend is the REST surface the store synchronises with.
type Backend interface {
	CreateSession(ctx context.Context) (*domain.ChatSession, error)
	ListSessions(ctx context.Context, userID string) ([]domain.ChatSession, error)
	RenameSession(ctx context.Context, id, title string) error
	DeleteSession(ctx context.Context, id string) error
	ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error)
	SendMessage(ctx context.Context, req domain.SendRequest) (*domain.Message, error)
}

// HistoryCache persists the chat history between runs.
type HistoryCache interface {
	SaveSessions(ctx context.Context, sessions []domain.ChatSession) error
	LoadSessions(ctx context.Context) ([]domain.ChatSession, error)
}

// Store holds the client state. All methods are safe for concurrent use; the
// mutex is never held across a backend call.
type Store struct {
	backend Backend
	cache   HistoryCache
	logger  *slog.Logger
	userID  string
	now     func() time.Time
	newID   func() string

	mu       sync.Mutex
	sessions []domain.ChatSession
	activeID string
	messages []domain.Message
	lastErr  error

	// loadSeq identifies the newest message load. Any change of the active
	// session bumps it, so older loads find themselves stale on return.
	loadSeq      uint64
	loadInFlight bool
	sending      bool

	rows      map[string]RowState
	editingID string

	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithHistoryCache enables local persistence of the chat history.
func WithHistoryCache(c HistoryCache) Option {
	return func(s *Store) { s.cache = c }
}

// WithUserID scopes session listing to one user.
func WithUserID(id string) Option {
	return func(s *Store) { s.userID = id }
}

// WithClock overrides the time source for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store over backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		logger:  slog.Default(),
		now:     time.Now,
		newID:   func() string { return "tmp_" + uuid.NewString() },
		rows:    make(map[string]RowState),
		subs:    make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State is a point-in-time copy of the store.
type State struct {
	ActiveSessionID string               `json:"active_session_id"`
	Sessions        []domain.ChatSession `json:"sessions"`
	Messages        []domain.Message     `json:"messages"`
	Loading         bool                 `json:"loading"`
	Sending         bool                 `json:"sending"`
	Rows            map[string]RowState  `json:"rows"`
	Error           string               `json:"error,omitempty"`
	ErrorKind       domain.ErrorKind     `json:"error_kind,omitempty"`
}

// Snapshot returns a copy of the whole state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		ActiveSessionID: s.activeID,
		Sessions:        cloneSessions(s.sessions),
		Messages:        cloneMessages(s.messages),
		Loading:         s.loadingLocked(),
		Sending:         s.sending,
		Rows:            make(map[string]RowState, len(s.rows)),
	}
	for id, r := range s.rows {
		st.Rows[id] = r
	}
	if s.lastErr != nil {
		st.Error = domain.UserMessage(s.lastErr)
		st.ErrorKind = domain.KindOf(s.lastErr)
	}
	return st
}

// Sessions returns the chat history in server order.
func (s *Store) Sessions() []domain.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSessions(s.sessions)
}

// Messages returns the active session's message buffer.
func (s *Store) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMessages(s.messages)
}

// ActiveSessionID returns the active session id, or "" when none is active.
func (s *Store) ActiveSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Loading reports whether a message load or send is in flight.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadingLocked()
}

// LastError returns the most recent backend failure, or nil.
func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// ClearError dismisses the current error notification.
func (s *Store) ClearError() {
	s.mu.Lock()
	s.lastErr = nil
	s.mu.Unlock()
}

// Hydrate seeds the history from the cache so it can be shown before the
// first ListSessions completes. It never overwrites a history that is
// already populated.
func (s *Store) Hydrate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	cached, err := s.cache.LoadSessions(ctx)
	if err != nil {
		s.logger.Warn("failed to load cached history", "error", err)
		return
	}

	s.mu.Lock()
	if len(s.sessions) > 0 || len(cached) == 0 {
		s.mu.Unlock()
		return
	}
	s.sessions = cached
	s.mu.Unlock()

	s.emit(Event{Type: EventSessionsChanged})
}

func (s *Store) loadingLocked() bool {
	return s.loadInFlight || s.sending
}

// failLocked records err as the current notification and logs it. Callers hold
// s.mu. Validation failures are returned to the caller but not recorded.
func (s *Store) failLocked(op string, err error) Event {
	kind := domain.KindOf(err)
	if kind != domain.KindValidation {
		s.lastErr = err
		s.logger.Warn("backend call failed", "op", op, "kind", string(kind), "error", err)
	}
	return Event{Type: EventError, Error: domain.UserMessage(err), Kind: kind}
}

// saveHistory writes the history to the cache. Cache failures are logged and
// otherwise ignored.
func (s *Store) saveHistory(ctx context.Context) {
	if s.cache == nil {
		return
	}
	s.mu.Lock()
	sessions := cloneSessions(s.sessions)
	s.mu.Unlock()

	if err := s.cache.SaveSessions(ctx, sessions); err != nil {
		s.logger.Warn("failed to cache history", "error", err)
	}
}

func cloneSessions(in []domain.ChatSession) []domain.ChatSession {
	out := make([]domain.ChatSession, len(in))
	copy(out, in)
	return out
}

func cloneMessages(in []domain.Message) []domain.Message {
	out := make([]domain.Message, len(in))
	copy(out, in)
	return out
}

func (s *Store) indexOfLocked(id string) int {
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}
