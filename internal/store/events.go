package store

import "github.com/xiaot623/sparring/internal/domain"

// EventType names a state change.
type EventType string

const (
	EventSessionsChanged  EventType = "sessions_changed"
	EventActiveChanged    EventType = "active_changed"
	EventMessagesReplaced EventType = "messages_replaced"
	EventMessageAppended  EventType = "message_appended"
	EventMessageUpdated   EventType = "message_updated"
	EventLoadingChanged   EventType = "loading_changed"
	EventRowChanged       EventType = "row_changed"
	EventError            EventType = "error"
)

// Event describes a state change. Listeners re-read whatever they need from
// the store; the payload only carries what changed.
type Event struct {
	Type      EventType        `json:"type"`
	SessionID string           `json:"session_id,omitempty"`
	Message   *domain.Message  `json:"message,omitempty"`
	Row       RowState         `json:"row,omitempty"`
	Loading   bool             `json:"loading,omitempty"`
	Error     string           `json:"error,omitempty"`
	Kind      domain.ErrorKind `json:"kind,omitempty"`
}

// Subscribe registers fn for every subsequent event and returns a function
// that removes it. fn runs on the goroutine that caused the change, outside
// the store lock, so it may read the store but must not block for long.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	s.subMu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}
