package store

import (
	"context"

	"github.com/xiaot623/sparring/internal/domain"
)

// RowState is the UI-local state of one history row.
//
//	idle -> editing -> saving -> idle
//	idle -> confirming_delete -> deleting -> (removed | idle)
type RowState string

const (
	RowIdle             RowState = "idle"
	RowEditing          RowState = "editing"
	RowSaving           RowState = "saving"
	RowConfirmingDelete RowState = "confirming_delete"
	RowDeleting         RowState = "deleting"
)

// Row returns the state of a history row.
func (s *Store) Row(id string) RowState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rowLocked(id)
}

// Editing returns the id of the row being renamed, or "".
func (s *Store) Editing() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editingID
}

func (s *Store) rowLocked(id string) RowState {
	if r, ok := s.rows[id]; ok {
		return r
	}
	return RowIdle
}

func (s *Store) setRowLocked(id string, r RowState) Event {
	if r == RowIdle {
		delete(s.rows, id)
	} else {
		s.rows[id] = r
	}
	return Event{Type: EventRowChanged, SessionID: id, Row: r}
}

// BeginRename puts a row into editing and returns its current title. Only one
// row may be edited at a time. A pending delete confirmation on the row is
// dropped.
func (s *Store) BeginRename(id string) (string, error) {
	s.mu.Lock()
	idx := s.indexOfLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return "", domain.NewError(domain.KindValidation, "rename session", domain.ErrSessionNotFound)
	}
	if s.editingID != "" && s.editingID != id {
		s.mu.Unlock()
		return "", domain.NewError(domain.KindValidation, "rename session", domain.ErrEditInProgress)
	}
	if s.rowLocked(id) == RowDeleting {
		s.mu.Unlock()
		return "", domain.NewError(domain.KindValidation, "rename session", domain.ErrDeleteInProgress)
	}
	title := s.sessions[idx].Title
	s.editingID = id
	ev := s.setRowLocked(id, RowEditing)
	s.mu.Unlock()

	s.emit(ev)
	return title, nil
}

// CancelRename abandons an edit without touching the title.
func (s *Store) CancelRename(id string) {
	s.mu.Lock()
	if s.editingID != id || s.rowLocked(id) != RowEditing {
		s.mu.Unlock()
		return
	}
	s.editingID = ""
	ev := s.setRowLocked(id, RowIdle)
	s.mu.Unlock()

	s.emit(ev)
}

// CommitRename saves the title of a row that is being edited.
func (s *Store) CommitRename(ctx context.Context, id, title string) error {
	s.mu.Lock()
	editing := s.editingID == id && s.rowLocked(id) == RowEditing
	s.mu.Unlock()
	if !editing {
		return domain.NewError(domain.KindValidation, "rename session", domain.ErrNotEditing)
	}
	return s.RenameSession(ctx, id, title)
}

// RequestDelete is the first step of the two-step delete. A row that is
// being edited cannot be deleted.
func (s *Store) RequestDelete(id string) error {
	s.mu.Lock()
	if s.indexOfLocked(id) < 0 {
		s.mu.Unlock()
		return domain.NewError(domain.KindValidation, "delete session", domain.ErrSessionNotFound)
	}
	switch s.rowLocked(id) {
	case RowEditing, RowSaving:
		s.mu.Unlock()
		return domain.NewError(domain.KindValidation, "delete session", domain.ErrEditInProgress)
	case RowConfirmingDelete, RowDeleting:
		s.mu.Unlock()
		return nil
	}
	ev := s.setRowLocked(id, RowConfirmingDelete)
	s.mu.Unlock()

	s.emit(ev)
	return nil
}

// CancelDelete withdraws a delete request.
func (s *Store) CancelDelete(id string) {
	s.mu.Lock()
	if s.rowLocked(id) != RowConfirmingDelete {
		s.mu.Unlock()
		return
	}
	ev := s.setRowLocked(id, RowIdle)
	s.mu.Unlock()

	s.emit(ev)
}
