package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/sparring/internal/domain"
	"github.com/xiaot623/sparring/internal/repository"
)

// scriptedBackend is an in-memory Backend whose calls can be failed or held.
type scriptedBackend struct {
	mu       sync.Mutex
	sessions []domain.ChatSession
	messages map[string][]domain.Message
	calls    map[string]int
	nextID   int

	createErr error
	listErr   error
	renameErr error
	deleteErr error
	loadErr   error
	sendErr   error

	// holdLoad and holdSend, when set, run inside the call before it returns.
	holdLoad func(sessionID string)
	holdSend func(req domain.SendRequest)
}

func newScriptedBackend() *scriptedBackend {
	return &scriptedBackend{
		messages: make(map[string][]domain.Message),
		calls:    make(map[string]int),
	}
}

func (b *scriptedBackend) count(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

func (b *scriptedBackend) id(prefix string) string {
	b.nextID++
	return fmt.Sprintf("%s%d", prefix, b.nextID)
}

func (b *scriptedBackend) CreateSession(ctx context.Context) (*domain.ChatSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["create"]++
	if b.createErr != nil {
		return nil, b.createErr
	}
	s := domain.ChatSession{ID: b.id("s"), Title: domain.DefaultSessionTitle, CreatedAt: time.Now()}
	b.sessions = append(b.sessions, s)
	return &s, nil
}

func (b *scriptedBackend) ListSessions(ctx context.Context, userID string) ([]domain.ChatSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["list"]++
	if b.listErr != nil {
		return nil, b.listErr
	}
	return append([]domain.ChatSession{}, b.sessions...), nil
}

func (b *scriptedBackend) RenameSession(ctx context.Context, id, title string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["rename"]++
	if b.renameErr != nil {
		return b.renameErr
	}
	for i := range b.sessions {
		if b.sessions[i].ID == id {
			b.sessions[i].Title = title
		}
	}
	return nil
}

func (b *scriptedBackend) DeleteSession(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["delete"]++
	if b.deleteErr != nil {
		return b.deleteErr
	}
	for i := range b.sessions {
		if b.sessions[i].ID == id {
			b.sessions = append(b.sessions[:i], b.sessions[i+1:]...)
			break
		}
	}
	delete(b.messages, id)
	return nil
}

func (b *scriptedBackend) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	b.mu.Lock()
	b.calls["load"]++
	hold := b.holdLoad
	err := b.loadErr
	msgs := append([]domain.Message{}, b.messages[sessionID]...)
	b.mu.Unlock()

	if hold != nil {
		hold(sessionID)
	}
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (b *scriptedBackend) SendMessage(ctx context.Context, req domain.SendRequest) (*domain.Message, error) {
	b.mu.Lock()
	b.calls["send"]++
	hold := b.holdSend
	b.mu.Unlock()

	if hold != nil {
		hold(req)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return nil, b.sendErr
	}
	user := domain.Message{ID: b.id("m"), SessionID: req.SessionID, Sender: domain.SenderUser, Content: domain.TextContent{Text: req.Text}, Delivery: domain.DeliverySent}
	reply := domain.Message{ID: b.id("m"), SessionID: req.SessionID, Sender: domain.SenderAssistant, Content: domain.TextContent{Text: "¡Hola! ¿Cómo estás?"}, Delivery: domain.DeliverySent}
	if len(b.messages[req.SessionID]) == 0 {
		for i := range b.sessions {
			if b.sessions[i].ID == req.SessionID && b.sessions[i].Untitled() {
				b.sessions[i].Title = domain.DeriveTitle(req.Text)
			}
		}
	}
	b.messages[req.SessionID] = append(b.messages[req.SessionID], user, reply)
	return &reply, nil
}

func (b *scriptedBackend) seed(id, title string, msgs ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions = append(b.sessions, domain.ChatSession{ID: id, Title: title})
	for _, text := range msgs {
		b.messages[id] = append(b.messages[id], domain.Message{
			ID:        b.id("m"),
			SessionID: id,
			Sender:    domain.SenderUser,
			Content:   domain.TextContent{Text: text},
			Delivery:  domain.DeliverySent,
		})
	}
}

func rateLimited() error {
	return domain.NewError(domain.KindRateLimited, "send message", domain.ErrRateLimited)
}

func TestCreateSessionAssignsDistinctIDs(t *testing.T) {
	ctx := context.Background()
	s := New(newScriptedBackend())

	a, err := s.CreateSession(ctx)
	require.NoError(t, err)
	b, err := s.CreateSession(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, b.ID, s.ActiveSessionID())
	assert.Empty(t, s.Messages())
	assert.Len(t, s.Sessions(), 2)
}

func TestCreateSessionFailureLeavesState(t *testing.T) {
	backend := newScriptedBackend()
	backend.createErr = domain.NewError(domain.KindNetwork, "create session", errors.New("boom"))
	s := New(backend)

	_, err := s.CreateSession(context.Background())
	require.Error(t, err)
	assert.Empty(t, s.Sessions())
	assert.Empty(t, s.ActiveSessionID())
	assert.Equal(t, domain.KindNetwork, domain.KindOf(s.LastError()))
}

func TestListSessionsKeepsServerOrder(t *testing.T) {
	backend := newScriptedBackend()
	backend.seed("b", "Second")
	backend.seed("a", "First")
	s := New(backend)

	sessions, err := s.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "b", sessions[0].ID)
	assert.Equal(t, "a", s.Sessions()[1].ID)
}

func TestListSessionsFailureEmptiesHistory(t *testing.T) {
	backend := newScriptedBackend()
	backend.seed("a", "First")
	s := New(backend)
	_, err := s.ListSessions(context.Background())
	require.NoError(t, err)

	backend.listErr = domain.NewError(domain.KindNetwork, "list sessions", errors.New("down"))
	_, err = s.ListSessions(context.Background())
	require.Error(t, err)
	assert.Empty(t, s.Sessions())
	assert.Error(t, s.LastError())

	s.ClearError()
	assert.NoError(t, s.LastError())
}

func TestRenameBlankTitleNeverReachesBackend(t *testing.T) {
	backend := newScriptedBackend()
	backend.seed("a", "Original")
	s := New(backend)
	_, err := s.ListSessions(context.Background())
	require.NoError(t, err)

	for _, title := range []string{"", "   ", "\t\n"} {
		err := s.RenameSession(context.Background(), "a", title)
		require.ErrorIs(t, err, domain.ErrEmptyTitle)
		assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	}
	assert.Zero(t, backend.count("rename"))
	assert.Equal(t, "Original", s.Sessions()[0].Title)
	assert.NoError(t, s.LastError())
}

func TestRenameUpdatesTitleInPlace(t *testing.T) {
	backend := newScriptedBackend()
	backend.seed("a", "One")
	backend.seed("b", "Two")
	s := New(backend)
	_, err := s.ListSessions(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.RenameSession(context.Background(), "b", "  Verbos  "))

	sessions := s.Sessions()
	assert.Equal(t, "b", sessions[1].ID)
	assert.Equal(t, "Verbos", sessions[1].Title)
	assert.Equal(t, RowIdle, s.Row("b"))
}

func TestRenameFailureKeepsTitle(t *testing.T) {
	backend := newScriptedBackend()
	backend.seed("a", "One")
	backend.renameErr = domain.NewError(domain.KindNetwork, "rename session", errors.New("down"))
	s := New(backend)
	_, err := s.ListSessions(context.Background())
	require.NoError(t, err)

	require.Error(t, s.RenameSession(context.Background(), "a", "Nuevo"))
	assert.Equal(t, "One", s.Sessions()[0].Title)
	assert.Equal(t, RowIdle, s.Row("a"))
	assert.Empty(t, s.Editing())
}

func TestDeleteActiveSessionClearsBuffer(t *testing.T) {
	ctx := context.Background()
	backend := newScriptedBackend()
	backend.seed("a", "One", "hola")
	backend.seed("b", "Two")
	s := New(backend)
	_, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SelectSession(ctx, "a"))
	require.Len(t, s.Messages(), 1)

	err = s.DeleteSession(ctx, "a")
	require.ErrorIs(t, err, domain.ErrDeleteNotConfirmed)
	assert.Zero(t, backend.count("delete"))

	require.NoError(t, s.RequestDelete("a"))
	assert.Equal(t, RowConfirmingDelete, s.Row("a"))
	require.NoError(t, s.DeleteSession(ctx, "a"))

	assert.Empty(t, s.ActiveSessionID())
	assert.Empty(t, s.Messages())
	require.Len(t, s.Sessions(), 1)
	assert.Equal(t, "b", s.Sessions()[0].ID)
}

func TestDeleteInactiveSessionKeepsActive(t *testing.T) {
	ctx := context.Background()
	backend := newScriptedBackend()
	backend.seed("a", "One", "hola")
	backend.seed("b", "Two")
	s := New(backend)
	_, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SelectSession(ctx, "a"))

	require.NoError(t, s.RequestDelete("b"))
	require.NoError(t, s.DeleteSession(ctx, "b"))

	assert.Equal(t, "a", s.ActiveSessionID())
	assert.Len(t, s.Messages(), 1)
}

func TestDeleteFailureReturnsRowToIdle(t *testing.T) {
	ctx := context.Background()
	backend := newScriptedBackend()
	backend.seed("a", "One")
	backend.deleteErr = domain.NewError(domain.KindNetwork, "delete session", errors.New("down"))
	s := New(backend)
	_, err := s.ListSessions(ctx)
	require.NoError(t, err)

	require.NoError(t, s.RequestDelete("a"))
	require.Error(t, s.DeleteSession(ctx, "a"))
	assert.Equal(t, RowIdle, s.Row("a"))
	assert.Len(t, s.Sessions(), 1)
}

func TestRowTransitions(t *testing.T) {
	ctx := context.Background()
	backend := newScriptedBackend()
	backend.seed("a", "One")
	backend.seed("b", "Two")
	s := New(backend)
	_, err := s.ListSessions(ctx)
	require.NoError(t, err)

	title, err := s.BeginRename("a")
	require.NoError(t, err)
	assert.Equal(t, "One", title)
	assert.Equal(t, RowEditing, s.Row("a"))

	_, err = s.BeginRename("b")
	require.ErrorIs(t, err, domain.ErrEditInProgress)
	require.ErrorIs(t, s.RequestDelete("a"), domain.ErrEditInProgress)
	require.ErrorIs(t, s.SelectSession(ctx, "b"), domain.ErrEditInProgress)

	s.CancelRename("a")
	assert.Equal(t, RowIdle, s.Row("a"))
	assert.Equal(t, "One", s.Sessions()[0].Title)

	require.ErrorIs(t, s.CommitRename(ctx, "a", "Nuevo"), domain.ErrNotEditing)

	_, err = s.BeginRename("a")
	require.NoError(t, err)
	require.NoError(t, s.CommitRename(ctx, "a", "Nuevo"))
	assert.Equal(t, "Nuevo", s.Sessions()[0].Title)
	assert.Empty(t, s.Editing())

	require.NoError(t, s.RequestDelete("b"))
	s.CancelDelete("b")
	assert.Equal(t, RowIdle, s.Row("b"))
}

func TestSendEmptyDraftIsNoop(t *testing.T) {
	backend := newScriptedBackend()
	s := New(backend)

	for _, text := range []string{"", "  ", "\n\t"} {
		msg, err := s.Send(context.Background(), domain.Draft{Text: text})
		require.NoError(t, err)
		assert.Nil(t, msg)
	}
	assert.Zero(t, backend.count("send"))
	assert.Zero(t, backend.count("create"))
	assert.Empty(t, s.Messages())
}

func TestSendAppendsOptimisticallyBeforeBackendResolves(t *testing.T) {
	ctx := context.Background()
	backend := newScriptedBackend()
	entered := make(chan struct{})
	release := make(chan struct{})
	backend.holdSend = func(domain.SendRequest) {
		close(entered)
		<-release
	}
	s := New(backend)
	_, err := s.CreateSession(ctx)
	require.NoError(t, err)

	var events []Event
	var evMu sync.Mutex
	s.Subscribe(func(ev Event) {
		evMu.Lock()
		events = append(events, ev)
		evMu.Unlock()
	})

	done := make(chan *domain.Message, 1)
	go func() {
		msg, err := s.Send(ctx, domain.Draft{Text: "Hola"})
		assert.NoError(t, err)
		done <- msg
	}()
	<-entered

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.SenderUser, msgs[0].Sender)
	assert.Equal(t, domain.DeliveryPending, msgs[0].Delivery)
	assert.Equal(t, "Hola", msgs[0].Text())
	assert.True(t, s.Loading())

	// A second send while the first is in flight is ignored.
	msg, err := s.Send(ctx, domain.Draft{Text: "otra"})
	require.NoError(t, err)
	assert.Nil(t, msg)

	close(release)
	sent := <-done
	require.NotNil(t, sent)
	assert.Equal(t, domain.DeliverySent, sent.Delivery)

	msgs = s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.DeliverySent, msgs[0].Delivery)
	assert.Equal(t, domain.SenderAssistant, msgs[1].Sender)
	assert.False(t, s.Loading())
	assert.Equal(t, 1, backend.count("send"))

	evMu.Lock()
	defer evMu.Unlock()
	var types []EventType
	for _, ev := range events {
		if ev.Type == EventMessageAppended || ev.Type == EventMessageUpdated {
			types = append(types, ev.Type)
		}
	}
	assert.Equal(t, []EventType{EventMessageAppended, EventMessageUpdated, EventMessageAppended}, types)
}

func TestSendFailureMarksMessageFailed(t *testing.T) {
	ctx := context.Background()
	backend := newScriptedBackend()
	backend.sendErr = rateLimited()
	s := New(backend)
	_, err := s.CreateSession(ctx)
	require.NoError(t, err)

	msg, err := s.Send(ctx, domain.Draft{Text: "Hola"})
	require.Error(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, domain.DeliveryFailed, msg.Delivery)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.DeliveryFailed, msgs[0].Delivery)
	assert.Equal(t, domain.KindRateLimited, domain.KindOf(s.LastError()))
	assert.Equal(t, domain.RateLimitedMessage, s.Snapshot().Error)
	assert.False(t, s.Loading())
}

func TestSendCreatesSessionWhenNoneActive(t *testing.T) {
	ctx := context.Background()
	backend := newScriptedBackend()
	s := New(backend)

	msg, err := s.Send(ctx, domain.Draft{Text: "Hola"})
	require.NoError(t, err)
	require.NotNil(t, msg)

	require.Len(t, s.Sessions(), 1)
	assert.Equal(t, s.Sessions()[0].ID, s.ActiveSessionID())
	assert.Equal(t, "Hola", s.Sessions()[0].Title)
	assert.Len(t, s.Messages(), 2)
	assert.Equal(t, 1, backend.count("create"))
}

func TestSendImplicitCreateFailureKeepsDraft(t *testing.T) {
	backend := newScriptedBackend()
	backend.createErr = domain.NewError(domain.KindNetwork, "create session", errors.New("down"))
	s := New(backend)

	msg, err := s.Send(context.Background(), domain.Draft{Text: "Hola"})
	require.Error(t, err)
	assert.Nil(t, msg)
	assert.Empty(t, s.Messages())
	assert.Zero(t, backend.count("send"))
	assert.False(t, s.Loading())
}

func TestSendImageWithoutTextCarriesDefaultCaption(t *testing.T) {
	ctx := context.Background()
	backend := newScriptedBackend()
	var sent domain.SendRequest
	backend.holdSend = func(req domain.SendRequest) { sent = req }
	s := New(backend)

	img := &domain.Attachment{Kind: domain.AttachmentImage, Name: "photo.png", MIMEType: "image/png", Data: []byte("png")}
	msg, err := s.Send(ctx, domain.Draft{Attachment: img})
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Equal(t, domain.DefaultImageCaption, msg.Text())
	assert.Equal(t, domain.DefaultImageCaption, sent.Text)
	assert.Equal(t, img, sent.Attachment)
}

func TestSendDerivesProvisionalTitle(t *testing.T) {
	ctx := context.Background()
	backend := newScriptedBackend()
	entered := make(chan struct{})
	release := make(chan struct{})
	backend.holdSend = func(domain.SendRequest) {
		close(entered)
		<-release
	}
	s := New(backend)
	_, err := s.CreateSession(ctx)
	require.NoError(t, err)

	long := "Quiero practicar el subjuntivo con ejemplos cotidianos"
	go s.Send(ctx, domain.Draft{Text: long})
	<-entered

	assert.Equal(t, domain.DeriveTitle(long), s.Sessions()[0].Title)
	close(release)
	require.Eventually(t, func() bool { return !s.Loading() }, time.Second, 5*time.Millisecond)
}

func TestStaleMessageLoadIsDiscarded(t *testing.T) {
	ctx := context.Background()
	backend := newScriptedBackend()
	backend.seed("a", "One", "from a")
	backend.seed("b", "Two", "from b", "more b")

	entered := make(chan struct{})
	release := make(chan struct{})
	backend.holdLoad = func(id string) {
		if id == "a" {
			close(entered)
			<-release
		}
	}
	s := New(backend)

	done := make(chan error, 1)
	go func() { done <- s.LoadMessages(ctx, "a") }()
	<-entered

	require.NoError(t, s.LoadMessages(ctx, "b"))
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, "b", s.ActiveSessionID())
	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "from b", msgs[0].Text())
	assert.False(t, s.Loading())
}

func TestSupersededLoadReportsStale(t *testing.T) {
	ctx := context.Background()
	backend := newScriptedBackend()
	backend.seed("a", "One", "from a")
	backend.seed("b", "Two", "from b")

	entered := make(chan struct{})
	release := make(chan struct{})
	backend.holdLoad = func(id string) {
		if id == "a" {
			close(entered)
			<-release
		}
	}
	s := New(backend)

	done := make(chan error, 1)
	go func() { done <- s.loadMessages(ctx, "a") }()
	<-entered
	require.NoError(t, s.LoadMessages(ctx, "b"))
	close(release)

	err := <-done
	require.ErrorIs(t, err, domain.ErrStaleResponse)
	assert.Equal(t, domain.KindStale, domain.KindOf(err))
	assert.NoError(t, s.LastError())
	assert.Equal(t, "from b", s.Messages()[0].Text())
}

func TestLoadFailureClearsBuffer(t *testing.T) {
	ctx := context.Background()
	backend := newScriptedBackend()
	backend.seed("a", "One", "hola")
	s := New(backend)
	require.NoError(t, s.LoadMessages(ctx, "a"))
	require.Len(t, s.Messages(), 1)

	backend.loadErr = domain.NewError(domain.KindNetwork, "load messages", errors.New("down"))
	require.Error(t, s.LoadMessages(ctx, "a"))
	assert.Empty(t, s.Messages())
	assert.Equal(t, "a", s.ActiveSessionID())
	assert.False(t, s.Loading())
}

func TestHydrateFromHistoryCache(t *testing.T) {
	ctx := context.Background()
	cache, err := repository.NewHistoryCache(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	backend := newScriptedBackend()
	backend.seed("a", "One")
	backend.seed("b", "Two")
	first := New(backend, WithHistoryCache(cache))
	_, err = first.ListSessions(ctx)
	require.NoError(t, err)

	second := New(newScriptedBackend(), WithHistoryCache(cache))
	second.Hydrate(ctx)
	sessions := second.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "a", sessions[0].ID)
	assert.Equal(t, "Two", sessions[1].Title)
}

func TestSubscribeUnsubscribe(t *testing.T) {
	s := New(newScriptedBackend())
	var n int
	unsubscribe := s.Subscribe(func(Event) { n++ })

	_, err := s.CreateSession(context.Background())
	require.NoError(t, err)
	seen := n
	assert.Positive(t, seen)

	unsubscribe()
	_, err = s.CreateSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, seen, n)
}
