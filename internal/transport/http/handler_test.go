package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/sparring/internal/adapter/api"
	"github.com/xiaot623/sparring/internal/adapter/auth"
	"github.com/xiaot623/sparring/internal/domain"
	"github.com/xiaot623/sparring/internal/fakebackend"
	"github.com/xiaot623/sparring/internal/policy"
	"github.com/xiaot623/sparring/internal/service"
	"github.com/xiaot623/sparring/internal/store"
)

type bridge struct {
	url   string
	store *store.Store
}

func newBridge(t *testing.T) *bridge {
	t.Helper()
	backend := httptest.NewServer(fakebackend.New(fakebackend.Config{Token: "secret"}).NewEcho())
	t.Cleanup(backend.Close)

	client := api.NewClient(backend.URL, auth.StaticToken("secret"), time.Second)
	st := store.New(client)
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy, 1<<20)
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer(Deps{
		Store:     st,
		Policy:    engine,
		Dashboard: service.NewDashboard(client),
		UserID:    "u1",
	}))
	t.Cleanup(srv.Close)
	return &bridge{url: srv.URL, store: st}
}

func (b *bridge) do(t *testing.T, method, path string, body io.Reader, contentType string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, b.url+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func multipartBody(t *testing.T, text, fileName string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	require.NoError(t, w.WriteField("message", text))
	if fileName != "" {
		part, err := w.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}

func TestHealth(t *testing.T) {
	b := newBridge(t)
	resp, _ := b.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateSelectAndListSessions(t *testing.T) {
	b := newBridge(t)

	resp, data := b.do(t, http.MethodPost, "/api/sessions", nil, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	var created domain.ChatSession
	require.NoError(t, json.Unmarshal(data, &created))
	require.NotEmpty(t, created.ID)

	resp, data = b.do(t, http.MethodGet, "/api/sessions", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed struct {
		Sessions []domain.ChatSession `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(data, &listed))
	require.Len(t, listed.Sessions, 1)

	resp, data = b.do(t, http.MethodPost, "/api/sessions/"+created.ID+"/select", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var state store.State
	require.NoError(t, json.Unmarshal(data, &state))
	assert.Equal(t, created.ID, state.ActiveSessionID)
}

func TestRenameBlankTitleIsRejected(t *testing.T) {
	b := newBridge(t)
	s, err := b.store.CreateSession(context.Background())
	require.NoError(t, err)

	resp, data := b.do(t, http.MethodPatch, "/api/sessions/"+s.ID, strings.NewReader(`{"title":"   "}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, domain.KindValidation, body.Kind)
	assert.Equal(t, domain.ErrEmptyTitle.Error(), body.Error)

	resp, _ = b.do(t, http.MethodPatch, "/api/sessions/"+s.ID, strings.NewReader(`{"title":"Verbos"}`), "application/json")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Verbos", b.store.Sessions()[0].Title)
}

func TestDeleteNeedsConfirmation(t *testing.T) {
	b := newBridge(t)
	s, err := b.store.CreateSession(context.Background())
	require.NoError(t, err)

	resp, _ := b.do(t, http.MethodDelete, "/api/sessions/"+s.ID, nil, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = b.do(t, http.MethodPost, "/api/sessions/"+s.ID+"/delete-request", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = b.do(t, http.MethodDelete, "/api/sessions/"+s.ID+"/delete-request", nil, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = b.do(t, http.MethodDelete, "/api/sessions/"+s.ID, nil, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	b.do(t, http.MethodPost, "/api/sessions/"+s.ID+"/delete-request", nil, "")
	resp, _ = b.do(t, http.MethodDelete, "/api/sessions/"+s.ID, nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, b.store.Sessions())
	assert.Empty(t, b.store.ActiveSessionID())
}

func TestSendTextMessage(t *testing.T) {
	b := newBridge(t)

	body, ct := multipartBody(t, "Hola", "", nil)
	resp, data := b.do(t, http.MethodPost, "/api/messages", body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var out SendResponse
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, out.Sent)
	require.NotNil(t, out.Message)
	assert.Equal(t, "Hola", out.Message.Text())

	assert.Len(t, b.store.Messages(), 2)
	assert.Equal(t, "Hola", b.store.Sessions()[0].Title)
}

func TestSendEmptyMessageIsNoop(t *testing.T) {
	b := newBridge(t)

	body, ct := multipartBody(t, "   ", "", nil)
	resp, data := b.do(t, http.MethodPost, "/api/messages", body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out SendResponse
	require.NoError(t, json.Unmarshal(data, &out))
	assert.False(t, out.Sent)
	assert.Empty(t, b.store.Sessions())
}

func TestSendImageAttachment(t *testing.T) {
	b := newBridge(t)
	png := []byte("\x89PNG\r\n\x1a\n0000")

	body, ct := multipartBody(t, "", "photo.png", png)
	resp, data := b.do(t, http.MethodPost, "/api/messages", body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	msgs := b.store.Messages()
	require.Len(t, msgs, 2)
	img, ok := msgs[0].Content.(domain.ImageContent)
	require.True(t, ok, "expected image content, got %T", msgs[0].Content)
	assert.Equal(t, domain.DefaultImageCaption, img.Text)
}

func TestSendRejectsUnsupportedFile(t *testing.T) {
	b := newBridge(t)

	body, ct := multipartBody(t, "mira", "tool.exe", []byte("MZ\x90\x00"))
	resp, data := b.do(t, http.MethodPost, "/api/messages", body, ct)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var out ErrorResponse
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, domain.KindValidation, out.Kind)
	assert.Empty(t, b.store.Messages())
}

func TestDashboard(t *testing.T) {
	b := newBridge(t)

	resp, data := b.do(t, http.MethodGet, "/api/dashboard", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var dash domain.Dashboard
	require.NoError(t, json.Unmarshal(data, &dash))
	assert.Equal(t, 7, dash.Stats.WeeklyProgress.DaysTotal)
}

func TestStatusForKinds(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrEmptyTitle, http.StatusBadRequest},
		{domain.ErrEditInProgress, http.StatusConflict},
		{domain.ErrSessionNotFound, http.StatusNotFound},
		{domain.NewError(domain.KindAuth, "op", domain.ErrNoToken), http.StatusUnauthorized},
		{domain.NewError(domain.KindRateLimited, "op", domain.ErrRateLimited), http.StatusTooManyRequests},
		{domain.NewError(domain.KindNetwork, "op", io.EOF), http.StatusBadGateway},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err, domain.KindOf(tc.err)), tc.err.Error())
	}
}
