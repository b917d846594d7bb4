package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"endochat/internal/domain"
	"endochat/internal/service"
	"endochat/internal/storage"
)

type fakeChat struct {
	got   service.ChatRequest
	reply service.ChatReply
	err   error
}

func (f *fakeChat) Reply(_ context.Context, req service.ChatRequest) (service.ChatReply, error) {
	f.got = req
	return f.reply, f.err
}

type testEnv struct {
	e    *echo.Echo
	chat *fakeChat
	conv *storage.ConversationStore
	attr *storage.AttributionStore
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	d, err := storage.OpenDir(t.TempDir())
	require.NoError(t, err)
	conv := storage.NewConversationStore(d)
	attr := storage.NewAttributionStore(d)
	chat := &fakeChat{}
	h := NewHandler(chat, attr, conv, "/static/images", func() bool { return true })
	return testEnv{e: NewServer(h), chat: chat, conv: conv, attr: attr}
}

func (env testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func TestChat_Success(t *testing.T) {
	env := newTestEnv(t)
	env.chat.reply = service.ChatReply{
		Response: "Answer.\n\nSources: guide.pdf (page 3)",
		History:  domain.History{{Role: domain.RoleUser, Content: "q"}, {Role: domain.RoleAssistant, Content: "Answer."}},
		Sources:  []domain.Source{{Filename: "guide.pdf", Page: domain.PageNumber(3)}},
		Images:   []domain.ImageMatch{{ImageEntry: domain.ImageEntry{Filename: "gestion hypo.png", PageNumber: 12}, Score: 2}},
	}

	rec := env.do(http.MethodPost, "/chat", `{"message":"q","user_id":"alice","language":"fr-FR","conversation_history":["hi","hello"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))

	assert.Equal(t, "alice", env.chat.got.UserID)
	assert.Equal(t, domain.LanguageFrench, env.chat.got.Language)
	assert.Equal(t, domain.History{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "hello"},
	}, env.chat.got.History)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Answer.\n\nSources: guide.pdf (page 3)", body["response"])
	sources := body["sources"].([]any)
	require.Len(t, sources, 1)
	assert.Equal(t, map[string]any{"filename": "guide.pdf", "page": float64(3)}, sources[0])
	images := body["images"].([]any)
	require.Len(t, images, 1)
	img := images[0].(map[string]any)
	assert.Equal(t, "/static/images/gestion%20hypo.png", img["url"])
	assert.Equal(t, float64(2), img["score"])
	assert.Equal(t, float64(12), img["page_number"])
}

func TestChat_HistoryAbsentUsesStore(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/chat", `{"message":"q","user_id":"alice"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, env.chat.got.History)

	rec = env.do(http.MethodPost, "/chat", `{"message":"q","conversation_history":[]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, env.chat.got.History)
	assert.Empty(t, env.chat.got.History)
}

func TestChat_Validation(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/chat", `{"message":"  "}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/chat", `{"message":`).Code)
}

func TestChat_GeneratorFailure(t *testing.T) {
	env := newTestEnv(t)
	env.chat.err = errors.New("rate limited")
	env.chat.reply = service.ChatReply{History: domain.History{{Role: domain.RoleUser, Content: "q"}}}

	rec := env.do(http.MethodPost, "/chat", `{"message":"q","user_id":"bob"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "conversation_history")
	assert.NotContains(t, rec.Body.String(), "rate limited")
}

func TestSourcesAndImages(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.attr.SaveSources("alice", []domain.Source{{Filename: "guide.pdf", Page: domain.PageLabel("xi")}}))
	require.NoError(t, env.attr.SaveImages("alice", []domain.ImageMatch{{ImageEntry: domain.ImageEntry{Filename: "a.png"}, Score: 1}}))

	rec := env.do(http.MethodGet, "/sources?user_id=alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sources":[{"filename":"guide.pdf","page":"xi"}]}`, rec.Body.String())

	rec = env.do(http.MethodGet, "/images?user_id=alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"url":"/static/images/a.png"`)

	rec = env.do(http.MethodGet, "/sources?user_id=nobody", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sources":[]}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/images", "").Code)
}

func TestDeleteConversation(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.conv.Save("alice", domain.History{{Role: domain.RoleUser, Content: "hi"}}))
	require.NoError(t, env.attr.SaveSources("alice", []domain.Source{{Filename: "guide.pdf"}}))

	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, "/conversations/alice", "").Code)
	assert.Empty(t, env.conv.Load("alice"))
	sources, err := env.attr.LoadSources("alice")
	require.NoError(t, err)
	assert.Empty(t, sources)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, "/conversations/alice", "").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","index_ready":true}`, rec.Body.String())

	rec = env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "endochat_")
}

func TestRequestIDIsEchoed(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(echo.HeaderXRequestID, "req_fixed")
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, "req_fixed", rec.Header().Get(echo.HeaderXRequestID))
}

func TestRequestIDGeneratedAndLogged(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/healthz", "")

	id := rec.Header().Get(echo.HeaderXRequestID)
	assert.True(t, strings.HasPrefix(id, "req_"), id)
	assert.Len(t, id, len("req_")+8)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, id, entry["request_id"])
	assert.Equal(t, "/healthz", entry["path"])
	assert.Equal(t, float64(http.StatusOK), entry["status"])
}
