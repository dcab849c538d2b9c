package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	middleware "github.com/tejulabs/corpora/internal/api/middlewares"
	"github.com/tejulabs/corpora/internal/core"
	"github.com/tejulabs/corpora/internal/models"
)

type fakeChatStreamer struct {
	gotUserID string
	gotMsgs   []core.ChatMessage
	fragments []string
	history   []models.ConversationMessage
}

func (f *fakeChatStreamer) Stream(_ context.Context, userID string, msgs []core.ChatMessage, emit func(string) error) error {
	f.gotUserID = userID
	f.gotMsgs = msgs
	for _, fr := range f.fragments {
		if err := emit(fr); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeChatStreamer) History(_ context.Context, _ string, _ int) ([]models.ConversationMessage, error) {
	return f.history, nil
}

func chatRequest(t *testing.T, userID string, body any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", bytes.NewReader(raw))
	return req.WithContext(middleware.WithUserID(req.Context(), userID))
}

func TestStreamChatAcceptsTranscript(t *testing.T) {
	fake := &fakeChatStreamer{fragments: []string{"All ", "set."}}
	h := NewChatHandler(fake)

	rec := httptest.NewRecorder()
	h.StreamChat(rec, chatRequest(t, "user-1", map[string]any{
		"userId": "user-1",
		"messages": []map[string]string{
			{"role": "user", "content": "What personas exist?"},
			{"role": "assistant", "content": "Concierge and analyst."},
			{"role": "user", "content": "Switch me to the analyst."},
		},
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "All set.", rec.Body.String())
	assert.Equal(t, "user-1", fake.gotUserID)
	require.Len(t, fake.gotMsgs, 3)
	assert.Equal(t, models.RoleUser, fake.gotMsgs[2].Role)
	assert.Equal(t, "Switch me to the analyst.", fake.gotMsgs[2].Content)
}

func TestStreamChatAcceptsSingleMessageShorthand(t *testing.T) {
	fake := &fakeChatStreamer{fragments: []string{"hi"}}
	h := NewChatHandler(fake)

	rec := httptest.NewRecorder()
	h.StreamChat(rec, chatRequest(t, "user-1", map[string]any{"message": "hello"}))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, fake.gotMsgs, 1)
	assert.Equal(t, models.RoleUser, fake.gotMsgs[0].Role)
	assert.Equal(t, "hello", fake.gotMsgs[0].Content)
}

func TestStreamChatRejectsEmptyBody(t *testing.T) {
	h := NewChatHandler(&fakeChatStreamer{})

	rec := httptest.NewRecorder()
	h.StreamChat(rec, chatRequest(t, "user-1", map[string]any{}))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamChatRejectsToolRole(t *testing.T) {
	h := NewChatHandler(&fakeChatStreamer{})

	rec := httptest.NewRecorder()
	h.StreamChat(rec, chatRequest(t, "user-1", map[string]any{
		"messages": []map[string]string{
			{"role": "tool", "content": `{"success":true}`},
			{"role": "user", "content": "hi"},
		},
	}))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamChatRejectsTranscriptNotEndingOnUser(t *testing.T) {
	h := NewChatHandler(&fakeChatStreamer{})

	rec := httptest.NewRecorder()
	h.StreamChat(rec, chatRequest(t, "user-1", map[string]any{
		"messages": []map[string]string{
			{"role": "user", "content": "hi"},
			{"role": "assistant", "content": "hello"},
		},
	}))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamChatRejectsForeignUserID(t *testing.T) {
	fake := &fakeChatStreamer{}
	h := NewChatHandler(fake)

	rec := httptest.NewRecorder()
	h.StreamChat(rec, chatRequest(t, "user-1", map[string]any{
		"userId":   "someone-else",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	}))

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, fake.gotUserID, "stream must not start for a mismatched user")
}

func TestGetHistoryServesVisibleTranscript(t *testing.T) {
	fake := &fakeChatStreamer{history: []models.ConversationMessage{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "hello"},
	}}
	h := NewChatHandler(fake)

	req := httptest.NewRequest(http.MethodGet, "/api/chat/history?limit=5", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), "user-1"))
	rec := httptest.NewRecorder()
	h.GetHistory(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got []models.ConversationMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
}
