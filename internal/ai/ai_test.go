package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/config"
	"chat-sync/internal/model"
)

func completionServer(t *testing.T, reply string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, "system", req.Messages[0].Role)

		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(ChatCompletionResponse{
			Choices: []ChatChoice{{Message: RequestMessage{Role: "assistant", Content: reply}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(url string) *Client {
	return NewClient(config.AIConfig{BaseURL: url, APIKey: "key", Model: "test-model", Timeout: time.Second})
}

var transcript = []model.Message{
	{Role: model.RoleSystem, Content: "ignored"},
	{Role: model.RoleUser, Content: "How do I bake bread?"},
	{Role: model.RoleAssistant, Content: "Start with flour."},
}

func TestClient_GenerateTitle(t *testing.T) {
	srv := completionServer(t, "\"Baking Bread Basics\"", http.StatusOK)
	title, err := newTestClient(srv.URL).GenerateTitle(context.Background(), transcript)
	require.NoError(t, err)
	assert.Equal(t, "\"Baking Bread Basics\"", title)
}

func TestClient_UpstreamError(t *testing.T) {
	srv := completionServer(t, "", http.StatusInternalServerError)
	_, err := newTestClient(srv.URL).GenerateTitle(context.Background(), transcript)
	assert.Error(t, err)
}

func TestClient_Disabled(t *testing.T) {
	_, err := NewClient(config.AIConfig{}).GenerateTitle(context.Background(), transcript)
	assert.ErrorIs(t, err, ErrDisabled)
}

type stubGenerator struct {
	title     string
	followups []string
	err       error
}

func (s stubGenerator) GenerateTitle(context.Context, []model.Message) (string, error) {
	return s.title, s.err
}

func (s stubGenerator) SuggestFollowups(context.Context, []model.Message) ([]string, error) {
	return s.followups, s.err
}

func TestFallback_OnError(t *testing.T) {
	f := WithFallback(stubGenerator{err: errors.New("timeout")}, nil)

	title, err := f.GenerateTitle(context.Background(), transcript)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultTitle, title)

	followups, err := f.SuggestFollowups(context.Background(), transcript)
	require.NoError(t, err)
	assert.NotNil(t, followups)
	assert.Empty(t, followups)
}

func TestFallback_CleansOutput(t *testing.T) {
	f := WithFallback(stubGenerator{
		title:     "Title: \"Sourdough starter tips.\"\nextra line",
		followups: []string{"1. How long to proof?", "", "- What flour?", "c", "d", "e", "f"},
	}, nil)

	title, err := f.GenerateTitle(context.Background(), transcript)
	require.NoError(t, err)
	assert.Equal(t, "Sourdough starter tips", title)

	followups, err := f.SuggestFollowups(context.Background(), transcript)
	require.NoError(t, err)
	assert.Len(t, followups, MaxFollowups)
	assert.Equal(t, "How long to proof?", followups[0])
	assert.Equal(t, "What flour?", followups[1])
}

func TestFallback_EmptyTitle(t *testing.T) {
	f := WithFallback(stubGenerator{title: "  \"\" "}, nil)
	title, err := f.GenerateTitle(context.Background(), transcript)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultTitle, title)
}
