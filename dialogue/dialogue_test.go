package dialogue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krau/sketchline/apperr"
)

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt("")
	assert.True(t, strings.HasPrefix(p, "Generate a single short line of dialogue"))
	assert.Contains(t, p, "facial expressions")
	assert.Contains(t, p, "they are not doodles they are real!")
	assert.NotContains(t, p, "The other character just said")

	p = BuildPrompt("Hello")
	assert.Contains(t, p, "The other character just said: 'Hello'.")
	assert.True(t, strings.HasSuffix(p, "Don't repeat the same sentiment or themes from previous dialogue."))
}

func TestPositionInFrame(t *testing.T) {
	assert.True(t, DefaultPosition.InFrame())
	assert.True(t, Position{X: 0, Y: 1}.InFrame())
	assert.False(t, Position{X: -0.1, Y: 0.5}.InFrame())
	assert.False(t, Position{X: 0.5, Y: 1.5}.InFrame())
}

func TestImageURL(t *testing.T) {
	assert.Equal(t, "data:image/jpeg;base64,AAAA", imageURL("AAAA"))
	assert.Equal(t, "data:image/png;base64,AAAA", imageURL("data:image/png;base64,AAAA"))
}

type chatRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	Messages  []struct {
		Role    string `json:"role"`
		Content []struct {
			Type     string `json:"type"`
			Text     string `json:"text"`
			ImageURL struct {
				URL string `json:"url"`
			} `json:"image_url"`
		} `json:"content"`
	} `json:"messages"`
}

func newUpstream(t *testing.T, handler func(w http.ResponseWriter, req chatRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		handler(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func reply(w http.ResponseWriter, content ...string) {
	choices := make([]map[string]any, 0, len(content))
	for i, c := range content {
		choices = append(choices, map[string]any{
			"index":         i,
			"message":       map[string]any{"role": "assistant", "content": c},
			"finish_reason": "stop",
		})
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"model":   "gpt-4o",
		"choices": choices,
	})
}

func TestGenerate(t *testing.T) {
	requests := make(chan chatRequest, 1)
	srv := newUpstream(t, func(w http.ResponseWriter, req chatRequest) {
		requests <- req
		reply(w, "That cat hat suits you.", "unused")
	})

	c := NewClient(Options{APIKey: "test-key", BaseURL: srv.URL + "/v1/"})
	line, err := c.Generate(context.Background(), Request{
		Image:            "data:image/png;base64,AAAA",
		PreviousDialogue: "Hello",
		Position:         DefaultPosition,
	})
	require.NoError(t, err)
	assert.Equal(t, "That cat hat suits you.", line)

	got := <-requests
	assert.Equal(t, DefaultModel, got.Model)
	assert.Equal(t, 50, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	require.Len(t, got.Messages[0].Content, 2)
	assert.Equal(t, "text", got.Messages[0].Content[0].Type)
	assert.Contains(t, got.Messages[0].Content[0].Text, "'Hello'")
	assert.Equal(t, "image_url", got.Messages[0].Content[1].Type)
	assert.Equal(t, "data:image/png;base64,AAAA", got.Messages[0].Content[1].ImageURL.URL)
}

func TestGenerateUpstreamError(t *testing.T) {
	srv := newUpstream(t, func(w http.ResponseWriter, _ chatRequest) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"model overloaded","type":"server_error"}}`))
	})
	c := NewClient(Options{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	_, err := c.Generate(context.Background(), Request{Image: "AAAA", Position: DefaultPosition})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.DialogueRequest))
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestGenerateNoChoices(t *testing.T) {
	srv := newUpstream(t, func(w http.ResponseWriter, _ chatRequest) { reply(w) })
	c := NewClient(Options{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	_, err := c.Generate(context.Background(), Request{Image: "AAAA", Position: DefaultPosition})
	assert.True(t, apperr.Is(err, apperr.DialogueRequest))
}

func TestGenerateTimeout(t *testing.T) {
	srv := newUpstream(t, func(w http.ResponseWriter, _ chatRequest) {
		time.Sleep(200 * time.Millisecond)
		reply(w, "late")
	})
	c := NewClient(Options{APIKey: "test-key", BaseURL: srv.URL + "/v1", Timeout: 20 * time.Millisecond})
	_, err := c.Generate(context.Background(), Request{Image: "AAAA", Position: DefaultPosition})
	assert.True(t, apperr.Is(err, apperr.DialogueRequest))
}

func TestGenerateRejectsBadRequests(t *testing.T) {
	c := NewClient(Options{APIKey: "test-key", BaseURL: "http://127.0.0.1:1/v1"})

	_, err := c.Generate(context.Background(), Request{Image: "data:image/png;base64,", Position: DefaultPosition})
	assert.True(t, apperr.Is(err, apperr.Invalid))
}

func TestGenerateOutOfFramePosition(t *testing.T) {
	requests := make(chan chatRequest, 1)
	srv := newUpstream(t, func(w http.ResponseWriter, req chatRequest) {
		requests <- req
		reply(w, "Over here!")
	})

	c := NewClient(Options{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	line, err := c.Generate(context.Background(), Request{Image: "AAAA", Position: Position{X: 2, Y: -1}})
	require.NoError(t, err)
	assert.Equal(t, "Over here!", line)

	got := <-requests
	require.Len(t, got.Messages, 1)
	assert.Equal(t, BuildPrompt(""), got.Messages[0].Content[0].Text)
}
