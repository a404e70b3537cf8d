package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAnthropicProvider(serverURL string) *AnthropicProvider {
	p := NewAnthropicProvider("test-key", serverURL)
	p.retryDelay = 0
	return p
}

func TestAnthropicProvider_CreateCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-3-5-sonnet-latest", req.Model)
		assert.Equal(t, "Be brief", req.System)
		assert.Equal(t, 4096, req.MaxTokens)
		assert.InDelta(t, 0.025, req.Temperature, 1e-9)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "Hi", req.Messages[0].Content)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"content": [{"type": "text", "text": "Hello "}, {"type": "text", "text": "there"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 7, "output_tokens": 3}
		}`))
	}))
	defer server.Close()

	resp, err := newTestAnthropicProvider(server.URL).CreateCompletion(context.Background(), CompletionRequest{
		Model:       "claude-3-5-sonnet-latest",
		Temperature: 0.025,
		Messages:    []Message{{Role: "system", Content: "Be brief"}, {Role: "user", Content: "Hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 10, resp.Usage.TotalTokens)
}

func TestAnthropicProvider_ErrorHandling(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		errorCode  string
		wantCalls  int32
	}{
		{"auth error", 401, ErrorCodeAuthentication, 1},
		{"bad request", 400, ErrorCodeInvalidRequest, 1},
		{"not found", 404, ErrorCodeModelNotFound, 1},
		{"rate limit retried", 429, ErrorCodeRateLimit, anthropicMaxRetries},
		{"server error retried", 500, ErrorCodeServerError, anthropicMaxRetries},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(`{"type":"error","error":{"type":"test_error","message":"test error"}}`))
			}))
			defer server.Close()

			_, err := newTestAnthropicProvider(server.URL).CreateCompletion(context.Background(), CompletionRequest{
				Messages: []Message{{Role: "user", Content: "Hi"}},
			})
			require.Error(t, err)

			var provErr *ProviderError
			require.ErrorAs(t, err, &provErr)
			assert.Equal(t, tt.errorCode, provErr.Code)
			assert.Equal(t, "test error", provErr.Message)
			assert.Equal(t, "test_error", provErr.Type)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestAnthropicProvider_RetryThenSuccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"ok"}],"stop_reason":"end_turn"}`))
	}))
	defer server.Close()

	resp, err := newTestAnthropicProvider(server.URL).CreateCompletion(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "Hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAnthropicProvider_Name(t *testing.T) {
	assert.Equal(t, "anthropic", NewAnthropicProvider("k", anthropicBaseURL).Name())
}
