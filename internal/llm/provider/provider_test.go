package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelClient_Generate(t *testing.T) {
	mp := NewMockProvider("mock")
	mp.CompletionResponses = []*CompletionResponse{{Content: "answer"}}

	client := Bind(mp, "mock-1")
	assert.Equal(t, "mock-1", client.Name())
	assert.Same(t, mp, client.Provider())

	resp, err := client.Generate(context.Background(), "question", GenerationOptions{Temperature: 0.3})
	require.NoError(t, err)
	assert.Equal(t, "answer", resp.Content)

	calls := mp.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "mock-1", calls[0].Model)
	assert.Equal(t, 0.3, calls[0].Temperature)
	assert.Equal(t, DefaultMaxTokens, calls[0].MaxTokens)
	assert.Equal(t, []Message{{Role: "user", Content: "question"}}, calls[0].Messages)
}

func TestModelClient_EmptyResponse(t *testing.T) {
	mp := NewMockProvider("mock")
	mp.CompletionResponses = []*CompletionResponse{{Content: "  \n"}}

	_, err := Bind(mp, "m").Generate(context.Background(), "q", DefaultGenerationOptions())
	assert.ErrorIs(t, err, ErrEmptyResponse)

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, ErrorCodeEmptyResponse, provErr.Code)
	assert.False(t, provErr.IsRetryable)
}

func TestModelClient_ProviderError(t *testing.T) {
	mp := NewMockProvider("mock")
	mp.Errors = []error{errors.New("unreachable")}

	_, err := Bind(mp, "m").Generate(context.Background(), "q", DefaultGenerationOptions())
	assert.ErrorContains(t, err, "unreachable")
}

func TestCodeForStatus(t *testing.T) {
	tests := map[int]string{
		401: ErrorCodeAuthentication,
		403: ErrorCodeAuthentication,
		429: ErrorCodeRateLimit,
		400: ErrorCodeInvalidRequest,
		404: ErrorCodeModelNotFound,
		504: ErrorCodeTimeout,
		500: ErrorCodeServerError,
		503: ErrorCodeServerError,
		418: ErrorCodeUnknown,
	}
	for status, want := range tests {
		assert.Equal(t, want, codeForStatus(status), "status %d", status)
	}
}

func TestProviderError(t *testing.T) {
	orig := errors.New("socket closed")
	err := NewProviderError("openai", ErrorCodeServerError, "boom", orig)

	assert.Equal(t, "openai error: boom", err.Error())
	assert.True(t, err.IsRetryable)
	assert.ErrorIs(t, err, orig)
	assert.False(t, NewProviderError("openai", ErrorCodeAuthentication, "x", nil).IsRetryable)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("b", func(cfg Config) (Provider, error) { return NewMockProvider(cfg.Name), nil })
	r.Register("a", func(cfg Config) (Provider, error) { return nil, errors.New("missing key") })

	assert.Equal(t, []string{"a", "b"}, r.List())
	assert.True(t, r.Has("a"))
	assert.False(t, r.Has("c"))

	p, err := r.New(Config{Name: "b"})
	require.NoError(t, err)
	assert.Equal(t, "b", p.Name())

	_, err = r.New(Config{Name: "a"})
	assert.ErrorContains(t, err, "missing key")

	_, err = r.New(Config{Name: "c"})
	assert.Error(t, err)
}

func TestGlobalRegistry_BuiltinFactories(t *testing.T) {
	for _, name := range []string{"openai", "xai", "anthropic", "gemini", "vertexai", "bedrock", "mock"} {
		assert.True(t, Has(name), name)
	}

	_, err := New(Config{Name: "openai"})
	assert.ErrorContains(t, err, "OPENAI_API_KEY")
	_, err = New(Config{Name: "anthropic"})
	assert.ErrorContains(t, err, "ANTHROPIC_API_KEY")
	_, err = New(Config{Name: "gemini"})
	assert.ErrorContains(t, err, "GEMINI_API_KEY")
	_, err = New(Config{Name: "vertexai"})
	assert.ErrorContains(t, err, "project_id")

	p, err := New(Config{Name: "xai", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "xai", p.Name())
}

func TestRateLimitedProvider(t *testing.T) {
	mp := NewMockProvider("mock")
	assert.Same(t, Provider(mp), NewRateLimitedProvider(mp, 0))

	limited := NewRateLimitedProvider(mp, 60)
	assert.Equal(t, "mock", limited.Name())

	_, err := limited.CreateCompletion(context.Background(), CompletionRequest{})
	require.NoError(t, err)

	// The burst is spent; the next token is a second away.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = limited.CreateCompletion(ctx, CompletionRequest{})
	assert.Error(t, err)
	assert.Len(t, mp.Calls(), 1)
}

func TestInstrumentedProvider(t *testing.T) {
	mp := NewMockProvider("mock")
	mp.Errors = []error{nil, NewProviderError("mock", ErrorCodeRateLimit, "slow down", nil)}

	p := NewInstrumentedProvider(mp, true)
	assert.Equal(t, "mock", p.Name())

	resp, err := p.CreateCompletion(context.Background(), CompletionRequest{Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "Mock response", resp.Content)

	_, err = p.CreateCompletion(context.Background(), CompletionRequest{Model: "m"})
	assert.ErrorContains(t, err, "slow down")

	disabled := NewInstrumentedProvider(mp, false)
	_, err = disabled.CreateCompletion(context.Background(), CompletionRequest{Model: "m"})
	assert.NoError(t, err)
}
