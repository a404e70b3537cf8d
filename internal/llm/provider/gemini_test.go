package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type mockContentGenerator struct {
	mock.Mock
}

func (m *mockContentGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	args := m.Called(ctx, model, contents, config)
	if resp := args.Get(0); resp != nil {
		return resp.(*genai.GenerateContentResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func newTestGeminiProvider(name string, models contentGenerator) *GeminiProvider {
	return &GeminiProvider{name: name, models: models}
}

func textResponse(finish genai.FinishReason, texts ...string) *genai.GenerateContentResponse {
	parts := make([]*genai.Part, len(texts))
	for i, text := range texts {
		parts[i] = &genai.Part{Text: text}
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Role: "model", Parts: parts},
			FinishReason: finish,
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     10,
			CandidatesTokenCount: 5,
			TotalTokenCount:      15,
		},
	}
}

func TestGeminiProvider_CreateCompletion(t *testing.T) {
	models := &mockContentGenerator{}
	models.On("GenerateContent", mock.Anything, "gemini-2.0-flash",
		mock.MatchedBy(func(contents []*genai.Content) bool {
			return len(contents) == 2 && contents[1].Role == "model" && contents[0].Parts[0].Text == "Hi"
		}),
		mock.MatchedBy(func(cfg *genai.GenerateContentConfig) bool {
			return cfg.Temperature != nil && *cfg.Temperature == float32(0) &&
				cfg.MaxOutputTokens == 256 &&
				cfg.SystemInstruction != nil && cfg.SystemInstruction.Parts[0].Text == "Be brief"
		}),
	).Return(textResponse(genai.FinishReasonStop, "Hello ", "from Gemini"), nil)

	resp, err := newTestGeminiProvider("gemini", models).CreateCompletion(context.Background(), CompletionRequest{
		Model:     "gemini-2.0-flash",
		MaxTokens: 256,
		Messages: []Message{
			{Role: "system", Content: "Be brief"},
			{Role: "user", Content: "Hi"},
			{Role: "assistant", Content: "Hello"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello from Gemini", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	models.AssertExpectations(t)
}

func TestGeminiProvider_EmptyCandidates(t *testing.T) {
	models := &mockContentGenerator{}
	models.On("GenerateContent", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&genai.GenerateContentResponse{}, nil)

	_, err := newTestGeminiProvider("vertexai", models).CreateCompletion(context.Background(), CompletionRequest{Model: "m"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGeminiProvider_Blocked(t *testing.T) {
	models := &mockContentGenerator{}
	models.On("GenerateContent", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(textResponse(genai.FinishReasonSafety), nil)

	_, err := newTestGeminiProvider("gemini", models).CreateCompletion(context.Background(), CompletionRequest{Model: "m"})
	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, ErrorCodeContentFiltered, provErr.Code)
}

func TestGeminiProvider_ErrorHandling(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  string
		wantCalls int
	}{
		{"api auth", genai.APIError{Code: 403, Message: "denied", Status: "PERMISSION_DENIED"}, ErrorCodeAuthentication, 1},
		{"api not found", genai.APIError{Code: 404, Message: "no model"}, ErrorCodeModelNotFound, 1},
		{"api unavailable", genai.APIError{Code: 503, Message: "busy"}, ErrorCodeServerError, geminiMaxRetries},
		{"credentials", errors.New("could not find default credentials"), ErrorCodeAuthentication, 1},
		{"deadline", errors.New("context deadline exceeded"), ErrorCodeTimeout, geminiMaxRetries},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			models := &mockContentGenerator{}
			models.On("GenerateContent", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err)

			_, err := newTestGeminiProvider("gemini", models).CreateCompletion(context.Background(), CompletionRequest{Model: "m"})

			var provErr *ProviderError
			require.ErrorAs(t, err, &provErr)
			assert.Equal(t, tt.wantCode, provErr.Code)
			models.AssertNumberOfCalls(t, "GenerateContent", tt.wantCalls)
		})
	}
}

func TestBuildGenAIContents(t *testing.T) {
	contents, system := buildGenAIContents([]Message{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
	})
	assert.Nil(t, system)
	require.Len(t, contents, 2)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
}
