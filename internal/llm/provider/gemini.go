package provider

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	geminiMaxRetries    = 3
	geminiBaseDelay     = 1 * time.Second
	geminiClientTimeout = 30 * time.Second
	defaultVertexRegion = "us-central1"
)

func init() {
	RegisterFactory("gemini", func(cfg Config) (Provider, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY not set")
		}
		return NewGeminiProvider(cfg.APIKey)
	})

	// Vertex AI uses Application Default Credentials.
	RegisterFactory("vertexai", func(cfg Config) (Provider, error) {
		if cfg.ProjectID == "" {
			return nil, fmt.Errorf("vertexai requires project_id")
		}
		location := cfg.Location
		if location == "" {
			location = defaultVertexRegion
		}
		return NewVertexAIProvider(cfg.ProjectID, location)
	})
}

// contentGenerator is the part of the Gen AI SDK used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiProvider implements Provider for Gemini models through the Gen AI SDK,
// either on the Gemini API or on Vertex AI.
type GeminiProvider struct {
	name       string
	models     contentGenerator
	retryDelay time.Duration
}

// NewGeminiProvider creates a provider for the Gemini API
func NewGeminiProvider(apiKey string) (*GeminiProvider, error) {
	return newGenAIProvider("gemini", &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
}

// NewVertexAIProvider creates a provider for Gemini models on Vertex AI
func NewVertexAIProvider(projectID, location string) (*GeminiProvider, error) {
	return newGenAIProvider("vertexai", &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
}

func newGenAIProvider(name string, cc *genai.ClientConfig) (*GeminiProvider, error) {
	ctx, cancel := context.WithTimeout(context.Background(), geminiClientTimeout)
	defer cancel()

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", name, err)
	}

	return &GeminiProvider{
		name:       name,
		models:     client.Models,
		retryDelay: geminiBaseDelay,
	}, nil
}

// Name returns the provider name
func (p *GeminiProvider) Name() string {
	return p.name
}

// CreateCompletion creates a completion using the Gen AI SDK
func (p *GeminiProvider) CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	config := &genai.GenerateContentConfig{}
	// 0 is a valid temperature, so it is always sent.
	config.Temperature = genai.Ptr(float32(req.Temperature))
	if req.MaxTokens > 0 && req.MaxTokens <= math.MaxInt32 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	contents, systemInstruction := buildGenAIContents(req.Messages)
	if systemInstruction != nil {
		config.SystemInstruction = systemInstruction
	}

	var (
		resp *genai.GenerateContentResponse
		err  error
	)
	for attempt := 0; attempt < geminiMaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<uint(attempt-1)) * p.retryDelay
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err = p.models.GenerateContent(ctx, req.Model, contents, config)
		if err == nil {
			break
		}
		if !p.wrapError(err).IsRetryable {
			break
		}
	}
	if err != nil {
		return nil, p.wrapError(err)
	}

	return p.parseResponse(resp)
}

// buildGenAIContents converts messages to Gen AI content format
func buildGenAIContents(messages []Message) ([]*genai.Content, *genai.Content) {
	var systemInstruction *genai.Content
	contents := make([]*genai.Content, 0, len(messages))

	for _, m := range messages {
		if m.Role == "system" {
			systemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: m.Content}},
			}
			continue
		}

		role := m.Role
		if role == "assistant" {
			role = "model"
		}

		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}

	return contents, systemInstruction
}

// parseResponse parses the Gen AI response into CompletionResponse
func (p *GeminiProvider) parseResponse(resp *genai.GenerateContentResponse) (*CompletionResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, NewProviderError(p.name, ErrorCodeEmptyResponse, "no candidates in response", ErrEmptyResponse)
	}

	candidate := resp.Candidates[0]
	var content strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part != nil && part.Text != "" {
				content.WriteString(part.Text)
			}
		}
	}

	finishReason := string(candidate.FinishReason)
	switch finishReason {
	case "STOP", "":
		finishReason = "stop"
	case "SAFETY", "BLOCKLIST", "PROHIBITED_CONTENT":
		if content.Len() == 0 {
			return nil, NewProviderError(p.name, ErrorCodeContentFiltered, "response blocked: "+finishReason, nil)
		}
	}

	var usage Usage
	if resp.UsageMetadata != nil {
		usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		usage.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	return &CompletionResponse{
		Content:      content.String(),
		FinishReason: finishReason,
		Usage:        usage,
		Raw:          resp,
	}, nil
}

// wrapError converts Gen AI errors to ProviderError
func (p *GeminiProvider) wrapError(err error) *ProviderError {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		code := codeForStatus(apiErr.Code)
		return &ProviderError{
			Provider:      p.name,
			Code:          code,
			Message:       apiErr.Message,
			Type:          apiErr.Status,
			StatusCode:    apiErr.Code,
			IsRetryable:   isRetryableError(code),
			OriginalError: err,
		}
	}

	code := ErrorCodeUnknown
	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "credential") || strings.Contains(errMsg, "authentication"):
		code = ErrorCodeAuthentication
	case strings.Contains(errMsg, "rate limit") || strings.Contains(errMsg, "quota"):
		code = ErrorCodeRateLimit
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline"):
		code = ErrorCodeTimeout
	case strings.Contains(errMsg, "unavailable"):
		code = ErrorCodeServerError
	}

	return &ProviderError{
		Provider:      p.name,
		Code:          code,
		Message:       err.Error(),
		IsRetryable:   isRetryableError(code),
		OriginalError: err,
	}
}
