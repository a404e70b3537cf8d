package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/llminster/llminster/internal/llm/cost"
	"github.com/llminster/llminster/internal/observability"
	metrics "github.com/llminster/llminster/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedProvider wraps a Provider with tracing and Prometheus metrics.
// Every completion gets a span carrying model, token usage and outcome.
type InstrumentedProvider struct {
	provider Provider
	enabled  bool
}

// NewInstrumentedProvider wraps a provider with automatic observability
func NewInstrumentedProvider(provider Provider, enabled bool) *InstrumentedProvider {
	return &InstrumentedProvider{
		provider: provider,
		enabled:  enabled,
	}
}

// Name returns the wrapped provider name
func (p *InstrumentedProvider) Name() string {
	return p.provider.Name()
}

// CreateCompletion creates a completion with automatic instrumentation
func (p *InstrumentedProvider) CreateCompletion(ctx context.Context, request CompletionRequest) (*CompletionResponse, error) {
	if !p.enabled {
		return p.provider.CreateCompletion(ctx, request)
	}

	ctx, span := observability.StartSpanWithOtel(ctx, fmt.Sprintf("llm.%s.completion", p.provider.Name()),
		trace.WithAttributes(
			attribute.String("llm.provider", p.provider.Name()),
			attribute.String("llm.model", request.Model),
			attribute.Float64("llm.temperature", request.Temperature),
			attribute.Int("llm.max_tokens", request.MaxTokens),
			attribute.Int("llm.messages_count", len(request.Messages)),
		),
	)
	defer span.End()

	startTime := time.Now()
	response, err := p.provider.CreateCompletion(ctx, request)
	duration := time.Since(startTime)

	span.SetAttributes(
		attribute.Int64("llm.duration_ms", duration.Milliseconds()),
		attribute.Bool("llm.success", err == nil),
	)

	if err != nil {
		code := ErrorCodeUnknown
		var provErr *ProviderError
		if errors.As(err, &provErr) {
			code = provErr.Code
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, code)
		metrics.RecordGeneration(p.provider.Name(), request.Model, code, duration)
		return nil, err
	}

	if response != nil {
		span.SetAttributes(
			attribute.Int("llm.usage.prompt_tokens", response.Usage.PromptTokens),
			attribute.Int("llm.usage.completion_tokens", response.Usage.CompletionTokens),
			attribute.Int("llm.usage.total_tokens", response.Usage.TotalTokens),
			attribute.String("llm.finish_reason", response.FinishReason),
		)
		metrics.RecordTokens(p.provider.Name(), request.Model, response.Usage.PromptTokens, response.Usage.CompletionTokens)
		if usd, ok := cost.Default.Estimate(request.Model, response.Usage.PromptTokens, response.Usage.CompletionTokens); ok {
			span.SetAttributes(attribute.Float64("llm.cost_usd", usd))
			metrics.RecordCost(p.provider.Name(), request.Model, usd)
		}
	}
	metrics.RecordGeneration(p.provider.Name(), request.Model, "ok", duration)

	return response, nil
}
