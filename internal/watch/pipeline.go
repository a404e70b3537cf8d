// Package watch turns filesystem activity in a directory into generated
// answers: debounced, deduplicated by content hash and routed by the
// @usemodel directive.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/llminster/llminster/internal/directive"
	"github.com/llminster/llminster/internal/llm/provider"
	"github.com/llminster/llminster/internal/observability"
	"github.com/llminster/llminster/internal/router"
	metrics "github.com/llminster/llminster/pkg/observability"
)

// Outcome is the terminal state of one file event.
type Outcome int

const (
	OutcomeSuppressed Outcome = iota
	OutcomeIgnored
	OutcomeDuplicate
	OutcomeProcessed
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuppressed:
		return "suppressed"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeProcessed:
		return "processed"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Kind classifies a trigger file.
type Kind int

const (
	KindNone Kind = iota
	KindPrompt
	KindTemplate
)

// Classify returns the trigger kind for path. Answer and context files
// are never triggers.
func Classify(path string) Kind {
	name := strings.ToLower(filepath.Base(path))
	if strings.HasSuffix(name, answerSuffix) || strings.HasSuffix(name, contextSuffix) {
		return KindNone
	}
	switch filepath.Ext(name) {
	case ".q":
		return KindPrompt
	case ".razorq":
		return KindTemplate
	default:
		return KindNone
	}
}

func (k Kind) String() string {
	switch k {
	case KindPrompt:
		return "prompt"
	case KindTemplate:
		return "template"
	default:
		return "none"
	}
}

// Resolver maps a directive alias to a generation client.
type Resolver interface {
	ResolveClient(alias string) (router.Route, provider.Generator, error)
	DefaultAlias() string
}

// Pipeline processes single file events end to end.
type Pipeline struct {
	resolver       Resolver
	guard          *Guard
	debouncer      *Debouncer
	renderer       Renderer
	generation     provider.GenerationOptions
	accessAttempts int
	accessDelay    time.Duration
	logger         zerolog.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithDebouncer shares a debouncer, typically with the Watcher that prunes it.
func WithDebouncer(d *Debouncer) PipelineOption {
	return func(p *Pipeline) { p.debouncer = d }
}

// WithRenderer replaces the template renderer.
func WithRenderer(r Renderer) PipelineOption {
	return func(p *Pipeline) { p.renderer = r }
}

// WithGeneration sets temperature and token limit.
func WithGeneration(opts provider.GenerationOptions) PipelineOption {
	return func(p *Pipeline) { p.generation = opts }
}

// WithAccessRetry sets the file access attempts and delay.
func WithAccessRetry(attempts int, delay time.Duration) PipelineOption {
	return func(p *Pipeline) {
		p.accessAttempts = attempts
		p.accessDelay = delay
	}
}

// WithPipelineLogger sets the logger.
func WithPipelineLogger(logger zerolog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = logger }
}

// NewPipeline creates a pipeline resolving models through resolver and
// recording processed content in guard.
func NewPipeline(resolver Resolver, guard *Guard, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		resolver:       resolver,
		guard:          guard,
		debouncer:      NewDebouncer(DefaultDebounce),
		renderer:       NewTemplateRenderer(),
		generation:     provider.DefaultGenerationOptions(),
		accessAttempts: DefaultAccessAttempts,
		accessDelay:    DefaultAccessDelay,
		logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	metrics.SetProcessedHashes(guard.Len())
	return p
}

// Handle runs one notification for path fired at the given instant.
// Suppressed, ignored and duplicate events are not errors.
func (p *Pipeline) Handle(ctx context.Context, path string, at time.Time) (Outcome, error) {
	if !p.debouncer.Allow(path, at) {
		p.logger.Debug().Str("file", path).Msg("Notification suppressed")
		metrics.RecordFileEvent(OutcomeSuppressed.String())
		return OutcomeSuppressed, nil
	}

	kind := Classify(path)
	if kind == KindNone {
		p.logger.Debug().Str("file", path).Msg("Not a trigger file")
		metrics.RecordFileEvent(OutcomeIgnored.String())
		return OutcomeIgnored, nil
	}

	ctx, span := observability.StartSpanWithOtel(ctx, "watch.handle",
		trace.WithAttributes(
			attribute.String("watch.file", path),
			attribute.String("watch.kind", kind.String()),
		),
	)
	defer span.End()

	start := time.Now()
	outcome, err := p.process(ctx, path, kind)
	span.SetAttributes(attribute.String("watch.outcome", outcome.String()))
	metrics.RecordFileEvent(outcome.String())

	switch outcome {
	case OutcomeProcessed:
		metrics.RecordFileProcessed(kind.String(), time.Since(start))
	case OutcomeFailed:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Error().Err(err).Str("file", path).Msg("Error processing file")
	}
	return outcome, err
}

func (p *Pipeline) process(ctx context.Context, path string, kind Kind) (Outcome, error) {
	data, err := ReadWhenReady(ctx, path, p.accessAttempts, p.accessDelay)
	if err != nil {
		return OutcomeFailed, err
	}

	if strings.TrimSpace(string(data)) == "" {
		return p.skipEmpty(path), nil
	}

	var (
		hash   string
		alias  string
		prompt string
	)
	switch kind {
	case KindTemplate:
		parsed := directive.Parse(string(data), p.resolver.DefaultAlias(), directive.ModeFirst)
		rendered, err := p.renderer.Render(path, parsed.Text)
		if err != nil {
			return OutcomeFailed, err
		}
		hash, alias, prompt = HashContent([]byte(rendered)), parsed.Alias, rendered
	default:
		parsed := directive.Parse(string(data), p.resolver.DefaultAlias(), directive.ModeFirst)
		hash, alias, prompt = HashContent(data), parsed.Alias, parsed.Text
	}

	// A file holding only a directive has nothing to ask yet.
	if strings.TrimSpace(prompt) == "" {
		return p.skipEmpty(path), nil
	}

	if !p.guard.TryMark(hash) {
		p.logger.Info().Str("file", filepath.Base(path)).Msg("File content already processed")
		return OutcomeDuplicate, nil
	}

	answerPath, contextPath, model, err := p.generate(ctx, path, alias, prompt)
	if err != nil {
		p.guard.Forget(hash)
		return OutcomeFailed, err
	}

	p.logger.Info().
		Str("file", filepath.Base(path)).
		Str("model", model).
		Str("answer", answerPath).
		Str("context", filepath.Base(contextPath)).
		Msg("Processed file")

	metrics.SetProcessedHashes(p.guard.Len())
	if err := p.guard.Save(); err != nil {
		p.logger.Error().Err(err).Str("hashes_file", p.guard.Path()).Msg("Failed to save processed hashes")
	}
	return OutcomeProcessed, nil
}

// skipEmpty ignores a file with no prompt. Editors often create the file
// before writing it, so the follow-up write must pass the debouncer.
func (p *Pipeline) skipEmpty(path string) Outcome {
	p.debouncer.Release(path)
	p.logger.Debug().Str("file", path).Msg("Empty prompt skipped")
	return OutcomeIgnored
}

func (p *Pipeline) generate(ctx context.Context, path, alias, prompt string) (answerPath, contextPath, model string, err error) {
	_, client, err := p.resolver.ResolveClient(alias)
	if err != nil {
		return "", "", "", err
	}

	resp, err := client.Generate(ctx, prompt, p.generation)
	if err != nil {
		return "", "", "", fmt.Errorf("generate with %s: %w", client.Name(), err)
	}

	answerPath, contextPath, err = WriteOutputs(path, directive.Strip(prompt), client.Name(), resp.Content)
	if err != nil {
		return "", "", "", err
	}
	return answerPath, contextPath, client.Name(), nil
}
