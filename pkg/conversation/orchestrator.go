package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/llminster/llminster/internal/llm/provider"
	"github.com/llminster/llminster/pkg/observability"
	"github.com/llminster/llminster/pkg/session"
)

const defaultAppendAttempts = 3

// Orchestrator runs the message protocol for sessions stored in an EventLog.
//
// Calls for the same session are serialized in-process. Appends are
// optimistic, so a sequence number taken by another process is retried with
// the next free one.
type Orchestrator struct {
	log            session.EventLog
	logger         zerolog.Logger
	maxTokens      int
	appendAttempts int
	locks          *keyedMutex
	now            func() time.Time
	newID          func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMaxTokens sets the generation token limit.
func WithMaxTokens(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

// WithAppendAttempts sets how many times a conflicting append is retried.
func WithAppendAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.appendAttempts = n
		}
	}
}

// WithClock overrides the turn timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an orchestrator over log.
func NewOrchestrator(log session.EventLog, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		log:            log,
		logger:         zerolog.Nop(),
		maxTokens:      provider.DefaultMaxTokens,
		appendAttempts: defaultAppendAttempts,
		locks:          newKeyedMutex(),
		now:            time.Now,
		newID:          uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ReconstructWindow returns the formatted transcript of a session, Empty when
// the session has no turns, or Failure when the log cannot be read.
func (o *Orchestrator) ReconstructWindow(ctx context.Context, sessionID string) Result[string] {
	turns, err := o.log.Turns(ctx, sessionID, 0)
	if err != nil {
		return Failure[string](fmt.Errorf("read session %s: %w", sessionID, err))
	}
	if len(turns) == 0 {
		return Empty[string]()
	}
	return Success(BuildWindow(turns))
}

// ProcessMessage appends the user text, asks model for a reply over the
// whole transcript, appends the reply and returns it.
//
// A generation failure leaves only the user turn in the log.
func (o *Orchestrator) ProcessMessage(ctx context.Context, sessionID, userText string, model provider.Generator, temperature float64) Result[string] {
	unlock := o.locks.Lock(sessionID)
	defer unlock()

	logger := o.logger.With().Str("session", sessionID).Logger()

	userSeq, err := o.appendNext(ctx, sessionID, session.SpeakerUser, userText)
	if err != nil {
		logger.Error().Err(err).Msg("append user turn failed")
		return Failure[string](fmt.Errorf("append user turn: %w", err))
	}
	observability.RecordTurnAppended("user")

	var window string
	switch r := o.ReconstructWindow(ctx, sessionID); r.Kind() {
	case KindFailure:
		return Failure[string](r.Err())
	case KindEmpty:
		logger.Warn().Int64("sequence", userSeq).Msg("user turn not visible after append")
	case KindSuccess:
		window, _ = r.Value()
	}

	resp, err := model.Generate(ctx, window, provider.GenerationOptions{
		Temperature: temperature,
		MaxTokens:   o.maxTokens,
	})
	if err != nil {
		logger.Error().Err(err).Str("model", model.Name()).Msg("generation failed")
		return Failure[string](fmt.Errorf("model %s failed: %w", model.Name(), err))
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return Failure[string](fmt.Errorf("model %s failed: %w", model.Name(), provider.ErrEmptyResponse))
	}

	modelSeq, err := o.appendNext(ctx, sessionID, model.Name(), resp.Content)
	if err != nil {
		logger.Error().Err(err).Msg("append model turn failed")
		return Failure[string](fmt.Errorf("append model turn: %w", err))
	}
	observability.RecordTurnAppended("model")

	logger.Debug().
		Int64("user_sequence", userSeq).
		Int64("model_sequence", modelSeq).
		Str("model", model.Name()).
		Msg("message processed")

	return Success(resp.Content)
}

// appendNext appends a turn numbered one past the current maximum, retrying
// when another writer takes that number first.
func (o *Orchestrator) appendNext(ctx context.Context, sessionID, speaker, content string) (int64, error) {
	var lastErr error
	for attempt := 0; attempt < o.appendAttempts; attempt++ {
		turns, err := o.log.Turns(ctx, sessionID, 0)
		if err != nil {
			return 0, err
		}

		turn := &session.Turn{
			ID:             o.newID(),
			SessionID:      sessionID,
			SequenceNumber: session.MaxSequence(turns) + 1,
			Timestamp:      o.now().UTC(),
			Speaker:        speaker,
			Content:        content,
		}

		err = o.log.Append(ctx, turn)
		if err == nil {
			return turn.SequenceNumber, nil
		}
		if !errors.Is(err, session.ErrSequenceConflict) {
			return 0, err
		}

		observability.RecordSequenceConflict()
		o.logger.Debug().Str("session", sessionID).Int64("sequence", turn.SequenceNumber).Int("attempt", attempt+1).Msg("sequence conflict, retrying")
		lastErr = err
	}
	return 0, fmt.Errorf("gave up after %d attempts: %w", o.appendAttempts, lastErr)
}
