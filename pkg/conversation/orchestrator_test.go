package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/llminster/llminster/internal/llm/provider"
	"github.com/llminster/llminster/pkg/session"
)

// MockGenerator is a testify mock implementing provider.Generator
type MockGenerator struct {
	mock.Mock
	name string
}

func (m *MockGenerator) Generate(ctx context.Context, prompt string, opts provider.GenerationOptions) (*provider.CompletionResponse, error) {
	args := m.Called(ctx, prompt, opts)
	if resp := args.Get(0); resp != nil {
		return resp.(*provider.CompletionResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGenerator) Name() string {
	return m.name
}

// failingLog fails reads or appends on demand
type failingLog struct {
	*session.MemoryBackend
	readErr   error
	appendErr error
}

func (f *failingLog) Turns(ctx context.Context, sessionID string, from int64) ([]*session.Turn, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.MemoryBackend.Turns(ctx, sessionID, from)
}

func (f *failingLog) Append(ctx context.Context, turn *session.Turn) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	return f.MemoryBackend.Append(ctx, turn)
}

// racingLog simulates another process taking the next sequence number
// before the first append of each session lands.
type racingLog struct {
	*session.MemoryBackend
	mu     sync.Mutex
	raced  map[string]bool
	writer string
}

func (r *racingLog) Append(ctx context.Context, turn *session.Turn) error {
	r.mu.Lock()
	first := !r.raced[turn.SessionID]
	r.raced[turn.SessionID] = true
	r.mu.Unlock()

	if first {
		intruder := *turn
		intruder.ID = "intruder"
		intruder.Speaker = r.writer
		if err := r.MemoryBackend.Append(ctx, &intruder); err != nil {
			return err
		}
	}
	return r.MemoryBackend.Append(ctx, turn)
}

func appendTurns(t *testing.T, log session.EventLog, sessionID string, turns ...[2]string) {
	t.Helper()
	for i, tt := range turns {
		require.NoError(t, log.Append(context.Background(), &session.Turn{
			ID:             fmt.Sprintf("%s-%d", sessionID, i+1),
			SessionID:      sessionID,
			SequenceNumber: int64(i + 1),
			Timestamp:      time.Now(),
			Speaker:        tt[0],
			Content:        tt[1],
		}))
	}
}

func TestReconstructWindow(t *testing.T) {
	log := session.NewMemoryBackend()
	o := NewOrchestrator(log)
	ctx := context.Background()

	t.Run("empty session", func(t *testing.T) {
		r := o.ReconstructWindow(ctx, "none")
		assert.True(t, r.IsEmpty())
		assert.NoError(t, r.Err())
	})

	t.Run("formatted transcript", func(t *testing.T) {
		appendTurns(t, log, "s1", [2]string{"User", "Hello"}, [2]string{"gpt-4o", "Hi there!  \n"})

		r := o.ReconstructWindow(ctx, "s1")
		require.True(t, r.IsSuccess())
		text, _ := r.Value()
		assert.Equal(t, "User: Hello\ngpt-4o: Hi there!", text)
	})

	t.Run("read failure", func(t *testing.T) {
		broken := &failingLog{MemoryBackend: session.NewMemoryBackend(), readErr: errors.New("disk gone")}
		r := NewOrchestrator(broken).ReconstructWindow(ctx, "s1")
		require.True(t, r.IsFailure())
		assert.ErrorContains(t, r.Err(), "disk gone")
	})
}

func TestProcessMessage_FreshSession(t *testing.T) {
	log := session.NewMemoryBackend()
	o := NewOrchestrator(log, WithMaxTokens(512))
	ctx := context.Background()

	model := &MockGenerator{name: "gpt-4o"}
	model.On("Generate", mock.Anything, "User: Hello", provider.GenerationOptions{Temperature: 0.7, MaxTokens: 512}).
		Return(&provider.CompletionResponse{Content: "Hi there!"}, nil).Once()

	r := o.ProcessMessage(ctx, "s1", "Hello", model, 0.7)

	require.True(t, r.IsSuccess(), "unexpected result: %v", r.Err())
	text, _ := r.Value()
	assert.Equal(t, "Hi there!", text)
	model.AssertExpectations(t)

	turns, err := log.Turns(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, int64(1), turns[0].SequenceNumber)
	assert.Equal(t, session.SpeakerUser, turns[0].Speaker)
	assert.Equal(t, "Hello", turns[0].Content)
	assert.Equal(t, int64(2), turns[1].SequenceNumber)
	assert.Equal(t, "gpt-4o", turns[1].Speaker)
	assert.Equal(t, "Hi there!", turns[1].Content)
	assert.NotEqual(t, turns[0].ID, turns[1].ID)
}

func TestProcessMessage_UsesWholeHistory(t *testing.T) {
	log := session.NewMemoryBackend()
	appendTurns(t, log, "s1", [2]string{"User", "What is Go?"}, [2]string{"claude", "A language."})
	o := NewOrchestrator(log)

	model := &MockGenerator{name: "claude"}
	model.On("Generate", mock.Anything, "User: What is Go?\nclaude: A language.\nUser: Who made it?", mock.Anything).
		Return(&provider.CompletionResponse{Content: "Google."}, nil)

	r := o.ProcessMessage(context.Background(), "s1", "Who made it?", model, provider.DefaultTemperature)
	require.True(t, r.IsSuccess())

	turns, err := log.Turns(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, int64(4), turns[3].SequenceNumber)
}

func TestProcessMessage_GenerationFailure(t *testing.T) {
	log := session.NewMemoryBackend()
	o := NewOrchestrator(log)
	ctx := context.Background()

	model := &MockGenerator{name: "gemini-2.0-flash"}
	model.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, provider.NewProviderError("gemini", provider.ErrorCodeRateLimit, "quota exhausted", nil))

	r := o.ProcessMessage(ctx, "s1", "Hello", model, 0)

	require.True(t, r.IsFailure())
	assert.ErrorContains(t, r.Err(), "quota exhausted")
	var provErr *provider.ProviderError
	assert.ErrorAs(t, r.Err(), &provErr)

	turns, err := log.Turns(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, session.SpeakerUser, turns[0].Speaker)
}

func TestProcessMessage_EmptyResponse(t *testing.T) {
	tests := []struct {
		name string
		resp *provider.CompletionResponse
	}{
		{"nil response", nil},
		{"empty content", &provider.CompletionResponse{Content: ""}},
		{"whitespace content", &provider.CompletionResponse{Content: " \n\t "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := session.NewMemoryBackend()
			model := &MockGenerator{name: "m"}
			model.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(tt.resp, nil)

			r := NewOrchestrator(log).ProcessMessage(context.Background(), "s1", "Hello", model, 0)

			require.True(t, r.IsFailure())
			assert.ErrorIs(t, r.Err(), provider.ErrEmptyResponse)

			turns, err := log.Turns(context.Background(), "s1", 0)
			require.NoError(t, err)
			assert.Len(t, turns, 1)
		})
	}
}

func TestProcessMessage_AppendFailure(t *testing.T) {
	log := &failingLog{MemoryBackend: session.NewMemoryBackend(), appendErr: errors.New("read-only")}
	model := &MockGenerator{name: "m"}

	r := NewOrchestrator(log).ProcessMessage(context.Background(), "s1", "Hello", model, 0)

	require.True(t, r.IsFailure())
	assert.ErrorContains(t, r.Err(), "read-only")
	model.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessMessage_RetriesOnSequenceConflict(t *testing.T) {
	log := &racingLog{MemoryBackend: session.NewMemoryBackend(), raced: map[string]bool{}, writer: "other-process"}
	model := &MockGenerator{name: "m"}
	model.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(&provider.CompletionResponse{Content: "ok"}, nil)

	r := NewOrchestrator(log).ProcessMessage(context.Background(), "s1", "Hello", model, 0)
	require.True(t, r.IsSuccess(), "unexpected result: %v", r.Err())

	turns, err := log.Turns(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "other-process", turns[0].Speaker)
	assert.Equal(t, session.SpeakerUser, turns[1].Speaker)
	assert.Equal(t, int64(2), turns[1].SequenceNumber)
	assert.Equal(t, int64(3), turns[2].SequenceNumber)
}

func TestProcessMessage_ConcurrentCallsKeepSequencesUnique(t *testing.T) {
	log := session.NewMemoryBackend()
	o := NewOrchestrator(log)
	ctx := context.Background()

	model := &MockGenerator{name: "m"}
	model.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		After(5*time.Millisecond).
		Return(&provider.CompletionResponse{Content: "reply"}, nil)

	const callers = 10
	var wg sync.WaitGroup
	results := make([]Result[string], callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = o.ProcessMessage(ctx, "shared", fmt.Sprintf("message %d", i), model, 0)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.True(t, r.IsSuccess(), "unexpected result: %v", r.Err())
	}

	turns, err := log.Turns(ctx, "shared", 0)
	require.NoError(t, err)
	require.Len(t, turns, 2*callers)

	seen := make(map[int64]bool)
	for _, turn := range turns {
		assert.False(t, seen[turn.SequenceNumber], "duplicate sequence %d", turn.SequenceNumber)
		seen[turn.SequenceNumber] = true
	}
	// Serialization keeps each user turn directly followed by its reply.
	for i := 0; i < len(turns); i += 2 {
		assert.Equal(t, session.SpeakerUser, turns[i].Speaker)
		assert.Equal(t, "m", turns[i+1].Speaker)
	}
	assert.Equal(t, 0, o.locks.size())
}

func TestProcessMessage_WithModelClient(t *testing.T) {
	mp := provider.NewMockProvider("mock")
	mp.CompletionResponses = []*provider.CompletionResponse{{Content: "bound reply"}}
	client := provider.Bind(mp, "mock-large")

	log := session.NewMemoryBackend()
	r := NewOrchestrator(log).ProcessMessage(context.Background(), "s1", "Hello", client, 0.025)
	require.True(t, r.IsSuccess())

	calls := mp.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "mock-large", calls[0].Model)
	assert.Equal(t, "User: Hello", calls[0].Messages[0].Content)
	assert.Equal(t, provider.DefaultMaxTokens, calls[0].MaxTokens)

	turns, err := log.Turns(context.Background(), "s1", 0)
	require.NoError(t, err)
	assert.Equal(t, "mock-large", turns[1].Speaker)
}
