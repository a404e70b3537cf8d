package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llminster/llminster/internal/llm/provider"
	"github.com/llminster/llminster/pkg/conversation"
	"github.com/llminster/llminster/pkg/session"
)

type testEnv struct {
	configPath string
	watchDir   string
	sessionDir string
	hashesFile string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	root := t.TempDir()
	env := testEnv{
		configPath: filepath.Join(root, "llminster.yaml"),
		watchDir:   filepath.Join(root, "inbox"),
		sessionDir: filepath.Join(root, "sessions"),
		hashesFile: filepath.Join(root, "processed_hashes.json"),
	}

	cfg := `
watch_directory: ` + env.watchDir + `
default_alias: fast
hashes_file: ` + env.hashesFile + `
watcher:
  debounce: 50ms
  access_delay: 10ms
providers:
  mock:
    models:
      mock-model: fast
event_log:
  store: file
  base_dir: ` + env.sessionDir + `
logging:
  console: false
`
	require.NoError(t, os.WriteFile(env.configPath, []byte(cfg), 0o600))
	return env
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAliasesCmd(t *testing.T) {
	env := newTestEnv(t)

	out, err := execute(t, "--config", env.configPath, "aliases")
	require.NoError(t, err)
	assert.Contains(t, out, "ALIAS")
	assert.Contains(t, out, "fast (default)")
	assert.Contains(t, out, "mock-model")
}

func TestHistoryCmd_Empty(t *testing.T) {
	env := newTestEnv(t)

	out, err := execute(t, "--config", env.configPath, "history", "s1")
	require.NoError(t, err)
	assert.Equal(t, "Session s1 has no turns yet.\n", out)
}

func TestHistoryCmd_Turns(t *testing.T) {
	env := newTestEnv(t)

	log, err := session.NewFileBackend(env.sessionDir)
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, log.Append(context.Background(), &session.Turn{
		ID: "1", SessionID: "s1", SequenceNumber: 1, Timestamp: now, Speaker: "User", Content: "Hello",
	}))
	require.NoError(t, log.Append(context.Background(), &session.Turn{
		ID: "2", SessionID: "s1", SequenceNumber: 2, Timestamp: now, Speaker: "mock-model", Content: "Hi there!",
	}))
	require.NoError(t, log.Close())

	out, err := execute(t, "--config", env.configPath, "history", "s1")
	require.NoError(t, err)
	assert.Equal(t, "User: Hello\nmock-model: Hi there!\n", out)
}

func TestHistoryCmd_RequiresSessionID(t *testing.T) {
	env := newTestEnv(t)

	_, err := execute(t, "--config", env.configPath, "history")
	assert.Error(t, err)
}

func TestWatchCmd_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  console: false\n"), 0o600))

	_, err := execute(t, "--config", path, "watch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestChatSession_Send(t *testing.T) {
	mock := provider.NewMockProvider("mock")
	mock.CompletionResponses = []*provider.CompletionResponse{{Content: "Hi there!"}}
	mock.Errors = []error{nil, errors.New("backend down")}

	log := session.NewMemoryBackend()
	s := &chatSession{
		orch:        conversation.NewOrchestrator(log),
		client:      provider.Bind(mock, "mock-model"),
		sessionID:   "s1",
		temperature: 0.025,
	}

	var out bytes.Buffer
	require.NoError(t, s.send(context.Background(), &out, "Hello"))
	assert.Equal(t, "mock-model> Hi there!\n\n", out.String())

	err := s.send(context.Background(), &out, "Again")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")

	turns, err := log.Turns(context.Background(), "s1", 0)
	require.NoError(t, err)
	assert.Len(t, turns, 3, "failed generation keeps only the user turn")
}

func TestRunWatch_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	a, err := loadApp(env.configPath)
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- runWatch(ctx, a) }()

	question := filepath.Join(env.watchDir, "ask.q")
	answer := filepath.Join(env.watchDir, "ask.answer.md")
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(answer)
		if err == nil && string(data) == "Mock response" {
			return true
		}
		// Rewrite until the watch is live; repeats are deduplicated.
		_ = os.WriteFile(question, []byte("@usemodel:FAST\nWhat is Go?"), 0o644)
		return false
	}, 10*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("watch did not stop")
	}

	transcript, err := os.ReadFile(filepath.Join(env.watchDir, "ask.context.md"))
	require.NoError(t, err)
	assert.Contains(t, string(transcript), "User:\n\nWhat is Go?\n\nAI Assistant (mock-model):\n\nMock response\n\n---\n\n")

	_, err = os.Stat(env.hashesFile)
	assert.NoError(t, err, "hashes persisted")
}
