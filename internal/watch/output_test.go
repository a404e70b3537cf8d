package watch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputPaths(t *testing.T) {
	assert.Equal(t, "/w/notes.answer.md", AnswerPath("/w/notes.q"))
	assert.Equal(t, "/w/notes.context.md", ContextPath("/w/notes.razorq"))
}

func TestTranscriptBlock(t *testing.T) {
	assert.Equal(t,
		"User:\n\nWhat?\n\nAI Assistant (gpt-4o):\n\nThat.\n\n---\n\n",
		TranscriptBlock("What?", "gpt-4o", "That."))
}

func TestWriteOutputs(t *testing.T) {
	dir := t.TempDir()
	trigger := filepath.Join(dir, "ask.q")

	answerPath, contextPath, err := WriteOutputs(trigger, "Q1", "m", "A1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ask.answer.md"), answerPath)

	_, _, err = WriteOutputs(trigger, "Q2", "m", "A2")
	require.NoError(t, err)

	answer, err := os.ReadFile(answerPath)
	require.NoError(t, err)
	assert.Equal(t, "A2", string(answer), "answer file holds only the latest answer")

	transcript, err := os.ReadFile(contextPath)
	require.NoError(t, err)
	assert.Equal(t, TranscriptBlock("Q1", "m", "A1")+TranscriptBlock("Q2", "m", "A2"), string(transcript))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")
}

func TestWriteOutputs_AppendFailureLeavesNoAnswer(t *testing.T) {
	dir := t.TempDir()
	trigger := filepath.Join(dir, "ask.q")
	// A directory in place of the context file makes the append fail.
	require.NoError(t, os.Mkdir(ContextPath(trigger), 0o755))

	_, _, err := WriteOutputs(trigger, "Q", "m", "A")
	require.Error(t, err)

	_, statErr := os.Stat(AnswerPath(trigger))
	assert.True(t, os.IsNotExist(statErr))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
