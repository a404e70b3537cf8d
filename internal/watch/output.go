package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	answerSuffix  = ".answer.md"
	contextSuffix = ".context.md"

	// transcriptSeparator ends every transcript block.
	transcriptSeparator = "---"
)

// basePath strips the trigger extension from path.
func basePath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}

// AnswerPath returns the answer file written for the trigger at path.
func AnswerPath(path string) string {
	return basePath(path) + answerSuffix
}

// ContextPath returns the running transcript file for the trigger at path.
func ContextPath(path string) string {
	return basePath(path) + contextSuffix
}

// TranscriptBlock formats one question/answer pair for the context file.
func TranscriptBlock(question, model, answer string) string {
	var b strings.Builder
	b.WriteString("User:\n\n")
	b.WriteString(question)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "AI Assistant (%s):\n\n", model)
	b.WriteString(answer)
	b.WriteString("\n\n")
	b.WriteString(transcriptSeparator)
	b.WriteString("\n\n")
	return b.String()
}

// WriteOutputs writes the answer file and appends to the transcript for
// the trigger at path. The answer only replaces the previous one after the
// transcript append succeeded.
func WriteOutputs(path, question, model, answer string) (answerPath, contextPath string, err error) {
	answerPath = AnswerPath(path)
	contextPath = ContextPath(path)

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(answerPath)+".*.tmp")
	if err != nil {
		return "", "", fmt.Errorf("create answer file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.WriteString(answer); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", "", fmt.Errorf("write answer file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", "", fmt.Errorf("write answer file: %w", err)
	}

	if err := appendTranscript(contextPath, TranscriptBlock(question, model, answer)); err != nil {
		cleanup()
		return "", "", err
	}

	if err := os.Rename(tmpName, answerPath); err != nil {
		cleanup()
		return "", "", fmt.Errorf("replace answer file: %w", err)
	}
	return answerPath, contextPath, nil
}

func appendTranscript(path, block string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open context file: %w", err)
	}
	if _, err := f.WriteString(block); err != nil {
		_ = f.Close()
		return fmt.Errorf("append context file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("append context file: %w", err)
	}
	return nil
}
