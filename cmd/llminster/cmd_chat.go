package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/llminster/llminster/internal/llm/provider"
	"github.com/llminster/llminster/pkg/conversation"
)

type chatOptions struct {
	sessionID   string
	model       string
	temperature float64
}

func newChatCmd(root *rootOptions) *cobra.Command {
	o := &chatOptions{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long: `Starts a multi-turn conversation. Every message and answer is appended to
the event log, and the whole session is sent as context on each turn.

Type /history to print the transcript and /exit to leave.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(root.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if !cmd.Flags().Changed("temperature") {
				o.temperature = a.cfg.Generation.Temperature
			}
			return runChat(cmd.Context(), a, o, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&o.sessionID, "session", "", "session ID to continue (default: a new session)")
	cmd.Flags().StringVar(&o.model, "model", "", "model alias (default: default_alias)")
	cmd.Flags().Float64Var(&o.temperature, "temperature", provider.DefaultTemperature, "sampling temperature")
	return cmd
}

// chatSession sends messages for one conversation.
type chatSession struct {
	orch        *conversation.Orchestrator
	client      provider.Generator
	sessionID   string
	temperature float64
}

// send processes one user message and prints the answer. Failures are
// returned so the loop can report them and keep going.
func (s *chatSession) send(ctx context.Context, out io.Writer, text string) error {
	return conversation.Match(
		s.orch.ProcessMessage(ctx, s.sessionID, text, s.client, s.temperature),
		func(answer string) error {
			_, err := fmt.Fprintf(out, "%s> %s\n\n", s.client.Name(), answer)
			return err
		},
		func() error {
			_, err := fmt.Fprintln(out, "(no answer)")
			return err
		},
		func(err error) error { return err },
	)
}

func runChat(ctx context.Context, a *app, o *chatOptions, out io.Writer) error {
	r, err := a.router()
	if err != nil {
		return err
	}
	_, client, err := r.ResolveClient(o.model)
	if err != nil {
		return err
	}

	log, err := a.eventLog(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = log.Close()
	}()

	if o.sessionID == "" {
		o.sessionID = uuid.NewString()
	}

	s := &chatSession{
		orch: conversation.NewOrchestrator(log,
			conversation.WithLogger(a.logger),
			conversation.WithMaxTokens(a.cfg.Generation.MaxTokens),
		),
		client:      client,
		sessionID:   o.sessionID,
		temperature: o.temperature,
	}

	line := liner.NewLiner()
	defer func() {
		_ = line.Close()
	}()
	line.SetCtrlCAborts(true)

	fmt.Fprintf(out, "Session %s, model %s. /history shows the transcript, /exit quits.\n\n", s.sessionID, client.Name())

	for {
		text, err := line.Prompt("you> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		line.AppendHistory(text)

		switch text {
		case "/exit", "/quit":
			return nil
		case "/history":
			if err := printWindow(ctx, out, s.orch, s.sessionID); err != nil {
				fmt.Fprintf(out, "error: %v\n\n", err)
			}
			continue
		}

		if err := s.send(ctx, out, text); err != nil {
			a.logger.Error().Err(err).Str("session", s.sessionID).Msg("Message failed")
			fmt.Fprintf(out, "error: %v\n\n", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
