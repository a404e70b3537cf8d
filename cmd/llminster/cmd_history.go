package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/llminster/llminster/pkg/conversation"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history SESSION_ID",
		Short: "Print the transcript of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(root.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			log, err := a.eventLog(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				_ = log.Close()
			}()

			orch := conversation.NewOrchestrator(log, conversation.WithLogger(a.logger))
			return printWindow(cmd.Context(), cmd.OutOrStdout(), orch, args[0])
		},
	}
}

func printWindow(ctx context.Context, out io.Writer, orch *conversation.Orchestrator, sessionID string) error {
	return conversation.Match(orch.ReconstructWindow(ctx, sessionID),
		func(window string) error {
			_, err := fmt.Fprintln(out, window)
			return err
		},
		func() error {
			_, err := fmt.Fprintf(out, "Session %s has no turns yet.\n", sessionID)
			return err
		},
		func(err error) error {
			return fmt.Errorf("read session %s: %w", sessionID, err)
		},
	)
}
