package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags)
var Version = "dev"

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "llminster",
		Short: "Answer prompt files and hold multi-turn conversations with LLMs",
		Long: `llminster watches a directory for .q and .razorq files and writes the model's
answer next to each one. A line "@usemodel:<alias>" selects the model.

It also keeps multi-turn conversations in an append-only event log.`,
		Version:      Version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"config file (default $LLMINSTER_CONFIG or ./llminster.yaml)")

	root.AddCommand(
		newWatchCmd(opts),
		newChatCmd(opts),
		newHistoryCmd(opts),
		newAliasesCmd(opts),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
