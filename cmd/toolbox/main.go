package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vthunder/toolbox/internal/config"
	"github.com/vthunder/toolbox/internal/logging"
)

var (
	cfgFile   string
	debugFlag bool
	tableOut  bool
	version   = "dev"

	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "toolbox",
		Short: "Personal automation: tool request backlog, Notion edits, calendar hygiene",
		Long: `toolbox routes plain-language requests to actions on a Notion-backed tool
request backlog, scaffolds new tools, and plans calendar hygiene blocks.

Every command prints the same JSON envelope: summary, result, next_actions, errors.
Mutating commands are dry-run unless --execute is given.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./"+config.DefaultFile+" when present)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "verbose logging on stderr")
	rootCmd.PersistentFlags().BoolVar(&tableOut, "table", false, "render list results as a table instead of JSON")

	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(requestsCmd())
	rootCmd.AddCommand(calendarCmd())
	rootCmd.AddCommand(prefsCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(stateCmd())
	rootCmd.AddCommand(versionCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		// the envelope already carries the errors
		if !errors.Is(err, errEnvelope) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func initConfig(_ *cobra.Command, _ []string) error {
	c, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if debugFlag {
		c.Debug = true
	}
	logging.SetDebug(c.Debug)
	cfg = c
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the toolbox version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}
