package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/vthunder/toolbox/internal/agent"
)

func agentCmd() *cobra.Command {
	var (
		dryRun    bool
		execute   bool
		scaffold  bool
		autoApply bool
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "agent <request...>",
		Short: "Route a plain-language request to an action",
		Long: `Classify a request and run the matching action: list, search, triage,
scaffold, deploy, edit_notion, correct_tool_request, apply_last, call or prefs.

Runs dry by default. --execute performs writes; an explicit --dry-run wins.`,
		Example: `  toolbox agent "show my tool requests"
  toolbox agent "fix tool request 'recieve' to 'receive'" --execute
  toolbox agent "apply last correction"
  toolbox agent "call notion_search {\"query\": \"receipts\"}"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			request := strings.TrimSpace(strings.Join(args, " "))

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return failed(cmd, "Could not reach the tool server.", err)
			}
			defer a.Close()

			effective := !execute
			if cmd.Flags().Changed("dry-run") {
				effective = dryRun
			}

			env := a.agent().Handle(cmd.Context(), request, agent.Options{
				DryRun:         effective,
				ExplicitDryRun: cmd.Flags().Changed("dry-run") && dryRun,
				ForceScaffold:  scaffold,
				AutoApply:      autoApply,
				Force:          force,
			})
			return emit(cmd, env)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", true, "preview without writing")
	cmd.Flags().BoolVar(&execute, "execute", false, "perform writes")
	cmd.Flags().BoolVar(&scaffold, "scaffold", false, "force the scaffold route")
	cmd.Flags().BoolVar(&autoApply, "auto-apply", false, "allow high-confidence corrections to apply per prefs")
	cmd.Flags().BoolVar(&force, "force", false, "apply low-confidence or stale corrections")
	return cmd
}
