package main

import (
	"github.com/spf13/cobra"

	"github.com/vthunder/toolbox/internal/hygiene"
)

func calendarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "calendar",
		Aliases: []string{"cal"},
		Short:   "Plan and apply calendar hygiene blocks",
	}
	cmd.AddCommand(calendarPlanCmd())
	cmd.AddCommand(calendarApplyCmd())
	return cmd
}

func calendarPlanCmd() *cobra.Command {
	var (
		days       int
		calendarID string
		verbose    bool
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Propose buffers and planning blocks for the coming days",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return failed(cmd, "Could not reach the tool server.", err)
			}
			defer a.Close()

			outcome, err := a.hygiene().Plan(cmd.Context(), days, calendarID)
			if err != nil {
				return failed(cmd, "Planning failed.", err)
			}
			return emit(cmd, hygiene.PlanEnvelope(outcome, verbose))
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "days ahead to scan")
	cmd.Flags().StringVar(&calendarID, "calendar-id", "", "calendar to scan (default: config, then primary)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "include filter stats and heuristic traces")
	return cmd
}

func calendarApplyCmd() *cobra.Command {
	var (
		planID    string
		actionIDs []string
		execute   bool
		confirm   bool
	)
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Create the selected actions of a saved plan",
		Example: `  toolbox calendar apply --plan-id 20260310T120000Z --action-ids a1b2c3,d4e5f6
  toolbox calendar apply --plan-id 20260310T120000Z --action-ids a1b2c3 --execute --confirm`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return failed(cmd, "Could not reach the tool server.", err)
			}
			defer a.Close()

			env := a.hygiene().Apply(cmd.Context(), planID, actionIDs, hygiene.ApplyOptions{
				DryRun:  !execute,
				Confirm: confirm,
			})
			return emit(cmd, env)
		},
	}
	cmd.Flags().StringVar(&planID, "plan-id", "", "plan to apply")
	cmd.Flags().StringSliceVar(&actionIDs, "action-ids", nil, "comma-separated action ids")
	cmd.Flags().BoolVar(&execute, "execute", false, "create events instead of previewing")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm the selected actions")
	_ = cmd.MarkFlagRequired("plan-id")
	return cmd
}
