package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vthunder/toolbox/internal/types"
)

func stateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and maintain local state",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "summary",
		Short: "Summarize prefs, the saved preview, plans, the queue and activity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := &app{cfg: cfg}
			s, err := a.inspector().Summary()
			if err != nil {
				return failed(cmd, "Could not summarize state.", err)
			}
			env := types.NewEnvelope(fmt.Sprintf("%d plans, %d queued requests, %d activity entries.",
				len(s.Plans), s.QueuePending, s.Activity))
			env.Result = s
			return emit(cmd, env)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check local state for problems",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := &app{cfg: cfg}
			h, err := a.inspector().Health()
			if err != nil {
				return failed(cmd, "Health check failed.", err)
			}
			env := types.NewEnvelope("State is " + h.Status + ".")
			env.Result = h
			env.NextActions = append(env.NextActions, h.Recommendations...)
			return emit(cmd, env)
		},
	})

	var keep int
	truncate := &cobra.Command{
		Use:   "truncate",
		Short: "Trim the activity log to the newest entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := &app{cfg: cfg}
			if err := a.inspector().TruncateActivity(keep); err != nil {
				return failed(cmd, "Could not truncate the activity log.", err)
			}
			env := types.NewEnvelope(fmt.Sprintf("Activity log trimmed to %d entries.", keep))
			env.Result = map[string]any{"keep": keep, "path": cfg.ActivityPath()}
			return emit(cmd, env)
		},
	}
	truncate.Flags().IntVar(&keep, "keep", 500, "entries to keep")
	cmd.AddCommand(truncate)
	return cmd
}
