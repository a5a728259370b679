package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vthunder/toolbox/internal/state"
	"github.com/vthunder/toolbox/internal/types"
)

func prefsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show or change auto-apply preferences",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the current preferences",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store := state.NewPrefsStore(cfg.PrefsPath())
			p, err := store.Load()
			if err != nil {
				return failed(cmd, "Could not read preferences.", err)
			}
			return emit(cmd, prefsEnvelope("Preferences loaded.", store, p))
		},
	})
	cmd.AddCommand(prefsSetCmd())
	return cmd
}

func prefsSetCmd() *cobra.Command {
	var (
		enabled   bool
		threshold float64
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change auto-apply preferences",
		Example: `  toolbox prefs set --enabled --threshold 0.95
  toolbox prefs set --enabled=false`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := cmd.Flags()
			if !f.Changed("enabled") && !f.Changed("threshold") {
				return fmt.Errorf("nothing to set; pass --enabled or --threshold")
			}
			store := state.NewPrefsStore(cfg.PrefsPath())
			p, err := store.Update(func(p *state.Prefs) error {
				if f.Changed("enabled") {
					p.AutoApplyEnabled = enabled
				}
				if f.Changed("threshold") {
					p.AutoApplyThreshold = threshold
				}
				return nil
			})
			if err != nil {
				return failed(cmd, "Could not update preferences.", err)
			}
			return emit(cmd, prefsEnvelope("Preferences updated.", store, p))
		},
	}
	cmd.Flags().BoolVar(&enabled, "enabled", false, "turn auto-apply on or off")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "minimum confidence for auto-apply, 0..1")
	return cmd
}

func prefsEnvelope(summary string, store *state.PrefsStore, p state.Prefs) types.Envelope {
	env := types.NewEnvelope(summary)
	env.Result = map[string]any{"prefs": p, "path": store.Path()}
	env.NextActions = []string{fmt.Sprintf("Auto-apply is %s at threshold %.2f.", onOff(p.AutoApplyEnabled), p.AutoApplyThreshold)}
	return env
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
