package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vthunder/toolbox/internal/activity"
	"github.com/vthunder/toolbox/internal/types"
)

func activityCmd() *cobra.Command {
	var (
		n      int
		typ    string
		search string
		since  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show recent requests, tool calls and mutations",
		Example: `  toolbox activity --n 20
  toolbox activity --type mutation
  toolbox activity --search receipts --table
  toolbox activity --since 24h`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := activity.New(cfg.ActivityPath())

			var (
				entries []activity.Entry
				err     error
			)
			switch {
			case search != "":
				entries, err = log.Search(search, n)
			case typ != "":
				entries, err = log.ByType(activity.Type(typ), n)
			case since > 0:
				now := time.Now().UTC()
				entries, err = log.Range(now.Add(-since), now)
			default:
				entries, err = log.Recent(n)
			}
			if err != nil {
				return failed(cmd, "Could not read the activity log.", err)
			}
			if entries == nil {
				entries = []activity.Entry{}
			}

			env := types.NewEnvelope(fmt.Sprintf("%d activity entries.", len(entries)))
			env.Result = map[string]any{"entries": entries, "path": log.Path()}
			return emit(cmd, env)
		},
	}
	cmd.Flags().IntVar(&n, "n", 10, "number of entries")
	cmd.Flags().StringVar(&typ, "type", "", "only entries of this type (request, tool_call, mutation, error)")
	cmd.Flags().StringVar(&search, "search", "", "only entries containing this text")
	cmd.Flags().DurationVar(&since, "since", 0, "only entries newer than this")
	return cmd
}
