package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vthunder/toolbox/internal/backlog"
)

func requestsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "requests",
		Aliases: []string{"req"},
		Short:   "Work with the tool request backlog",
	}
	cmd.AddCommand(requestsFetchCmd())
	cmd.AddCommand(requestsCaptureCmd())
	cmd.AddCommand(requestsFlushCmd())
	return cmd
}

func requestsFetchCmd() *cobra.Command {
	var (
		limit int
		query string
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch open tool requests, plus search hits for a query",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return failed(cmd, "Could not reach the tool server.", err)
			}
			defer a.Close()

			res := backlog.NewFetcher(a.invoker).Fetch(cmd.Context(), limit, strings.TrimSpace(query))
			return emit(cmd, res.Envelope())
		},
	}
	cmd.Flags().IntVar(&limit, "limit", backlog.DefaultLimit, "maximum items per tool call")
	cmd.Flags().StringVar(&query, "query", "", "also search for this text")
	return cmd
}

func requestsCaptureCmd() *cobra.Command {
	var opts backlog.EntryOptions
	cmd := &cobra.Command{
		Use:   "capture <complaint...>",
		Short: "Create a tool request, queueing it locally if the server is unavailable",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			complaint := strings.TrimSpace(strings.Join(args, " "))
			if complaint == "" {
				return fmt.Errorf("complaint is empty")
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return failed(cmd, "Could not reach the tool server.", err)
			}
			defer a.Close()

			entry := backlog.BuildEntry(complaint, opts)
			return emit(cmd, a.capturer().Capture(cmd.Context(), entry))
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.DesiredOutcome, "outcome", "", "desired outcome (default: Resolve: <complaint>)")
	f.StringVar(&opts.Frequency, "frequency", "", "how often this comes up")
	f.StringVar(&opts.Impact, "impact", "", "impact level")
	f.StringVar(&opts.Domain, "domain", "", "comma-separated domains")
	f.StringVar(&opts.Source, "source", "", "where the request came from")
	f.StringVar(&opts.Link, "link", "", "related URL")
	f.StringVar(&opts.Notes, "notes", "", "extra notes")
	return cmd
}

func requestsFlushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Retry queued tool requests",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return failed(cmd, "Could not reach the tool server.", err)
			}
			defer a.Close()

			res, err := a.capturer().Flush(cmd.Context())
			if err != nil {
				return failed(cmd, "Flush failed.", err)
			}
			return emit(cmd, res.Envelope())
		},
	}
}
