package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dcshock/defsync/observer"
	"github.com/spf13/cobra"
)

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	var (
		dsn   string
		limit int
		runID string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent publications from the ledger",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				cfg, err := loadConfig(opts)
				if err != nil {
					return err
				}
				dsn = cfg.Ledger.DSN
			}
			if dsn == "" {
				return withExit(exitConfig, fmt.Errorf("no ledger: set ledger.dsn or pass --dsn"))
			}
			ledger, err := observer.Open(cmd.Context(), dsn)
			if err != nil {
				return err
			}
			defer ledger.Close()

			if runID != "" {
				return printEvents(cmd, opts.Format, ledger, runID)
			}
			recs, err := ledger.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(recs)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PUBLISHED\tVERSION\tDIGEST\tCATEGORIES\tATTEMPTS")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n",
					r.PublishedAt.UTC().Format(time.RFC3339), short(r.Version), short(r.Digest), r.Categories, r.Attempts)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "ledger DSN (default ledger.dsn from config)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of publications")
	cmd.Flags().StringVar(&runID, "run", "", "show the stage transitions of one run instead")
	return cmd
}

func short(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

func printEvents(cmd *cobra.Command, format string, ledger *observer.Ledger, runID string) error {
	events, err := ledger.Events(cmd.Context(), runID)
	if err != nil {
		return err
	}
	if format == "json" {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(events)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OBSERVED\tSTAGE\tSTATUS\tVERSION\tERROR")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.ObservedAt.Format(time.RFC3339), e.Stage, e.Status, short(e.Version), e.Error)
	}
	return tw.Flush()
}
