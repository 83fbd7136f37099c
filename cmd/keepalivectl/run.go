package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newRunCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run [id...]",
		Short: "Run one keepalive pass now, over the given ids or every enabled account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int, 0, len(args))
			for _, raw := range args {
				id, err := parseID(raw)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}

			a, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			sum, err := a.Engine.RunSequential(cmd.Context(), ids)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s: %d/%d succeeded in %s\n", sum.RunID, sum.SuccessCount, sum.Total, sum.Duration.Round(time.Second))
			for _, r := range sum.Results {
				line := fmt.Sprintf("  %-20s %s", r.Name, r.Outcome)
				if r.Reason != "" {
					line += ": " + r.Reason
				}
				fmt.Fprintln(out, line)
			}
			if len(sum.FailedAccounts) > 0 {
				return fmt.Errorf("failed accounts: %s", strings.Join(sum.FailedAccounts, ", "))
			}
			return nil
		},
	}
}

func newSummaryCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Print account counts by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			sum := a.Registry.Summary(false)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "accounts: %d total, %d enabled\n", sum.TotalAccounts, sum.EnabledAccounts)
			statuses := make([]string, 0, len(sum.StatusCounts))
			for s := range sum.StatusCounts {
				statuses = append(statuses, s)
			}
			sort.Strings(statuses)
			for _, s := range statuses {
				fmt.Fprintf(out, "  %-24s %d\n", s, sum.StatusCounts[s])
			}
			return nil
		},
	}
}
