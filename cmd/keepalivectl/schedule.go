package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"keepalive_engine/internal/model"
)

func newScheduleCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Show or change the schedule policy",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the schedule policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())
			printSchedule(cmd, a.Registry.Schedule())
			return nil
		},
	})
	cmd.AddCommand(newScheduleSetCmd(g))
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Restore the default schedule policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())
			s, err := a.Registry.ResetSchedule(cmd.Context())
			if err != nil {
				return err
			}
			printSchedule(cmd, s)
			return nil
		},
	})
	return cmd
}

func newScheduleSetCmd(g *globalFlags) *cobra.Command {
	var (
		enabled  bool
		interval int
		start    string
		end      string
		weekend  bool
		fullDay  bool
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change the schedule policy; omitted flags keep their value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			next := a.Registry.Schedule()
			flags := cmd.Flags()
			if fullDay {
				next = model.FullDaySchedule(next.IntervalMinutes)
			}
			if flags.Changed("enabled") {
				next.Enabled = enabled
			}
			if flags.Changed("interval") {
				next.IntervalMinutes = interval
			}
			if flags.Changed("start") {
				next.StartTime = start
			}
			if flags.Changed("end") {
				next.EndTime = end
			}
			if flags.Changed("weekend") {
				next.WeekendEnabled = weekend
			}
			saved, err := a.Registry.UpdateSchedule(cmd.Context(), next)
			if err != nil {
				return err
			}
			printSchedule(cmd, saved)
			return nil
		},
	}
	cmd.Flags().BoolVar(&enabled, "enabled", true, "enable scheduled runs")
	cmd.Flags().IntVar(&interval, "interval", 30, fmt.Sprintf("minutes between runs (%d-%d)", model.MinIntervalMinutes, model.MaxIntervalMinutes))
	cmd.Flags().StringVar(&start, "start", "", "window start, HH:MM")
	cmd.Flags().StringVar(&end, "end", "", "window end, HH:MM")
	cmd.Flags().BoolVar(&weekend, "weekend", true, "run on Saturday and Sunday")
	cmd.Flags().BoolVar(&fullDay, "full-day", false, "run around the clock (00:00-23:59, weekends included)")
	return cmd
}

func printSchedule(cmd *cobra.Command, s model.Schedule) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "enabled:  %t\n", s.Enabled)
	fmt.Fprintf(out, "interval: %d minutes\n", s.IntervalMinutes)
	fmt.Fprintf(out, "window:   %s-%s\n", s.StartTime, s.EndTime)
	fmt.Fprintf(out, "weekend:  %t\n", s.WeekendEnabled)
}
