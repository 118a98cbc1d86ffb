package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/charlie0129/te5025/pkg/types"
)

func NewScheduleCommand() *cobra.Command {
	var sequencePath string

	cmd := &cobra.Command{
		Use:     "schedule [cron-expression]",
		Aliases: []string{"sch", "sche", "sched"},
		Short:   "Manage scheduled sequence runs",
		Long: `Manage scheduled sequence runs.

The schedule command can be used in multiple ways:
  te5025 schedule 'sec min hour day month weekday' --sequence file.yaml  Set schedule
  te5025 schedule disable                                              Disable the schedule
  te5025 schedule postpone [duration]                                  Postpone next run
  te5025 schedule skip                                                 Skip next run
  te5025 schedule show                                                 Show current schedule

The seconds field is optional, so plain 5-field expressions work too.
Descriptors such as @daily and @every 6h are accepted. The sequence file must
be readable by the daemon; it is checked when the schedule is set and loaded
again before every run.`,
		Example: `  te5025 schedule '0 7 * * 1' --sequence /etc/te5025/dc-voltage.yaml (At 07:00 every Monday)
  te5025 schedule '@every 4h' (Every 4 hours, keeping the configured sequence)`,
		GroupID: gAdvanced,
		RunE: func(cmd *cobra.Command, args []string) error {
			// If no arguments, show the current schedule
			if len(args) == 0 {
				return runScheduleShow(cmd)
			}
			// Otherwise, treat as a cron expression to set
			return runScheduleSet(cmd, args[0], sequencePath)
		},
	}

	cmd.Flags().StringVar(&sequencePath, "sequence", "", "sequence file to run (defaults to the configured one)")

	// Add subcommands
	cmd.AddCommand(
		newScheduleDisableCommand(),
		newSchedulePostponeCommand(),
		newScheduleSkipCommand(),
		newScheduleShowCommand(),
	)

	return cmd
}

func newScheduleDisableCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disable",
		Short: "Disable the schedule",
		Long:  "Disable scheduled sequence runs.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleDisable(cmd)
		},
	}
	return cmd
}

func newSchedulePostponeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "postpone [duration]",
		Short: "Postpone the next scheduled run",
		Example: `  te5025 schedule postpone      (Postpone by 1 hour)
  te5025 schedule postpone 90m  (Postpone by 90 minutes)`,
		Long: `Postpone the next scheduled run by a specified duration.
If no duration is provided, defaults to 1 hour. A run cannot be postponed
past the one after it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := time.Hour // default
			if len(args) > 0 {
				parsed, err := time.ParseDuration(args[0])
				if err != nil {
					return fmt.Errorf("invalid duration %q: %w", args[0], err)
				}
				d = parsed
			}
			return runSchedulePostpone(cmd, d)
		},
	}
	return cmd
}

func newScheduleSkipCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skip",
		Short: "Skip the next scheduled run",
		Long:  "Skip the next scheduled run.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleSkip(cmd)
		},
	}
	return cmd
}

func newScheduleShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current schedule",
		Long:  "Show the current schedule and next run times.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleShow(cmd)
		},
	}
	return cmd
}

func runScheduleSet(cmd *cobra.Command, cronExpr, sequencePath string) error {
	if cronExpr == "" {
		return fmt.Errorf("cron expression cannot be empty")
	}

	// The daemon resolves relative paths against its own working directory.
	if sequencePath != "" {
		abs, err := filepath.Abs(sequencePath)
		if err != nil {
			return err
		}
		sequencePath = abs
	}

	ctx, cancel := cmdContext(cmd)
	defer cancel()

	st, err := apiClient.SetSchedule(ctx, cronExpr, sequencePath)
	if err != nil {
		return err
	}
	printSchedule(cmd, st, "Sequence scheduled.")
	return nil
}

func runScheduleDisable(cmd *cobra.Command) error {
	ctx, cancel := cmdContext(cmd)
	defer cancel()

	if _, err := apiClient.SetSchedule(ctx, "", ""); err != nil {
		return err
	}
	cmd.Println("Schedule disabled.")
	return nil
}

func runSchedulePostpone(cmd *cobra.Command, duration time.Duration) error {
	ctx, cancel := cmdContext(cmd)
	defer cancel()

	st, err := apiClient.PostponeSchedule(ctx, duration)
	if err != nil {
		return err
	}
	printSchedule(cmd, st, fmt.Sprintf("Next run postponed by %s.", duration))
	return nil
}

func runScheduleSkip(cmd *cobra.Command) error {
	ctx, cancel := cmdContext(cmd)
	defer cancel()

	st, err := apiClient.SkipSchedule(ctx)
	if err != nil {
		return err
	}
	printSchedule(cmd, st, "Next scheduled run skipped.")
	return nil
}

func runScheduleShow(cmd *cobra.Command) error {
	ctx, cancel := cmdContext(cmd)
	defer cancel()

	st, err := apiClient.Schedule(ctx)
	if err != nil {
		return err
	}
	if !st.Enabled {
		cmd.Println("Schedule is not set.")
		return nil
	}
	printSchedule(cmd, st, fmt.Sprintf("Schedule: %s", bold("%s", st.Cron)))
	return nil
}

func printSchedule(cmd *cobra.Command, st types.ScheduleStatus, headline string) {
	cmd.Println(headline)
	if st.Sequence != "" {
		cmd.Printf("Sequence: %s\n", st.Sequence)
	}
	if len(st.NextRuns) == 0 {
		return
	}
	cmd.Printf("Next %d run(s):\n", len(st.NextRuns))
	for _, run := range st.NextRuns {
		cmd.Printf("  - %s\n", run.Local().Format(time.DateTime))
	}
}
