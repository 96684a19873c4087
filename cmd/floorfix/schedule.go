package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/floorfix/floorfix/pkg/calibration"
)

func NewScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule [cron-expression]",
		Aliases: []string{"sch", "sched"},
		Short:   "Manage automatic floor fix schedule",
		Long: `Manage automatic floor fix schedule.

The schedule command can be used in multiple ways:
  floorfix schedule 'minute hour day month weekday' Set schedule with cron expression
  floorfix schedule disable                         Disable the schedule
  floorfix schedule postpone [duration]             Postpone next run
  floorfix schedule skip                            Skip next run
  floorfix schedule show                            Show current schedule

A scheduled run is skipped when no fresh poses are available at that time.`,
		Example: `  floorfix schedule '0 18 * * *'   (At 18:00 every day)
  floorfix schedule '30 9 * * 1-5'  (At 09:30 on weekdays)`,
		GroupID: gAdvanced,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runScheduleShow(cmd)
			}
			return runScheduleSet(cmd, args[0])
		},
	}

	cmd.AddCommand(
		newScheduleDisableCommand(),
		newSchedulePostponeCommand(),
		newScheduleSkipCommand(),
		newScheduleShowCommand(),
	)

	return cmd
}

func newScheduleDisableCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Disable the floor fix schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScheduleDisable(cmd)
		},
	}
}

func newSchedulePostponeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "postpone [duration]",
		Short: "Postpone the next scheduled floor fix",
		Example: `  floorfix schedule postpone      (Postpone by 1 hour)
  floorfix schedule postpone 90m  (Postpone by 90 minutes)`,
		Long: `Postpone the next scheduled floor fix by a specified duration.
If no duration is provided, defaults to 1 hour.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := time.Hour
			if len(args) > 0 {
				parsed, err := time.ParseDuration(args[0])
				if err != nil {
					return fmt.Errorf("invalid duration %q: %w", args[0], err)
				}
				d = parsed
			}
			if d <= 0 {
				return fmt.Errorf("duration must be positive, got %s", d)
			}
			return runSchedulePostpone(cmd, d)
		},
	}
}

func newScheduleSkipCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "skip",
		Short: "Skip the next scheduled floor fix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScheduleSkip(cmd)
		},
	}
}

func newScheduleShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current floor fix schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScheduleShow(cmd)
		},
	}
}

func printNextRuns(cmd *cobra.Command, info *calibration.ScheduleInfo) {
	if info.Cron == "" {
		cmd.Println("Floor fix schedule disabled.")
		return
	}
	cmd.Printf("Schedule: %s\n", bold("%s", info.Cron))
	cmd.Printf("Next %d run(s):\n", len(info.NextRuns))
	for _, run := range info.NextRuns {
		cmd.Printf("  - %s\n", run.Local().Format(time.DateTime))
	}
}

func runScheduleSet(cmd *cobra.Command, cronExpr string) error {
	if cronExpr == "" {
		return fmt.Errorf("cron expression cannot be empty")
	}
	info, err := apiClient.SetSchedule(cronExpr)
	if err != nil {
		return fmt.Errorf("failed to set schedule: %w", err)
	}
	printNextRuns(cmd, info)
	return nil
}

func runScheduleDisable(cmd *cobra.Command) error {
	if _, err := apiClient.SetSchedule(""); err != nil {
		return fmt.Errorf("failed to disable schedule: %w", err)
	}
	cmd.Println("Floor fix schedule disabled.")
	return nil
}

func runSchedulePostpone(cmd *cobra.Command, d time.Duration) error {
	if err := apiClient.PostponeSchedule(d); err != nil {
		return fmt.Errorf("failed to postpone schedule: %w", err)
	}
	cmd.Printf("Next run postponed by %s.\n", d)
	return nil
}

func runScheduleSkip(cmd *cobra.Command) error {
	if err := apiClient.SkipSchedule(); err != nil {
		return fmt.Errorf("failed to skip schedule: %w", err)
	}
	cmd.Println("Next run skipped.")
	return nil
}

func runScheduleShow(cmd *cobra.Command) error {
	info, err := apiClient.GetSchedule()
	if err != nil {
		return fmt.Errorf("failed to get schedule: %w", err)
	}
	printNextRuns(cmd, info)
	return nil
}
