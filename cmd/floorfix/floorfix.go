package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/floorfix/floorfix/pkg/calibration"
	"github.com/floorfix/floorfix/pkg/events"
)

func NewStartCommand() *cobra.Command {
	wait := false
	timeout := time.Minute

	cmd := &cobra.Command{
		Use:     "start",
		Short:   "Start a floor fix",
		GroupID: gBasic,
		Long: `Start a floor fix.

Put both controllers flat on the floor before running this. The daemon picks
the lower controller as the reference, collects samples for a fraction of a
second and moves the standing origin so that the floor is at height zero.

With --wait, the command follows the session and prints its status messages
until it ends.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !wait {
				if err := apiClient.StartFloorFix(); err != nil {
					return fmt.Errorf("failed to start floor fix: %w", err)
				}
				cmd.Println("Floor fix started.")
				return nil
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
			defer cancelTimeout()

			// Subscribe first so no event of the session is missed.
			ch, err := apiClient.SubscribeEvents(ctx)
			if err != nil {
				return fmt.Errorf("failed to follow floor fix: %w", err)
			}
			if err := apiClient.StartFloorFix(); err != nil {
				return fmt.Errorf("failed to start floor fix: %w", err)
			}

			return followSession(ctx, cmd, ch)
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the floor fix to finish and print its progress")
	cmd.Flags().DurationVar(&timeout, "timeout", timeout, "Give up waiting after this long (with --wait)")

	return cmd
}

// followSession prints status events until the session ends. Interrupting it
// aborts the session.
func followSession(ctx context.Context, cmd *cobra.Command, ch <-chan events.Event) error {
	for {
		select {
		case <-ctx.Done():
			if err := apiClient.AbortFloorFix(); err != nil {
				logrus.WithError(err).Debug("failed to abort floor fix")
			}
			return fmt.Errorf("floor fix did not finish: %w", ctx.Err())
		case ev, ok := <-ch:
			if !ok {
				return fmt.Errorf("event stream closed before the floor fix ended")
			}
			switch ev.Name {
			case events.FloorFixStarted:
				cmd.Println("Floor fix started.")
			case events.FloorFixStatus:
				payload, err := events.DecodeAs[events.FloorFixStatusEvent](ev)
				if err != nil {
					logrus.WithError(err).Warn("failed to decode status event")
					continue
				}
				cmd.Println(bold("%s", payload.Message))
			case events.FloorFixEnded:
				cmd.Println("Floor fix ended.")
				return nil
			}
		}
	}
}

func NewAbortCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "abort",
		Short:   "Abort the running floor fix",
		GroupID: gBasic,
		Long: `Abort the running floor fix.

The origin is left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := apiClient.AbortFloorFix(); err != nil {
				return fmt.Errorf("failed to abort floor fix: %w", err)
			}
			cmd.Println("Floor fix aborted.")
			return nil
		},
	}
}

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of floorfix",
		Long:    `Get the floor fix session state, the last result and the stored origin.`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.GetStatus()
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}
			u, err := apiClient.GetOrigin()
			if err != nil {
				return fmt.Errorf("failed to get origin: %w", err)
			}

			printStatus(cmd, st)
			cmd.Println()
			printUniverse(cmd, u)
			return nil
		},
	}
}

func phaseColor(p calibration.Phase) *color.Color {
	switch p {
	case calibration.PhaseAccumulating:
		return color.New(color.FgYellow, color.Bold)
	case calibration.PhaseSelectingReference:
		return color.New(color.FgCyan, color.Bold)
	default:
		return color.New(color.FgGreen, color.Bold)
	}
}

func printStatus(cmd *cobra.Command, st *calibration.Status) {
	cmd.Println(color.New(color.Bold).Sprint("Floor fix:"))
	cmd.Printf("  Phase: %s\n", phaseColor(st.Phase).Sprint(st.Phase))
	if st.Phase == calibration.PhaseAccumulating {
		cmd.Printf("  Reference: %s\n", bold("device %d", st.Reference))
		cmd.Printf("  Samples: %s\n", bold("%d/%d", st.Samples, st.SampleTarget))
		cmd.Printf("  Running roll: %s\n", bold("%.3f rad", st.RunningRoll))
		cmd.Printf("  Running offset: %s\n", bold("%.4f m", st.OffsetY))
	}
	if !st.StartedAt.IsZero() && st.Phase.Active() {
		cmd.Printf("  Started: %s\n", formatTime(st.StartedAt))
	}
	if st.Message != "" {
		cmd.Printf("  Message: %s\n", st.Message)
	}
	if r := st.LastResult; r != nil {
		cmd.Printf("  Last result: %s (%s grip, roll %.3f rad, %d samples)\n",
			bold("%.4f m", r.Offset), r.Grip, r.Roll, r.Samples)
		cmd.Printf("  Completed: %s\n", formatTime(r.CompletedAt))
	}
	cmd.Printf("  Next scheduled: %s\n", formatTime(st.ScheduledAt))
}
