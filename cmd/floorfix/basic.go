package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/floorfix/floorfix/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

func NewConfigCommand() *cobra.Command {
	output := "yaml"

	cmd := &cobra.Command{
		Use:     "config",
		Short:   "Print the daemon's effective configuration",
		GroupID: gAdvanced,
		Long: `Print the daemon's effective configuration.

Unset keys are shown with their defaults. Credentials are never printed.
Edit the config file and send SIGHUP to the daemon to apply changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := apiClient.GetConfig()
			if err != nil {
				return fmt.Errorf("failed to get config: %w", err)
			}

			var b []byte
			switch output {
			case "yaml", "yml":
				b, err = yaml.Marshal(conf)
			case "json":
				b, err = json.MarshalIndent(conf, "", "  ")
				b = append(b, '\n')
			default:
				return fmt.Errorf("unknown output format %q", output)
			}
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			cmd.Print(string(b))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", output, "Output format (yaml, json)")

	return cmd
}

func NewLoopCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "loop",
		Short:   "Show frame loop statistics",
		GroupID: gAdvanced,
		Long: `Show frame loop statistics.

Skipped ticks are frames where no fresh pose snapshot was available, which
usually means the pose publisher is down.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.GetLoopStats()
			if err != nil {
				return fmt.Errorf("failed to get loop stats: %w", err)
			}
			cmd.Printf("Tick interval: %s\n", bold("%s", st.TickInterval))
			cmd.Printf("Tick rate: %s\n", bold("%.1f/s", st.TickRate))
			cmd.Printf("Missed ticks: %d\n", st.MissedTicks)
			cmd.Printf("Skipped ticks: %d\n", st.SkippedTicks)
			cmd.Printf("Last tick: %s\n", formatTime(st.LastTick))
			return nil
		},
	}
}
