package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/floorfix/floorfix/pkg/origin"
)

func NewOriginCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "origin",
		Short:   "Show or reset the stored standing origin",
		GroupID: gAdvanced,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOriginShow(cmd)
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show the stored standing origin",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runOriginShow(cmd)
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Reset the standing origin to identity",
			Long: `Reset the standing origin to identity.

This undoes every floor fix applied so far. It is refused while a floor fix is running.`,
			Args: cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := apiClient.ResetOrigin(); err != nil {
					return fmt.Errorf("failed to reset origin: %w", err)
				}
				cmd.Println("Standing origin reset.")
				return nil
			},
		},
	)

	return cmd
}

func runOriginShow(cmd *cobra.Command) error {
	u, err := apiClient.GetOrigin()
	if err != nil {
		return fmt.Errorf("failed to get origin: %w", err)
	}
	printUniverse(cmd, u)
	return nil
}

func printUniverse(cmd *cobra.Command, u *origin.Universe) {
	m := u.StandingZeroPose
	cmd.Println(bold("Standing origin:"))
	cmd.Printf("  Height: %s\n", bold("%.4f m", m.Height()))
	for _, row := range m {
		cmd.Printf("  [% .4f % .4f % .4f | % .4f]\n", row[0], row[1], row[2], row[3])
	}
	cmd.Printf("  Revision: %d\n", u.Revision)
	cmd.Printf("  Committed: %s\n", formatTime(u.CommittedAt))
	if u.LastOffset != nil {
		cmd.Printf("  Last offset: %s\n", bold("%.4f m", *u.LastOffset))
	}
}
