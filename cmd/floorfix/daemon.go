package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/floorfix/floorfix/pkg/daemon"
	"github.com/floorfix/floorfix/pkg/version"
)

// alwaysAllowNonRootAccess opens the API socket to every local user,
// regardless of the allowNonRootAccess config key.
var alwaysAllowNonRootAccess = false

// NewDaemonCommand runs the frame loop that feeds pose snapshots into the
// calibrator and serves the API the other commands talk to.
func NewDaemonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "daemon",
		Hidden: true,
		Short:  "Run the pose loop and API server in the foreground",
		Long: `Run the floorfix frame loop in the foreground.

The daemon reads pose snapshots from the configured pose source (MQTT or
simulated) once per tick, feeds them to the floor calibrator and writes each
finished floor fix to the origin store. Other floorfix commands reach it over
the unix socket given by --daemon-socket. SIGHUP reloads the config file.

The install command sets this up as a system service, so running it by hand
is only needed for debugging.`,
		GroupID: gAdvanced,
		RunE: func(_ *cobra.Command, _ []string) error {
			logrus.WithFields(logrus.Fields{
				"version": version.Version,
				"commit":  version.GitCommit,
			}).Info("floorfix daemon starting")
			return daemon.Run(configPath, unixSocketPath, alwaysAllowNonRootAccess)
		},
	}

	f := cmd.Flags()

	f.BoolVar(&alwaysAllowNonRootAccess, "always-allow-non-root-access", false,
		"Let non-root users start floor fixes and change the schedule through the API socket.")

	return cmd
}
