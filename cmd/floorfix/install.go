package main

import (
	"fmt"
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/floorfix/floorfix/pkg/config"
	daemonutils "github.com/floorfix/floorfix/pkg/utils/daemon"
)

// NewInstallCommand .
func NewInstallCommand() *cobra.Command {
	allowNonRootAccess := false

	cmd := &cobra.Command{
		Use:     "install",
		Short:   "Install floorfix (system-wide)",
		GroupID: gInstallation,
		Long: `Install floorfix daemon as a systemd service (system-wide).

This makes floorfix run in the background and automatically start on boot. You must run this command as root.

By default, only root user is allowed to access the floorfix daemon. If you want to allow non-root users, i.e., you, to access the daemon, use the --allow-non-root-access flag, so you don't have to use sudo every time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := config.NewFile(configPath)
			if err != nil {
				return err
			}

			conf.SetAllowNonRootAccess(allowNonRootAccess)
			if allowNonRootAccess {
				logrus.Info("non-root users are allowed to access the floorfix daemon.")
			} else {
				logrus.Info("only root user is allowed to access the floorfix daemon.")
			}

			// Save first so the daemon reads the right settings when it starts.
			err = conf.Save()
			if err != nil {
				return pkgerrors.Wrapf(err, "failed to save config")
			}

			err = daemonutils.Install(configPath, unixSocketPath, allowNonRootAccess)
			if err != nil {
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to install daemon: %v. Are you root?", err)
			}

			logrus.Infof("installation succeeded")

			exePath, _ := os.Executable()

			cmd.Printf("systemd will use current binary (%s) at startup so please make sure you do not move this binary. Once this binary is moved or deleted, you will need to run 'floorfix install' again.\n", exePath)

			return nil
		},
	}

	cmd.Flags().BoolVar(&allowNonRootAccess, "allow-non-root-access", false, "Allow non-root users to access floorfix daemon.")

	return cmd
}

// NewUninstallCommand .
func NewUninstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "uninstall",
		Short:   "Uninstall floorfix (system-wide)",
		GroupID: gInstallation,
		Long: `Uninstall floorfix daemon from systemd (system-wide).

This stops floorfix and removes its unit. The config file and the stored
standing origin are kept. You must run this command as root.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := daemonutils.Uninstall()
			if err != nil {
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to uninstall daemon: %v", err)
			}

			logrus.Infof("successfully uninstalled floorfix")
			cmd.Printf("Config (%s) was kept. Remove it manually if you no longer need it.\n", configPath)

			return nil
		},
	}
}
