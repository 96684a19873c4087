package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/floorfix/floorfix/hack"
)

var (
	unitName = "floorfix.service"
	unitDir  = "/etc/systemd/system"
	unitPath = filepath.Join(unitDir, unitName)
)

// UnitOptions are substituted into the systemd unit.
type UnitOptions struct {
	ExePath      string
	ConfigPath   string
	SocketPath   string
	AllowNonRoot bool
}

// RenderUnit returns the systemd unit for opts.
func RenderUnit(opts UnitOptions) string {
	extra := ""
	if opts.AllowNonRoot {
		extra = " --always-allow-non-root-access"
	}
	return strings.NewReplacer(
		"/path/to/floorfix", opts.ExePath,
		"{{CONFIG}}", opts.ConfigPath,
		"{{SOCKET}}", opts.SocketPath,
		"{{EXTRA_ARGS}}", extra,
	).Replace(hack.SystemdUnitTemplate)
}

func Install(configPath, socketPath string, allowNonRoot bool) error {
	// Get the path to the current executable
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get the path to the current executable: %w", err)
	}
	exePath, err = filepath.Abs(exePath)
	if err != nil {
		return fmt.Errorf("failed to get the absolute path to the current executable: %w", err)
	}

	err = os.Chmod(exePath, 0755)
	if err != nil {
		return fmt.Errorf("failed to chmod the current executable to 0755: %w", err)
	}

	logrus.Infof("current executable path: %s", exePath)

	unit := RenderUnit(UnitOptions{
		ExePath:      exePath,
		ConfigPath:   configPath,
		SocketPath:   socketPath,
		AllowNonRoot: allowNonRoot,
	})

	logrus.Infof("writing systemd unit to %s", unitDir)

	// mkdir -p
	err = os.MkdirAll(unitDir, 0755)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", unitDir, err)
	}

	// warn if the file already exists
	_, err = os.Stat(unitPath)
	if err == nil {
		logrus.Warnf("%s already exists, overwriting", unitPath)
	}

	err = os.WriteFile(unitPath, []byte(unit), 0644)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", unitPath, err)
	}

	// chown root:root
	err = os.Chown(unitPath, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to chown %s: %w", unitPath, err)
	}

	logrus.Infof("starting floorfix")

	if err := systemctl("daemon-reload"); err != nil {
		return err
	}
	return systemctl("enable", "--now", unitName)
}

func systemctl(args ...string) error {
	out, err := exec.Command("systemctl", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl %s failed: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
