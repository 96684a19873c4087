package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"

	"github.com/floorfix/floorfix/pkg/version"
)

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

func getVersion() (string, string, error) {
	daemonVersion, err := apiClient.GetVersion()
	if err != nil {
		return version.Version, "", err
	}
	return version.Version, daemonVersion, nil
}

// formatTime prints t in local time with a relative hint, or "never".
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Until(t).Round(time.Second)
	if d >= 0 {
		return fmt.Sprintf("%s (in %s)", t.Local().Format(time.DateTime), d)
	}
	return fmt.Sprintf("%s (%s ago)", t.Local().Format(time.DateTime), -d)
}
