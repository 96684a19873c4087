package calibration

import (
	"errors"
	"fmt"
)

var (
	// ErrReferenceNotFound means a hand role maps to no device.
	ErrReferenceNotFound = errors.New("reference controller not found")
	// ErrTrackingUnavailable means a hand's device is disconnected, has an
	// invalid pose, or is not running OK.
	ErrTrackingUnavailable = errors.New("controller tracking unavailable")
)

// Hand names a controller hand in status messages.
type Hand string

const (
	HandLeft  Hand = "left"
	HandRight Hand = "right"
)

// AcquisitionError ends a session during reference selection. Its message is
// the status text reported to observers.
type AcquisitionError struct {
	Kind error
	Hand Hand
}

func (e *AcquisitionError) Error() string {
	if errors.Is(e.Kind, ErrReferenceNotFound) {
		return fmt.Sprintf("No %s controller found.", e.Hand)
	}
	return fmt.Sprintf("%s controller tracking problems.", capitalize(string(e.Hand)))
}

func (e *AcquisitionError) Unwrap() error { return e.Kind }

func capitalize(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}
