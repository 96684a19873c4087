// Package posesource provides tracking.Source implementations: a subscriber
// fed by a tracking bridge over MQTT, and a simulated rig for bench testing.
package posesource

import (
	"errors"
	"time"
)

var (
	// ErrNoSnapshot is returned before the first snapshot arrives.
	ErrNoSnapshot = errors.New("no pose snapshot received yet")
	// ErrStale is returned when the latest snapshot is older than the
	// configured maximum age.
	ErrStale = errors.New("pose snapshot is stale")
)

// DefaultMaxAge is used when a source is created without a maximum age.
const DefaultMaxAge = 500 * time.Millisecond
