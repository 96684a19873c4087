package floorfix

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/floorfix/floorfix/pkg/calibration"
	"github.com/floorfix/floorfix/pkg/tracking"
	"github.com/floorfix/floorfix/pkg/utils/ptr"
)

var (
	ErrInProgress = errors.New("floor fix already in progress")
	ErrNotRunning = errors.New("floor fix not running")
)

// OriginSink applies a vertical offset to the tracking origin and persists it.
type OriginSink interface {
	ApplyVerticalOffset(offset float32) error
}

// Options tunes a Calibrator. A zero SampleCount or a nil correction takes
// the calibration package default; a correction of 0 is honoured.
type Options struct {
	SampleCount    int
	UpCorrection   *float64
	DownCorrection *float64
	Logger         logrus.FieldLogger
}

func (o Options) withDefaults() Options {
	if o.SampleCount == 0 {
		o.SampleCount = calibration.DefaultSampleCount
	}
	// Selection takes the first sample; completion is checked from the second.
	if o.SampleCount < 2 {
		o.SampleCount = 2
	}
	// Copies keep callers from changing a running calibrator's corrections.
	o.UpCorrection = ptr.To(ptr.Deref(o.UpCorrection, calibration.ControllerUpOffsetCorrection))
	o.DownCorrection = ptr.To(ptr.Deref(o.DownCorrection, calibration.ControllerDownOffsetCorrection))
	if o.Logger == nil {
		o.Logger = logrus.WithField("component", "floorfix")
	}
	return o
}

type session struct {
	phase     calibration.Phase
	reference tracking.DeviceID
	offsetY   float64
	roll      circularMean
	startedAt time.Time
	// warned is set once a non-tracking reference has been logged.
	warned bool
}

// Calibrator is the floor fix state machine.
type Calibrator struct {
	opts      Options
	sink      OriginSink
	observers []Observer
	log       logrus.FieldLogger
	now       func() time.Time

	sess    session
	message string
	last    *calibration.Result

	// queue holds notifications raised while observers are being notified.
	queue       []func(Observer)
	dispatching bool
}

// New returns an inactive Calibrator that commits to sink and notifies
// observers.
func New(sink OriginSink, opts Options, observers ...Observer) *Calibrator {
	if sink == nil {
		panic("origin sink cannot be nil")
	}
	opts = opts.withDefaults()
	return &Calibrator{
		opts:      opts,
		sink:      sink,
		observers: observers,
		log:       opts.Logger,
		now:       time.Now,
		sess:      session{phase: calibration.PhaseInactive},
	}
}

// AddObserver registers another observer. It must not be called while a
// session is active.
func (c *Calibrator) AddObserver(o Observer) {
	c.observers = append(c.observers, o)
}

// SetOptions replaces the tuning options between sessions.
func (c *Calibrator) SetOptions(opts Options) error {
	if c.Active() {
		return ErrInProgress
	}
	if opts.Logger == nil {
		opts.Logger = c.log
	}
	c.opts = opts.withDefaults()
	c.log = c.opts.Logger
	return nil
}

// Options returns the options in effect, with every field resolved.
func (c *Calibrator) Options() Options {
	o := c.opts
	o.UpCorrection = ptr.To(*o.UpCorrection)
	o.DownCorrection = ptr.To(*o.DownCorrection)
	return o
}

// Active reports whether a session is running.
func (c *Calibrator) Active() bool {
	return c.sess.phase.Active()
}

// Phase returns the current phase.
func (c *Calibrator) Phase() calibration.Phase {
	return c.sess.phase
}

// Start opens a new session. No device is read until the next Tick.
func (c *Calibrator) Start() error {
	if c.Active() {
		return ErrInProgress
	}

	c.sess = session{
		phase:     calibration.PhaseSelectingReference,
		startedAt: c.now(),
	}
	c.message = ""
	c.log.WithField("samples", c.opts.SampleCount).Info("floor fix started")

	c.emit(Observer.OnFloorFixStarted)
	return nil
}

// Abort ends the running session without touching the origin.
func (c *Calibrator) Abort() error {
	if !c.Active() {
		return ErrNotRunning
	}

	c.log.WithFields(logrus.Fields{
		"phase":   c.sess.phase,
		"samples": c.sess.roll.Count(),
	}).Info("floor fix aborted")
	c.message = "Floor fix aborted."
	c.sess = session{phase: calibration.PhaseInactive}

	c.emit(Observer.OnFloorFixEnded)
	return nil
}

// Tick advances the session by one frame. It does nothing while inactive.
func (c *Calibrator) Tick(snap tracking.Snapshot) {
	switch c.sess.phase {
	case calibration.PhaseSelectingReference:
		if err := c.selectReference(snap); err != nil {
			c.log.WithError(err).Warn("floor fix reference selection failed")
			c.finish(err.Error())
		}
	case calibration.PhaseAccumulating:
		c.accumulate(snap)
		if c.sess.roll.Count() >= c.opts.SampleCount {
			c.complete()
		}
	}
}

func (c *Calibrator) selectReference(snap tracking.Snapshot) error {
	leftID := snap.DeviceForRole(tracking.RoleLeftHand)
	if leftID == tracking.InvalidDeviceID {
		return &calibration.AcquisitionError{Kind: calibration.ErrReferenceNotFound, Hand: calibration.HandLeft}
	}
	rightID := snap.DeviceForRole(tracking.RoleRightHand)
	if rightID == tracking.InvalidDeviceID {
		return &calibration.AcquisitionError{Kind: calibration.ErrReferenceNotFound, Hand: calibration.HandRight}
	}

	left, right := snap.Pose(leftID), snap.Pose(rightID)
	if !left.Tracking() {
		return &calibration.AcquisitionError{Kind: calibration.ErrTrackingUnavailable, Hand: calibration.HandLeft}
	}
	if !right.Tracking() {
		return &calibration.AcquisitionError{Kind: calibration.ErrTrackingUnavailable, Hand: calibration.HandRight}
	}

	// The lower controller is the one lying on the floor.
	ref, m := rightID, right.Transform
	if left.Transform.Height() < right.Transform.Height() {
		ref, m = leftID, left.Transform
	}

	c.sess.reference = ref
	c.sess.offsetY = m.Height()
	c.sess.roll.Add(m.Roll())
	c.sess.phase = calibration.PhaseAccumulating

	c.log.WithFields(logrus.Fields{
		"reference": ref,
		"offsetY":   c.sess.offsetY,
		"roll":      c.sess.roll.Mean(),
	}).Debug("floor fix reference selected")
	return nil
}

// accumulate folds one more roll sample in. The reference is not
// re-validated after selection.
func (c *Calibrator) accumulate(snap tracking.Snapshot) {
	pose := snap.Pose(c.sess.reference)
	if !pose.Tracking() && !c.sess.warned {
		c.sess.warned = true
		c.log.WithFields(logrus.Fields{
			"reference": c.sess.reference,
			"result":    pose.Result,
			"connected": pose.Connected,
		}).Warn("reference controller is not tracking, using its last reported geometry")
	}

	c.sess.roll.Add(pose.Transform.Roll())
}

func (c *Calibrator) complete() {
	roll := c.sess.roll.Mean()
	correction, grip := *c.opts.UpCorrection, calibration.GripTouchpadUp
	if math.Abs(roll) > math.Pi/2 {
		correction, grip = *c.opts.DownCorrection, calibration.GripTouchpadDown
	}
	offset := float32(c.sess.offsetY - correction)

	log := c.log.WithFields(logrus.Fields{
		"offset":     offset,
		"offsetY":    c.sess.offsetY,
		"roll":       roll,
		"grip":       grip,
		"correction": correction,
	})

	if err := c.sink.ApplyVerticalOffset(offset); err != nil {
		log.WithError(err).Error("failed to apply floor offset")
		c.finish(fmt.Sprintf("Failed to apply floor offset: %v", err))
		return
	}

	c.last = &calibration.Result{
		Offset:      offset,
		OffsetY:     c.sess.offsetY,
		Roll:        roll,
		Correction:  correction,
		Grip:        grip,
		Reference:   c.sess.reference,
		Samples:     c.sess.roll.Count(),
		CompletedAt: c.now(),
	}
	log.Info("floor fixed")
	c.finish("Fixed Floor: " + FormatOffset(offset))
}

// finish ends the session and reports message. The session is reset before
// observers run so an observer may Start again.
func (c *Calibrator) finish(message string) {
	c.sess = session{phase: calibration.PhaseInactive}
	c.message = message

	c.emit(func(o Observer) { o.OnFloorFixStatus(message) }, Observer.OnFloorFixEnded)
}

// emit delivers ns to every observer, in order. A notification raised by an
// observer, such as a Start from OnFloorFixEnded, waits until the queued ones
// have reached all observers, so each observer sees the same order.
func (c *Calibrator) emit(ns ...func(Observer)) {
	c.queue = append(c.queue, ns...)
	if c.dispatching {
		return
	}
	c.dispatching = true
	defer func() {
		c.dispatching = false
		c.queue = nil
	}()

	for len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		for _, o := range c.observers {
			next(o)
		}
	}
}

// Status returns a snapshot of the session for display.
func (c *Calibrator) Status() calibration.Status {
	st := calibration.Status{
		Phase:        c.sess.phase,
		Samples:      c.sess.roll.Count(),
		SampleTarget: c.opts.SampleCount,
		StartedAt:    c.sess.startedAt,
		Message:      c.message,
		CanStart:     !c.Active(),
		CanAbort:     c.Active(),
		Reference:    tracking.InvalidDeviceID,
	}
	if c.sess.phase == calibration.PhaseAccumulating {
		st.Reference = c.sess.reference
		st.RunningRoll = c.sess.roll.Mean()
		st.OffsetY = c.sess.offsetY
	}
	if c.last != nil {
		r := *c.last
		st.LastResult = &r
	}
	return st
}

// LastResult returns the last successful result, if any.
func (c *Calibrator) LastResult() (calibration.Result, bool) {
	if c.last == nil {
		return calibration.Result{}, false
	}
	return *c.last, true
}

// FormatOffset renders an offset the way it appears in status messages.
func FormatOffset(offset float32) string {
	return strconv.FormatFloat(float64(offset), 'g', -1, 32)
}
