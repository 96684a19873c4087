package daemon

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/floorfix/floorfix/pkg/calibration"
	"github.com/floorfix/floorfix/pkg/floorfix"
	"github.com/floorfix/floorfix/pkg/tracking"
)

// ErrLoopStopped is returned by requests made after the loop exited.
var ErrLoopStopped = errors.New("frame loop is not running")

// TickRecorder records the times of the last N ticks that fed a session.
type TickRecorder struct {
	MaxRecordCount int
	LastTickTimes  []time.Time
	mu             *sync.Mutex
}

// NewTickRecorder returns a new TickRecorder.
func NewTickRecorder(maxRecordCount int) *TickRecorder {
	return &TickRecorder{
		MaxRecordCount: maxRecordCount,
		LastTickTimes:  make([]time.Time, 0),
		mu:             &sync.Mutex{},
	}
}

// AddRecord adds a new record.
func (r *TickRecorder) AddRecord(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Strip monotonic clock reading.
	t = t.Round(0)

	if len(r.LastTickTimes) >= r.MaxRecordCount {
		r.LastTickTimes = r.LastTickTimes[1:]
	}
	r.LastTickTimes = append(r.LastTickTimes, t)
}

// ClearRecords clears all records.
func (r *TickRecorder) ClearRecords() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.LastTickTimes = make([]time.Time, 0)
}

// GetRecords returns a copy of the records.
func (r *TickRecorder) GetRecords() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]time.Time, len(r.LastTickTimes))
	copy(out, r.LastTickTimes)
	return out
}

// GetLastRecord returns the last record.
func (r *TickRecorder) GetLastRecord() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.LastTickTimes) == 0 {
		return time.Time{}
	}

	return r.LastTickTimes[len(r.LastTickTimes)-1]
}

// Rate returns the average tick rate in Hz over the recorded span.
func (r *TickRecorder) Rate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.LastTickTimes)
	if n < 2 {
		return 0
	}
	span := r.LastTickTimes[n-1].Sub(r.LastTickTimes[0])
	if span <= 0 {
		return 0
	}
	return float64(n-1) / span.Seconds()
}

// GetMissedTicks returns the number of gaps between adjacent records longer
// than maxGap.
func (r *TickRecorder) GetMissedTicks(maxGap time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	missed := 0
	for i := 1; i < len(r.LastTickTimes); i++ {
		if r.LastTickTimes[i].Sub(r.LastTickTimes[i-1]) > maxGap {
			missed++
		}
	}
	return missed
}

type requestKind int

const (
	reqStart requestKind = iota
	reqAbort
	reqStatus
	reqSetOptions
)

type loopRequest struct {
	kind  requestKind
	opts  floorfix.Options
	reply chan loopReply
}

type loopReply struct {
	status calibration.Status
	err    error
}

// Loop owns a Calibrator and drives it from a pose source. Every calibrator
// access happens on the goroutine running Run; other goroutines go through
// Start, Abort, Status and SetOptions.
//
// Observers of the calibrator run on the loop goroutine and must not call
// back into the Loop.
type Loop struct {
	cal      *floorfix.Calibrator
	source   tracking.Source
	interval time.Duration
	recorder *TickRecorder

	reqCh chan loopRequest
	done  chan struct{}

	skipped atomic.Uint64
	// lastSkip is only touched by the loop goroutine.
	lastSkip string
}

// NewLoop creates a loop ticking every interval.
func NewLoop(cal *floorfix.Calibrator, source tracking.Source, interval time.Duration) *Loop {
	if cal == nil || source == nil {
		panic("calibrator and pose source cannot be nil")
	}
	if interval <= 0 {
		panic("tick interval must be positive")
	}
	return &Loop{
		cal:      cal,
		source:   source,
		interval: interval,
		recorder: NewTickRecorder(512),
		reqCh:    make(chan loopRequest),
		done:     make(chan struct{}),
	}
}

// Run drives the calibrator until ctx is done. A session still running at
// that point is aborted.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	logrus.WithField("interval", l.interval).Debug("frame loop started")

	for {
		select {
		case <-ctx.Done():
			if l.cal.Active() {
				logrus.Info("aborting floor fix on shutdown")
				_ = l.cal.Abort()
			}
			logrus.Debug("frame loop stopped")
			return
		case req := <-l.reqCh:
			req.reply <- l.handle(req)
		case now := <-ticker.C:
			l.tick(now)
		}
	}
}

func (l *Loop) handle(req loopRequest) loopReply {
	var err error
	switch req.kind {
	case reqStart:
		l.recorder.ClearRecords()
		l.lastSkip = ""
		err = l.cal.Start()
	case reqAbort:
		err = l.cal.Abort()
	case reqSetOptions:
		err = l.cal.SetOptions(req.opts)
	case reqStatus:
	}
	return loopReply{status: l.cal.Status(), err: err}
}

func (l *Loop) tick(now time.Time) {
	if !l.cal.Active() {
		return
	}

	snap, err := l.source.Snapshot()
	if err != nil {
		// The sample count does not advance without a frame.
		l.skipped.Add(1)
		if msg := err.Error(); msg != l.lastSkip {
			logrus.WithError(err).Warn("no pose frame, skipping tick")
			l.lastSkip = msg
		}
		return
	}
	l.lastSkip = ""

	l.cal.Tick(snap)
	l.recorder.AddRecord(now)

	if !l.cal.Active() {
		logrus.WithFields(logrus.Fields{
			"tickRate":    l.recorder.Rate(),
			"missedTicks": l.recorder.GetMissedTicks(2 * l.interval),
		}).Debug("floor fix session timing")
	}
}

func (l *Loop) do(ctx context.Context, req loopRequest) (loopReply, error) {
	req.reply = make(chan loopReply, 1)

	select {
	case l.reqCh <- req:
	case <-l.done:
		return loopReply{}, ErrLoopStopped
	case <-ctx.Done():
		return loopReply{}, ctx.Err()
	}

	select {
	case r := <-req.reply:
		return r, nil
	case <-ctx.Done():
		return loopReply{}, ctx.Err()
	}
}

// Start begins a floor fix session.
func (l *Loop) Start(ctx context.Context) error {
	r, err := l.do(ctx, loopRequest{kind: reqStart})
	if err != nil {
		return err
	}
	return r.err
}

// Abort ends the running session without applying anything.
func (l *Loop) Abort(ctx context.Context) error {
	r, err := l.do(ctx, loopRequest{kind: reqAbort})
	if err != nil {
		return err
	}
	return r.err
}

// Status returns the calibrator's status.
func (l *Loop) Status(ctx context.Context) (calibration.Status, error) {
	r, err := l.do(ctx, loopRequest{kind: reqStatus})
	if err != nil {
		return calibration.Status{}, err
	}
	return r.status, nil
}

// SetOptions retunes the calibrator. It fails while a session is running.
func (l *Loop) SetOptions(ctx context.Context, opts floorfix.Options) error {
	r, err := l.do(ctx, loopRequest{kind: reqSetOptions, opts: opts})
	if err != nil {
		return err
	}
	return r.err
}

// Stats returns tick diagnostics of the current or last session.
func (l *Loop) Stats() calibration.LoopStats {
	return calibration.LoopStats{
		TickInterval: l.interval,
		TickRate:     l.recorder.Rate(),
		MissedTicks:  l.recorder.GetMissedTicks(2 * l.interval),
		SkippedTicks: l.skipped.Load(),
		LastTick:     l.recorder.GetLastRecord(),
	}
}
