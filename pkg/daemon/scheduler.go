package daemon

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	// defaultLeadDuration is how long before a scheduled floor fix the user
	// is told to put the controllers on the floor.
	defaultLeadDuration  = 2 * time.Minute
	defaultReadyRetries  = 30
	defaultReadyInterval = 10 * time.Second

	idleWait = 24 * time.Hour
)

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ScheduleHooks connect the scheduler to the rest of the daemon. Only Start
// is required. Upcoming and Failed run on their own goroutines.
type ScheduleHooks struct {
	// Start begins a floor fix.
	Start func() error
	// Ready returns nil once fresh poses are available.
	Ready func() error
	// Upcoming announces a run ahead of time.
	Upcoming func(at time.Time)
	// Failed reports a run that could not start.
	Failed func(at time.Time, err error)
}

// Scheduler starts floor fixes on a cron schedule. Each run is announced
// LeadDuration ahead. At run time Ready is polled every ReadyInterval, up to
// ReadyRetries times, before the run is given up.
type Scheduler struct {
	LeadDuration  time.Duration
	ReadyRetries  int
	ReadyInterval time.Duration

	hooks ScheduleHooks

	mu       sync.Mutex
	expr     string
	schedule cron.Schedule
	nextRun  time.Time
	running  bool

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// pendingRun tracks the progress of the run the loop is waiting for.
type pendingRun struct {
	at        time.Time
	announced bool
	attempts  int
}

func NewScheduler(hooks ScheduleHooks) *Scheduler {
	if hooks.Start == nil {
		panic("scheduler needs a start hook")
	}

	return &Scheduler{
		LeadDuration:  defaultLeadDuration,
		ReadyRetries:  defaultReadyRetries,
		ReadyInterval: defaultReadyInterval,
		hooks:         hooks,
		wake:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
	}
}

// ParseCron validates a cron expression the way the scheduler reads it.
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// NextRuns returns the next n run times of expr after from.
func NextRuns(expr string, from time.Time, n int) ([]time.Time, error) {
	sh, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}
	runs := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		from = sh.Next(from)
		runs = append(runs, from)
	}
	return runs, nil
}

// Start launches the scheduling goroutine. It is a no-op if already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	go s.loop()
}

// Stop ends the scheduling goroutine for good.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Schedule replaces the schedule. An empty expression disables it.
func (s *Scheduler) Schedule(cronExpr string) error {
	var sh cron.Schedule
	if cronExpr != "" {
		var err error
		sh, err = ParseCron(cronExpr)
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.expr = cronExpr
	s.schedule = sh
	s.nextRun = time.Time{}
	if sh != nil {
		s.nextRun = sh.Next(time.Now())
	}
	s.mu.Unlock()

	s.poke()
	return nil
}

// Postpone moves the next run d later. The postponed run must still come
// before the one after it.
func (s *Scheduler) Postpone(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("postpone duration must be positive")
	}

	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() {
		s.mu.Unlock()
		return fmt.Errorf("no active schedule to postpone")
	}
	following := s.schedule.Next(s.nextRun)
	postponed := s.nextRun.Add(d).Truncate(time.Second)
	if !postponed.Before(following) {
		s.mu.Unlock()
		return fmt.Errorf("postpone duration too long, the following run is at %s", following.Format(time.DateTime))
	}
	s.nextRun = postponed
	s.mu.Unlock()

	s.poke()
	return nil
}

// Skip drops the next run.
func (s *Scheduler) Skip() error {
	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() {
		s.mu.Unlock()
		return fmt.Errorf("no active schedule to skip")
	}
	s.nextRun = s.schedule.Next(s.nextRun)
	s.mu.Unlock()

	s.poke()
	return nil
}

// Status returns the next run, zero when unscheduled, and whether the
// scheduling goroutine is running.
func (s *Scheduler) Status() (nextRun time.Time, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun, s.running
}

// Expr returns the current cron expression.
func (s *Scheduler) Expr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expr
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		logrus.Debug("scheduler stopped")
	}()
	logrus.Debug("scheduler started")

	timer := time.NewTimer(idleWait)
	defer timer.Stop()

	var run pendingRun
	for {
		next, _ := s.Status()
		if !run.at.Equal(next) {
			run = pendingRun{at: next, announced: s.LeadDuration <= 0}
		}

		timer.Reset(s.wait(run))

		select {
		case <-s.stop:
			return
		case <-s.wake:
			continue
		case <-timer.C:
		}

		if run.at.IsZero() {
			continue
		}
		if !run.announced {
			run.announced = true
			logrus.WithField("at", run.at.Format(time.DateTime)).Debug("upcoming floor fix")
			if s.hooks.Upcoming != nil {
				go s.hooks.Upcoming(run.at)
			}
			continue
		}
		if s.hooks.Ready != nil {
			if err := s.hooks.Ready(); err != nil {
				run.attempts++
				if run.attempts <= s.ReadyRetries {
					logrus.WithError(err).WithField("attempt", run.attempts).Debug("poses not ready for scheduled floor fix")
					continue
				}
				s.fail(run.at, fmt.Errorf("poses not ready after %d attempts: %w", run.attempts, err))
				s.advance(run.at)
				continue
			}
		}

		logrus.WithField("at", run.at.Format(time.DateTime)).Info("starting scheduled floor fix")
		go func(at time.Time) {
			if err := s.hooks.Start(); err != nil {
				s.fail(at, err)
			}
		}(run.at)
		s.advance(run.at)
	}
}

// wait returns how long the loop sleeps before acting on run.
func (s *Scheduler) wait(run pendingRun) time.Duration {
	var d time.Duration
	switch {
	case run.at.IsZero():
		return idleWait
	case !run.announced:
		d = time.Until(run.at) - s.LeadDuration
	case run.attempts > 0:
		d = s.ReadyInterval
	default:
		d = time.Until(run.at)
	}
	return max(d, 0)
}

// advance moves past the run at at, unless the schedule changed meanwhile.
func (s *Scheduler) advance(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule == nil || !s.nextRun.Equal(at) {
		return
	}
	// Never hand the loop a run in the past, e.g. after a suspend.
	from := at
	if now := time.Now(); now.After(from) {
		from = now
	}
	s.nextRun = s.schedule.Next(from)
}

func (s *Scheduler) fail(at time.Time, err error) {
	logrus.WithError(err).WithField("at", at.Format(time.DateTime)).Warn("scheduled floor fix failed")
	if s.hooks.Failed != nil {
		go s.hooks.Failed(at, err)
	}
}
