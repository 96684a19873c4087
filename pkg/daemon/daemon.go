package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/floorfix/floorfix/pkg/calibration"
	"github.com/floorfix/floorfix/pkg/config"
	"github.com/floorfix/floorfix/pkg/events"
	"github.com/floorfix/floorfix/pkg/floorfix"
	"github.com/floorfix/floorfix/pkg/origin"
	"github.com/floorfix/floorfix/pkg/posesource"
	"github.com/floorfix/floorfix/pkg/tracking"
	"github.com/floorfix/floorfix/pkg/utils/ptr"
)

// optionsFromConfig maps the config file onto calibrator options.
func optionsFromConfig(conf config.Config) floorfix.Options {
	return floorfix.Options{
		SampleCount:    conf.SampleCount(),
		UpCorrection:   ptr.To(conf.ControllerUpOffsetCorrection()),
		DownCorrection: ptr.To(conf.ControllerDownOffsetCorrection()),
	}
}

// poseSource is a tracking.Source that may need to be started and closed.
type poseSource struct {
	tracking.Source
	mqtt *posesource.MQTTSource
}

func (p *poseSource) start(ctx context.Context) {
	if p.mqtt != nil {
		p.mqtt.Start(ctx)
	}
}

func (p *poseSource) close() {
	if p.mqtt != nil {
		p.mqtt.Close()
	}
}

func newPoseSource(conf config.Config) (*poseSource, error) {
	switch conf.PoseSource() {
	case config.PoseSourceSimulated:
		logrus.Warn("using simulated pose source, floor fixes will apply simulated offsets")
		return &poseSource{Source: posesource.NewSimulatedSource(posesource.DefaultRig)}, nil
	case config.PoseSourceMQTT:
		src, err := posesource.NewMQTTSource(posesource.MQTTOptions{
			Broker:   conf.MQTTBroker(),
			ClientID: conf.MQTTClientID(),
			Username: conf.MQTTUsername(),
			Password: conf.MQTTPassword(),
			Topic:    conf.MQTTPoseTopic(),
			MaxAge:   conf.MaxPoseAge(),
		})
		if err != nil {
			return nil, err
		}
		return &poseSource{Source: src, mqtt: src}, nil
	default:
		return nil, fmt.Errorf("unknown pose source %q", conf.PoseSource())
	}
}

// newServer wires every daemon component except the listener.
func newServer(conf config.Config, source tracking.Source, statusClient floorfix.Observer) (*server, error) {
	store, err := origin.NewStore(conf.OriginStorePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open origin store: %w", err)
	}
	logrus.WithField("path", store.Path()).Info("origin store opened")

	hub := events.NewEventHub()
	observers := []floorfix.Observer{events.NewHubObserver(hub)}
	if statusClient != nil {
		observers = append(observers, statusClient)
	}

	cal := floorfix.New(store, optionsFromConfig(conf), observers...)
	loop := NewLoop(cal, source, conf.TickInterval())

	s := &server{
		conf:  conf,
		loop:  loop,
		store: store,
		hub:   hub,
	}

	s.scheduler = NewScheduler(ScheduleHooks{
		Start: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return loop.Start(ctx)
		},
		Ready: func() error {
			_, err := source.Snapshot()
			return err
		},
		Upcoming: func(at time.Time) {
			s.publishAction(calibration.ActionScheduleUpcoming,
				fmt.Sprintf("Floor fix starts at %s. Place a controller on the floor.", at.Format("15:04")))
		},
		Failed: func(_ time.Time, err error) {
			s.publishAction(calibration.ActionScheduleFailed, fmt.Sprintf("Scheduled floor fix failed: %v", err))
		},
	})

	if expr := conf.Cron(); expr != "" {
		if err := s.scheduler.Schedule(expr); err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
		}
		s.scheduler.Start()
		next, _ := s.scheduler.Status()
		logrus.WithField("next", next.Format(time.DateTime)).Info("floor fix scheduled")
	}

	return s, nil
}

// reload applies a reloaded config to the running components.
func (s *server) reload(ctx context.Context) {
	if err := s.loop.SetOptions(ctx, optionsFromConfig(s.conf)); err != nil {
		logrus.WithError(err).Warn("calibration options not updated, send SIGHUP again once the floor fix ends")
	}
	if s.conf.Cron() != s.scheduler.Expr() {
		if err := s.scheduler.Schedule(s.conf.Cron()); err != nil {
			logrus.WithError(err).Error("failed to apply reloaded schedule")
			return
		}
		s.scheduler.Start()
	}
}

func Run(configPath string, unixSocketPath string, allowNonRoot bool) error {
	conf, err := config.NewFile(configPath)
	if err != nil {
		logrus.Fatalf("failed to parse config during startup: %v", err)
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	source, err := newPoseSource(conf)
	if err != nil {
		return err
	}

	var statusClient floorfix.Observer
	if source.mqtt != nil && conf.MQTTStatusTopic() != "" {
		statusClient = events.NewMQTTPublisher(source.mqtt.Client(), conf.MQTTStatusTopic())
	}

	s, err := newServer(conf, source, statusClient)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source.start(ctx)
	go s.loop.Run(ctx)

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			err := conf.Load()
			if err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			s.reload(ctx)
			logrus.WithFields(conf.LogrusFields()).Infof("config reloaded")
		}
	}()

	srv := &http.Server{
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// A socket left by a crashed daemon would make Listen fail.
	if err := os.Remove(unixSocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale socket %s: %w", unixSocketPath, err)
	}

	// Create the socket to listen on:
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		return err
	}

	if conf.AllowNonRootAccess() || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			return err
		}
	}

	// Serve HTTP on unix socket
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// Wait for a SIGINT or SIGTERM:
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	logrus.Info("shutting down http server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = srv.Shutdown(shutdownCtx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	shutdownCancel()

	logrus.Info("stopping frame loop")
	cancel()
	<-s.loop.done

	s.scheduler.Stop()
	s.hub.Close()

	logrus.Info("closing pose source")
	source.close()

	logrus.Info("exiting")
	return nil
}
