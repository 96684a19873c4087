package daemon

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/floorfix/floorfix/pkg/calibration"
	"github.com/floorfix/floorfix/pkg/config"
	"github.com/floorfix/floorfix/pkg/events"
	"github.com/floorfix/floorfix/pkg/floorfix"
	"github.com/floorfix/floorfix/pkg/origin"
	"github.com/floorfix/floorfix/pkg/version"
)

const (
	wsWriteWait    = 5 * time.Second
	wsPingInterval = 30 * time.Second
)

// server holds what the HTTP handlers need.
type server struct {
	conf      config.Config
	loop      *Loop
	store     *origin.Store
	scheduler *Scheduler
	hub       *events.EventHub
	upgrader  websocket.Upgrader
}

func (s *server) setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/config", s.getConfig)
	router.POST("/floorfix/start", s.startFloorFix)
	router.POST("/floorfix/abort", s.abortFloorFix)
	router.GET("/floorfix/status", s.getFloorFixStatus)
	router.GET("/origin", s.getOrigin)
	router.POST("/origin/reset", s.resetOrigin)
	router.GET("/schedule", s.getSchedule)
	router.PUT("/schedule", s.setSchedule)
	router.POST("/schedule/skip", s.skipSchedule)
	router.POST("/schedule/postpone", s.postponeSchedule)
	router.GET("/loop", s.getLoopStats)
	router.GET("/events", s.streamEvents)
	router.GET("/version", getVersion)

	return router
}

func (s *server) getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(s.conf)
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

func (s *server) startFloorFix(c *gin.Context) {
	err := s.loop.Start(c.Request.Context())
	if err != nil {
		if errors.Is(err, floorfix.ErrInProgress) {
			abortWith(c, http.StatusConflict, err)
			return
		}
		abortWith(c, http.StatusInternalServerError, err)
		return
	}

	logrus.Info("floor fix started via api")
	s.publishAction(calibration.ActionStart, "Floor fix started. Place a controller on the floor.")
	c.IndentedJSON(http.StatusCreated, "ok")
}

func (s *server) abortFloorFix(c *gin.Context) {
	err := s.loop.Abort(c.Request.Context())
	if err != nil {
		if errors.Is(err, floorfix.ErrNotRunning) {
			abortWith(c, http.StatusConflict, err)
			return
		}
		abortWith(c, http.StatusInternalServerError, err)
		return
	}

	logrus.Info("floor fix aborted via api")
	s.publishAction(calibration.ActionAbort, "Floor fix aborted")
	c.IndentedJSON(http.StatusCreated, "ok")
}

func (s *server) getFloorFixStatus(c *gin.Context) {
	st, err := s.loop.Status(c.Request.Context())
	if err != nil {
		abortWith(c, http.StatusInternalServerError, err)
		return
	}

	if next, running := s.scheduler.Status(); running {
		st.ScheduledAt = next
	}
	c.IndentedJSON(http.StatusOK, st)
}

func (s *server) getOrigin(c *gin.Context) {
	u, err := s.store.Live()
	if err != nil {
		abortWith(c, http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, u)
}

func (s *server) resetOrigin(c *gin.Context) {
	st, err := s.loop.Status(c.Request.Context())
	if err != nil {
		abortWith(c, http.StatusInternalServerError, err)
		return
	}
	if st.Phase.Active() {
		abortWith(c, http.StatusConflict, floorfix.ErrInProgress)
		return
	}

	if err := s.store.Reset(); err != nil {
		logrus.WithError(err).Error("failed to reset origin")
		abortWith(c, http.StatusInternalServerError, err)
		return
	}

	logrus.Info("standing origin reset to identity")
	c.IndentedJSON(http.StatusCreated, "ok")
}

func (s *server) getSchedule(c *gin.Context) {
	info := calibration.ScheduleInfo{Cron: s.scheduler.Expr()}
	if next, running := s.scheduler.Status(); running && !next.IsZero() {
		runs, err := NextRuns(info.Cron, next.Add(-time.Second), 3)
		if err == nil {
			info.NextRuns = runs
		}
	}
	c.IndentedJSON(http.StatusOK, info)
}

func (s *server) setSchedule(c *gin.Context) {
	var expr string
	if err := c.BindJSON(&expr); err != nil {
		abortWith(c, http.StatusBadRequest, err)
		return
	}

	runs, err := s.schedule(expr)
	if err != nil {
		abortWith(c, http.StatusBadRequest, err)
		return
	}

	c.IndentedJSON(http.StatusCreated, calibration.ScheduleInfo{Cron: expr, NextRuns: runs})
}

// schedule sets the cron expression for scheduled floor fixes and returns the
// next run times. An empty expression disables scheduling.
func (s *server) schedule(cronExpr string) ([]time.Time, error) {
	if cronExpr == "" {
		if s.conf.Cron() == "" && s.scheduler.Expr() == "" {
			// Already disabled
			return nil, nil
		}

		s.conf.SetCron("")
		if err := s.conf.Save(); err != nil {
			logrus.WithError(err).Error("failed to save config")
			return nil, fmt.Errorf("failed to save config: %w", err)
		}
		if err := s.scheduler.Schedule(""); err != nil {
			return nil, err
		}
		s.publishAction(calibration.ActionScheduleDisable, "Floor fix schedule disabled")
		return nil, nil
	}

	nextRuns, err := NextRuns(cronExpr, time.Now(), 3)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	s.conf.SetCron(cronExpr)
	if err := s.conf.Save(); err != nil {
		logrus.WithError(err).Error("failed to save config")
		return nil, fmt.Errorf("failed to save config: %w", err)
	}

	if err := s.scheduler.Schedule(cronExpr); err != nil {
		logrus.WithError(err).Error("failed to schedule floor fix")
		return nil, err
	}
	s.scheduler.Start()

	s.publishAction(calibration.ActionSchedule, fmt.Sprintf("Floor fix scheduled at %s", nextRuns[0].Format("Jan _2 15:04")))
	return nextRuns, nil
}

func (s *server) skipSchedule(c *gin.Context) {
	if err := s.scheduler.Skip(); err != nil {
		abortWith(c, http.StatusConflict, err)
		return
	}

	s.publishAction(calibration.ActionScheduleSkip, "Next scheduled floor fix skipped")
	c.IndentedJSON(http.StatusCreated, "ok")
}

func (s *server) postponeSchedule(c *gin.Context) {
	var raw string
	if err := c.BindJSON(&raw); err != nil {
		abortWith(c, http.StatusBadRequest, err)
		return
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		abortWith(c, http.StatusBadRequest, err)
		return
	}

	if err := s.scheduler.Postpone(d); err != nil {
		abortWith(c, http.StatusConflict, err)
		return
	}

	s.publishAction(calibration.ActionSchedulePostpone, fmt.Sprintf("Floor fix postponed for %s", d))
	c.IndentedJSON(http.StatusCreated, "ok")
}

func (s *server) getLoopStats(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.loop.Stats())
}

func (s *server) publishAction(action calibration.Action, msg string) {
	s.hub.Publish(events.FloorFixAction, events.FloorFixActionEvent{
		Action:  string(action),
		Message: msg,
		Ts:      time.Now().Unix(),
	})
}

// streamEvents upgrades to a websocket and forwards every hub event as one
// JSON text frame until either side goes away.
func (s *server) streamEvents(c *gin.Context) {
	// Subscribe before the handshake completes so a client that dials and
	// then starts a session sees every event of it.
	ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(ch)

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Clients only send control frames; reading is needed to process them.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "daemon shutting down"),
					time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				logrus.WithError(err).Debug("event stream write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}
