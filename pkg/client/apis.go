package client

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/floorfix/floorfix/pkg/calibration"
	"github.com/floorfix/floorfix/pkg/config"
	"github.com/floorfix/floorfix/pkg/events"
	"github.com/floorfix/floorfix/pkg/origin"
)

// unquote turns a JSON string body into plain text. Other bodies are
// returned trimmed.
func unquote(body string) string {
	var s string
	if err := json.Unmarshal([]byte(body), &s); err == nil {
		return s
	}
	return strings.TrimSpace(body)
}

func decodeResponse[T any](body string, what string) (*T, error) {
	var v T
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal %s", what)
	}
	return &v, nil
}

func encodeString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func (c *Client) StartFloorFix() error {
	_, err := c.Post("/floorfix/start", "")
	return err
}

func (c *Client) AbortFloorFix() error {
	_, err := c.Post("/floorfix/abort", "")
	return err
}

func (c *Client) GetStatus() (*calibration.Status, error) {
	ret, err := c.Get("/floorfix/status")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get floor fix status")
	}
	return decodeResponse[calibration.Status](ret, "floor fix status")
}

func (c *Client) GetOrigin() (*origin.Universe, error) {
	ret, err := c.Get("/origin")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get origin")
	}
	return decodeResponse[origin.Universe](ret, "origin")
}

func (c *Client) ResetOrigin() error {
	_, err := c.Post("/origin/reset", "")
	return err
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	ret, err := c.Get("/config")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get config")
	}
	return decodeResponse[config.RawFileConfig](ret, "config")
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}
	return unquote(ret), nil
}

func (c *Client) GetSchedule() (*calibration.ScheduleInfo, error) {
	ret, err := c.Get("/schedule")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get schedule")
	}
	return decodeResponse[calibration.ScheduleInfo](ret, "schedule")
}

// SetSchedule sets the cron expression. An empty expression disables the
// schedule.
func (c *Client) SetSchedule(cronExpr string) (*calibration.ScheduleInfo, error) {
	ret, err := c.Put("/schedule", encodeString(cronExpr))
	if err != nil {
		return nil, err
	}
	return decodeResponse[calibration.ScheduleInfo](ret, "schedule")
}

func (c *Client) SkipSchedule() error {
	_, err := c.Post("/schedule/skip", "")
	return err
}

func (c *Client) PostponeSchedule(d time.Duration) error {
	_, err := c.Post("/schedule/postpone", encodeString(d.String()))
	return err
}

func (c *Client) GetLoopStats() (*calibration.LoopStats, error) {
	ret, err := c.Get("/loop")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get loop stats")
	}
	return decodeResponse[calibration.LoopStats](ret, "loop stats")
}

// SubscribeEvents streams daemon events until ctx is done or the connection
// drops; the channel is closed then.
func (c *Client) SubscribeEvents(ctx context.Context) (<-chan events.Event, error) {
	conn, resp, err := c.wsDialer.DialContext(ctx, "ws://unix/events", nil)
	if err != nil {
		if resp != nil && resp.StatusCode == 404 {
			return nil, ErrNotFound
		}
		return nil, pkgerrors.Wrapf(err, "failed to subscribe to events")
	}

	ch := make(chan events.Event, 16)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
		case <-done:
		}
		_ = conn.Close()
	}()
	go func() {
		defer close(ch)
		defer close(done)
		for {
			var ev events.Event
			if err := conn.ReadJSON(&ev); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logrus.WithError(err).Debug("event stream closed")
				}
				return
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
