package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floorfix/floorfix/pkg/calibration"
	"github.com/floorfix/floorfix/pkg/config"
	"github.com/floorfix/floorfix/pkg/events"
	"github.com/floorfix/floorfix/pkg/origin"
	"github.com/floorfix/floorfix/pkg/posesource"
	"github.com/floorfix/floorfix/pkg/utils/ptr"
	"github.com/floorfix/floorfix/pkg/version"
)

func newTestServer(t *testing.T, src *switchSource) *server {
	t.Helper()
	dir := t.TempDir()
	conf := config.NewFileFromConfig(&config.RawFileConfig{
		PoseSource:      ptr.To(config.PoseSourceSimulated),
		OriginStorePath: ptr.To(filepath.Join(dir, "universe.json")),
		TickIntervalMs:  ptr.To(1),
	}, filepath.Join(dir, "config.json"))

	s, err := newServer(conf, src, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go s.loop.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-s.loop.done
		s.scheduler.Stop()
		s.hub.Close()
	})
	return s
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestStartAndAbortConflicts(t *testing.T) {
	s := newTestServer(t, &switchSource{})
	router := s.setupRoutes()

	w := do(t, router, http.MethodPost, "/floorfix/abort", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, router, http.MethodPost, "/floorfix/start", "")
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "ok", decode[string](t, w))

	w = do(t, router, http.MethodPost, "/floorfix/start", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, router, http.MethodPost, "/origin/reset", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, router, http.MethodGet, "/floorfix/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[calibration.Status](t, w)
	assert.Equal(t, calibration.PhaseSelectingReference, st.Phase)
	assert.True(t, st.CanAbort)

	w = do(t, router, http.MethodPost, "/floorfix/abort", "")
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestStartAndAbortPublishActions(t *testing.T) {
	s := newTestServer(t, &switchSource{})
	router := s.setupRoutes()
	ch := s.hub.Subscribe()

	require.Equal(t, http.StatusCreated, do(t, router, http.MethodPost, "/floorfix/start", "").Code)
	require.Equal(t, http.StatusCreated, do(t, router, http.MethodPost, "/floorfix/abort", "").Code)
	// A rejected request announces nothing.
	require.Equal(t, http.StatusConflict, do(t, router, http.MethodPost, "/floorfix/abort", "").Code)

	var actions []string
	for len(actions) < 2 {
		select {
		case ev := <-ch:
			if ev.Name != events.FloorFixAction {
				continue
			}
			a, err := events.DecodeAs[events.FloorFixActionEvent](ev)
			require.NoError(t, err)
			assert.NotEmpty(t, a.Message)
			actions = append(actions, a.Action)
		case <-time.After(time.Second):
			t.Fatalf("missing action events, got %v", actions)
		}
	}
	assert.Equal(t, []string{string(calibration.ActionStart), string(calibration.ActionAbort)}, actions)

	select {
	case ev := <-ch:
		assert.NotEqual(t, events.FloorFixAction, ev.Name)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFloorFixUpdatesOrigin(t *testing.T) {
	src := &switchSource{}
	src.set(posesource.Rig{LeftHeight: 0.3, RightHeight: 0.25})
	s := newTestServer(t, src)
	router := s.setupRoutes()

	w := do(t, router, http.MethodPost, "/floorfix/start", "")
	require.Equal(t, http.StatusCreated, w.Code)

	require.Eventually(t, func() bool {
		st := decode[calibration.Status](t, do(t, router, http.MethodGet, "/floorfix/status", ""))
		return st.LastResult != nil
	}, 2*time.Second, 5*time.Millisecond)

	w = do(t, router, http.MethodGet, "/origin", "")
	require.Equal(t, http.StatusOK, w.Code)
	u := decode[origin.Universe](t, w)
	require.NotNil(t, u.LastOffset)
	assert.Equal(t, float32(0.25-calibration.ControllerUpOffsetCorrection), *u.LastOffset)
	assert.InDelta(t, 0.25-calibration.ControllerUpOffsetCorrection, u.StandingZeroPose.Height(), 1e-6)

	w = do(t, router, http.MethodPost, "/origin/reset", "")
	assert.Equal(t, http.StatusCreated, w.Code)
	u = decode[origin.Universe](t, do(t, router, http.MethodGet, "/origin", ""))
	assert.Nil(t, u.LastOffset)
	assert.Equal(t, 0.0, u.StandingZeroPose.Height())
}

func TestScheduleHandlers(t *testing.T) {
	s := newTestServer(t, &switchSource{})
	router := s.setupRoutes()

	w := do(t, router, http.MethodPut, "/schedule", `"not a cron"`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodPost, "/schedule/skip", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, router, http.MethodPut, "/schedule", `"0 9 * * *"`)
	require.Equal(t, http.StatusCreated, w.Code)
	info := decode[calibration.ScheduleInfo](t, w)
	assert.Equal(t, "0 9 * * *", info.Cron)
	assert.Len(t, info.NextRuns, 3)
	assert.Equal(t, "0 9 * * *", s.conf.Cron())

	// Persisted to the config file.
	saved, err := config.NewFile(filepath.Join(filepath.Dir(s.conf.OriginStorePath()), "config.json"))
	require.NoError(t, err)
	assert.Equal(t, "0 9 * * *", saved.Cron())

	w = do(t, router, http.MethodGet, "/floorfix/status", "")
	st := decode[calibration.Status](t, w)
	assert.False(t, st.ScheduledAt.IsZero())

	w = do(t, router, http.MethodPost, "/schedule/postpone", `"bogus"`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodPost, "/schedule/skip", "")
	assert.Equal(t, http.StatusCreated, w.Code)

	w = do(t, router, http.MethodPut, "/schedule", `""`)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "", s.conf.Cron())
	info = decode[calibration.ScheduleInfo](t, do(t, router, http.MethodGet, "/schedule", ""))
	assert.Equal(t, "", info.Cron)
	assert.Empty(t, info.NextRuns)
}

func TestConfigVersionAndLoop(t *testing.T) {
	s := newTestServer(t, &switchSource{})
	router := s.setupRoutes()

	w := do(t, router, http.MethodGet, "/config", "")
	require.Equal(t, http.StatusOK, w.Code)
	raw := decode[config.RawFileConfig](t, w)
	require.NotNil(t, raw.PoseSource)
	assert.Equal(t, config.PoseSourceSimulated, *raw.PoseSource)
	assert.Equal(t, 25, *raw.SampleCount)

	w = do(t, router, http.MethodGet, "/version", "")
	assert.Equal(t, version.Version, decode[string](t, w))

	w = do(t, router, http.MethodGet, "/loop", "")
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[calibration.LoopStats](t, w)
	assert.Equal(t, time.Millisecond, stats.TickInterval)

	w = do(t, router, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEventStream(t *testing.T) {
	src := &switchSource{}
	src.set(posesource.Rig{LeftHeight: 0.2, RightHeight: 0.2})
	s := newTestServer(t, src)
	ts := httptest.NewServer(s.setupRoutes())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/events", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.hub.Subscribers() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, s.loop.Start(context.Background()))

	var names []string
	var status events.FloorFixStatusEvent
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for len(names) < 3 {
		var ev events.Event
		require.NoError(t, conn.ReadJSON(&ev))
		names = append(names, ev.Name)
		if ev.Name == events.FloorFixStatus {
			status, err = events.DecodeAs[events.FloorFixStatusEvent](ev)
			require.NoError(t, err)
		}
	}

	assert.Equal(t, []string{events.FloorFixStarted, events.FloorFixStatus, events.FloorFixEnded}, names)
	// Exact tie: the right controller is the reference.
	assert.Equal(t, "Fixed Floor: 0.138", status.Message)
}
