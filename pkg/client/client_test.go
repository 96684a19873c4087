package client

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floorfix/floorfix/pkg/calibration"
	"github.com/floorfix/floorfix/pkg/events"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// serveUnix serves h on a fresh unix socket and returns its path.
func serveUnix(t *testing.T, h http.Handler) string {
	t.Helper()
	// Keep the path short; unix socket paths are limited.
	dir, err := os.MkdirTemp("", "ff")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	path := filepath.Join(dir, "d.sock")
	l, err := net.Listen("unix", path)
	require.NoError(t, err)

	srv := &http.Server{Handler: h}
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })
	return path
}

func TestDaemonNotRunning(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	_, err := c.GetVersion()
	assert.ErrorIs(t, err, ErrDaemonNotRunning)
}

func TestStatusCodes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/floorfix/start", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		writeJSON(w, http.StatusConflict, "floor fix already in progress")
	})
	mux.HandleFunc("/floorfix/abort", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, "ok")
	})
	mux.HandleFunc("/origin/reset", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, "disk full")
	})
	c := NewClient(serveUnix(t, mux))

	err := c.StartFloorFix()
	assert.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "floor fix already in progress")

	assert.NoError(t, c.AbortFloorFix())

	err = c.ResetOrigin()
	require.Error(t, err)
	assert.Equal(t, "got 500: disk full", err.Error())

	_, err = c.GetLoopStats()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDecodedResponses(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, "v1.2.3")
	})
	mux.HandleFunc("/floorfix/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, calibration.Status{
			Phase:        calibration.PhaseAccumulating,
			Samples:      7,
			SampleTarget: 25,
		})
	})
	mux.HandleFunc("/schedule", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			b, _ := io.ReadAll(r.Body)
			var expr string
			require.NoError(t, json.Unmarshal(b, &expr))
			writeJSON(w, http.StatusCreated, calibration.ScheduleInfo{Cron: expr})
			return
		}
		writeJSON(w, http.StatusOK, calibration.ScheduleInfo{Cron: "0 9 * * *"})
	})
	mux.HandleFunc("/schedule/postpone", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		assert.Equal(t, `"30m0s"`, string(b))
		writeJSON(w, http.StatusCreated, "ok")
	})
	c := NewClient(serveUnix(t, mux))

	v, err := c.GetVersion()
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3", v)

	st, err := c.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, calibration.PhaseAccumulating, st.Phase)
	assert.Equal(t, 7, st.Samples)

	info, err := c.GetSchedule()
	require.NoError(t, err)
	assert.Equal(t, "0 9 * * *", info.Cron)

	info, err = c.SetSchedule("@daily")
	require.NoError(t, err)
	assert.Equal(t, "@daily", info.Cron)

	assert.NoError(t, c.PostponeSchedule(30*time.Minute))
}

func TestSubscribeEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, name := range []string{events.FloorFixStarted, events.FloorFixStatus, events.FloorFixEnded} {
			data, _ := json.Marshal(events.FloorFixStatusEvent{Message: name})
			_ = conn.WriteJSON(events.Event{Name: name, Data: data})
		}
		// Wait for the client to hang up.
		_, _, _ = conn.ReadMessage()
	})
	c := NewClient(serveUnix(t, mux))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := c.SubscribeEvents(ctx)
	require.NoError(t, err)

	var names []string
	for len(names) < 3 {
		select {
		case ev, ok := <-ch:
			require.True(t, ok)
			names = append(names, ev.Name)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	assert.Equal(t, []string{events.FloorFixStarted, events.FloorFixStatus, events.FloorFixEnded}, names)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
