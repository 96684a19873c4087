package posesource

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floorfix/floorfix/pkg/tracking"
)

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// pendingToken never completes within a wait.
type pendingToken struct{ fakeToken }

func (t *pendingToken) WaitTimeout(time.Duration) bool { return false }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type fakeClient struct {
	mu           sync.Mutex
	connected    bool
	connectErr   error
	connects     int
	handlers     map[string]mqtt.MessageHandler
	disconnected bool
	// subTokens are returned by Subscribe in order, then a successful token.
	subTokens  []mqtt.Token
	subscribes int
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: map[string]mqtt.MessageHandler{}}
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.connectErr == nil {
		c.connected = true
	}
	return &fakeToken{err: c.connectErr}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnected = true
}

func (c *fakeClient) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = cb
	c.subscribes++
	if len(c.subTokens) > 0 {
		tok := c.subTokens[0]
		c.subTokens = c.subTokens[1:]
		return tok
	}
	return &fakeToken{}
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) deliver(topic string, payload []byte) {
	c.mu.Lock()
	h := c.handlers[topic]
	c.mu.Unlock()
	if h != nil {
		h(nil, &fakeMessage{topic: topic, payload: payload})
	}
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time                { return c.t }
func (c *fakeClock) Advance(d time.Duration)       { c.t = c.t.Add(d) }
func newFakeClock() *fakeClock                     { return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)} }
func (c *fakeClock) install(s *MQTTSource)         { s.now = c.Now }
func (c *fakeClock) installSim(s *SimulatedSource) { s.now = c.Now }

func snapshotPayload(t *testing.T, ts time.Time) []byte {
	t.Helper()
	snap, err := NewSimulatedSource(DefaultRig).Snapshot()
	require.NoError(t, err)
	snap.Timestamp = ts
	b, err := json.Marshal(snap)
	require.NoError(t, err)
	return b
}

func newTestSource(t *testing.T) (*MQTTSource, *fakeClient, *fakeClock) {
	t.Helper()
	fc := newFakeClient()
	s := newMQTTSource(fc, "floorfix/poses", 100*time.Millisecond)
	clock := newFakeClock()
	clock.install(s)
	return s, fc, clock
}

func TestMQTTSourceNoSnapshot(t *testing.T) {
	s, _, _ := newTestSource(t)
	_, err := s.Snapshot()
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestMQTTSourceSubscribesOnConnect(t *testing.T) {
	s, fc, clock := newTestSource(t)
	s.onConnect()

	fc.deliver("floorfix/poses", snapshotPayload(t, clock.Now()))

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Len(t, snap.Poses, 3)
	assert.Equal(t, SimLeftHand, snap.DeviceForRole(tracking.RoleLeftHand))
	assert.InDelta(t, DefaultRig.RightHeight, snap.Pose(SimRightHand).Transform.Height(), DefaultRig.Jitter)
}

func TestMQTTSourceSubscribeOutcome(t *testing.T) {
	for _, tc := range []struct {
		name       string
		tokens     []mqtt.Token
		subscribed bool
		attempts   int
	}{
		{"first try", nil, true, 1},
		{"timeout then ok", []mqtt.Token{&pendingToken{}}, true, 2},
		{"refused then ok", []mqtt.Token{&fakeToken{err: errors.New("not authorized")}}, true, 2},
		{"always times out", []mqtt.Token{&pendingToken{}, &pendingToken{}, &pendingToken{}}, false, subscribeAttempts},
		{"always refused", []mqtt.Token{
			&fakeToken{err: errors.New("not authorized")},
			&fakeToken{err: errors.New("not authorized")},
			&fakeToken{err: errors.New("not authorized")},
		}, false, subscribeAttempts},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s, fc, _ := newTestSource(t)
			fc.subTokens = tc.tokens

			s.onConnect()
			assert.Equal(t, tc.subscribed, s.Subscribed())
			assert.Equal(t, tc.attempts, fc.subscribes)
		})
	}
}

func TestMQTTSourceStale(t *testing.T) {
	s, _, clock := newTestSource(t)
	s.handleMessage(nil, &fakeMessage{topic: "floorfix/poses", payload: snapshotPayload(t, clock.Now())})

	clock.Advance(100 * time.Millisecond)
	_, err := s.Snapshot()
	require.NoError(t, err)

	clock.Advance(time.Millisecond)
	_, err = s.Snapshot()
	assert.True(t, errors.Is(err, ErrStale))
}

func TestMQTTSourceRejectsBadPayloads(t *testing.T) {
	s, _, clock := newTestSource(t)

	s.handleMessage(nil, &fakeMessage{topic: "floorfix/poses", payload: []byte("{oops")})
	s.handleMessage(nil, &fakeMessage{topic: "floorfix/poses", payload: []byte(`{"poses":[{"id":4}]}`)})
	s.handleMessage(nil, &fakeMessage{topic: "floorfix/poses", payload: []byte(
		`{"poses":[{"id":0,"valid":true,"transform":[[3,0,0,0],[0,1,0,1.7],[0,0,1,0]]}]}`)})

	_, err := s.Snapshot()
	assert.ErrorIs(t, err, ErrNoSnapshot)
	accepted, dropped := s.Stats()
	assert.Equal(t, uint64(0), accepted)
	assert.Equal(t, uint64(3), dropped)

	s.handleMessage(nil, &fakeMessage{topic: "floorfix/poses", payload: snapshotPayload(t, clock.Now())})
	_, err = s.Snapshot()
	assert.NoError(t, err)
}

func TestMQTTSourceDropsOutOfOrder(t *testing.T) {
	s, _, clock := newTestSource(t)
	newer := clock.Now()
	older := newer.Add(-time.Second)

	s.handleMessage(nil, &fakeMessage{topic: "floorfix/poses", payload: snapshotPayload(t, newer)})
	s.handleMessage(nil, &fakeMessage{topic: "floorfix/poses", payload: snapshotPayload(t, older)})

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.True(t, snap.Timestamp.Equal(newer))
	accepted, dropped := s.Stats()
	assert.Equal(t, uint64(1), accepted)
	assert.Equal(t, uint64(1), dropped)
}

func TestMQTTSourceStampsMissingTimestamp(t *testing.T) {
	s, _, clock := newTestSource(t)
	s.handleMessage(nil, &fakeMessage{topic: "floorfix/poses", payload: []byte(`{"poses":[],"roles":{}}`)})

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), snap.Timestamp)
}

func TestMQTTSourceClose(t *testing.T) {
	s, fc, _ := newTestSource(t)
	s.Close()
	assert.False(t, fc.disconnected)

	fc.Connect()
	s.Close()
	assert.True(t, fc.disconnected)
}

func TestNewMQTTSourceValidation(t *testing.T) {
	_, err := NewMQTTSource(MQTTOptions{Topic: "x"})
	assert.Error(t, err)
	_, err = NewMQTTSource(MQTTOptions{Broker: "tcp://localhost:1883"})
	assert.Error(t, err)

	s, err := NewMQTTSource(MQTTOptions{Broker: "tcp://localhost:1883", Topic: "floorfix/poses"})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxAge, s.maxAge)
}
