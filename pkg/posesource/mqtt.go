package posesource

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/floorfix/floorfix/pkg/tracking"
)

// mqttClient is the part of mqtt.Client the source uses.
type mqttClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	IsConnected() bool
}

// MQTTOptions configures an MQTTSource.
type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	// MaxAge is how old the latest snapshot may be before Snapshot reports
	// ErrStale.
	MaxAge time.Duration
}

// subscribeAttempts bounds how often a connect handler tries to subscribe.
const subscribeAttempts = 3

// MQTTSource keeps the latest snapshot published on a topic.
type MQTTSource struct {
	client           mqttClient
	topic            string
	maxAge           time.Duration
	now              func() time.Time
	subscribeTimeout time.Duration
	subscribed       atomic.Bool

	mu       sync.RWMutex
	latest   tracking.Snapshot
	received time.Time
	count    uint64
	dropped  uint64
}

// NewMQTTSource creates a source connected to opts.Broker. Call Start to
// connect.
func NewMQTTSource(opts MQTTOptions) (*MQTTSource, error) {
	if opts.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is not set")
	}
	if opts.Topic == "" {
		return nil, fmt.Errorf("mqtt pose topic is not set")
	}
	if opts.ClientID == "" {
		opts.ClientID = "floorfix"
	}

	s := newMQTTSource(nil, opts.Topic, opts.MaxAge)

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(5 * time.Second)
	co.SetMaxReconnectInterval(30 * time.Second)
	co.SetKeepAlive(30 * time.Second)
	co.SetPingTimeout(10 * time.Second)
	// Only the newest frame matters.
	co.SetCleanSession(true)
	co.SetOrderMatters(false)
	co.SetOnConnectHandler(func(c mqtt.Client) { s.onConnect() })
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.subscribed.Store(false)
		logrus.WithError(err).Warn("mqtt connection lost, reconnecting")
	})

	s.client = mqtt.NewClient(co)
	return s, nil
}

func newMQTTSource(client mqttClient, topic string, maxAge time.Duration) *MQTTSource {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &MQTTSource{
		client:           client,
		topic:            topic,
		maxAge:           maxAge,
		now:              time.Now,
		subscribeTimeout: 5 * time.Second,
	}
}

// Start connects to the broker, retrying with backoff until it succeeds or
// ctx is done. Subscription happens in the connect handler so it survives
// reconnects.
func (s *MQTTSource) Start(ctx context.Context) {
	go s.connectWithRetry(ctx)
}

func (s *MQTTSource) connectWithRetry(ctx context.Context) {
	retryDelay := 1 * time.Second
	maxRetryDelay := 30 * time.Second

	for {
		logrus.WithField("topic", s.topic).Info("connecting to mqtt broker")

		token := s.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				logrus.Info("connected to mqtt broker")
				return
			}
			logrus.WithError(token.Error()).Warn("mqtt connection failed")
		} else {
			logrus.Warn("mqtt connection timed out")
		}

		logrus.Debugf("retrying mqtt connection in %v", retryDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

func (s *MQTTSource) onConnect() {
	s.subscribed.Store(false)
	log := logrus.WithField("topic", s.topic)

	for attempt := 1; attempt <= subscribeAttempts; attempt++ {
		token := s.client.Subscribe(s.topic, 0, s.handleMessage)
		if !token.WaitTimeout(s.subscribeTimeout) {
			log.WithField("attempt", attempt).Warn("subscribing to pose topic timed out")
			continue
		}
		if err := token.Error(); err != nil {
			log.WithError(err).WithField("attempt", attempt).Warn("failed to subscribe to pose topic")
			continue
		}
		s.subscribed.Store(true)
		log.Info("subscribed to pose topic")
		return
	}
	log.Errorf("gave up subscribing to pose topic after %d attempts, no poses until the next reconnect", subscribeAttempts)
}

// Subscribed reports whether the broker confirmed the pose subscription on
// the current connection.
func (s *MQTTSource) Subscribed() bool {
	return s.subscribed.Load()
}

// Client returns the underlying MQTT client so other components can publish
// over the same connection. It is nil for sources built around a fake.
func (s *MQTTSource) Client() mqtt.Client {
	c, _ := s.client.(mqtt.Client)
	return c
}

// Close disconnects from the broker.
func (s *MQTTSource) Close() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}

func (s *MQTTSource) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	var snap tracking.Snapshot
	if err := json.Unmarshal(msg.Payload(), &snap); err != nil {
		s.drop(msg.Topic(), fmt.Errorf("failed to decode snapshot: %w", err))
		return
	}
	if err := snap.Validate(); err != nil {
		s.drop(msg.Topic(), err)
		return
	}

	now := s.now()
	if snap.Timestamp.IsZero() {
		snap.Timestamp = now
	}

	s.mu.Lock()
	// Drop frames that arrive out of order.
	if s.count > 0 && snap.Timestamp.Before(s.latest.Timestamp) {
		s.dropped++
		s.mu.Unlock()
		return
	}
	s.latest = snap
	s.received = now
	s.count++
	s.mu.Unlock()
}

func (s *MQTTSource) drop(topic string, err error) {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
	logrus.WithError(err).WithField("topic", topic).Debug("dropped pose message")
}

// Snapshot returns the latest snapshot. Age is measured from when the
// snapshot was received, not from its own timestamp.
func (s *MQTTSource) Snapshot() (tracking.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return tracking.Snapshot{}, ErrNoSnapshot
	}
	if age := s.now().Sub(s.received); age > s.maxAge {
		return tracking.Snapshot{}, fmt.Errorf("%w: last frame %v ago", ErrStale, age.Round(time.Millisecond))
	}
	return s.latest, nil
}

// Stats returns how many snapshots were accepted and dropped.
func (s *MQTTSource) Stats() (accepted, dropped uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count, s.dropped
}
