package events

import (
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// mqttPublisher is the part of mqtt.Client the publisher needs.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
}

// MQTTPublisher mirrors floor fix progress to <prefix>/started, <prefix>/status
// and <prefix>/ended. It implements floorfix.Observer. Publishing never blocks
// the caller; failures are logged.
type MQTTPublisher struct {
	client mqttPublisher
	prefix string
	qos    byte
	now    func() time.Time
}

// NewMQTTPublisher creates a publisher on client. A nil client disables
// publishing.
func NewMQTTPublisher(client mqtt.Client, prefix string) *MQTTPublisher {
	p := &MQTTPublisher{prefix: prefix, qos: 1, now: time.Now}
	if client != nil {
		p.client = client
	}
	return p
}

func (p *MQTTPublisher) OnFloorFixStarted() {
	p.publish("started", FloorFixStartedEvent{Ts: p.now().Unix()}, false)
}

func (p *MQTTPublisher) OnFloorFixStatus(message string) {
	// Retained so late subscribers see the last outcome.
	p.publish("status", FloorFixStatusEvent{Message: message, Ts: p.now().Unix()}, true)
}

func (p *MQTTPublisher) OnFloorFixEnded() {
	p.publish("ended", FloorFixEndedEvent{Ts: p.now().Unix()}, false)
}

func (p *MQTTPublisher) publish(suffix string, payload any, retain bool) {
	if p.client == nil || !p.client.IsConnected() {
		return
	}
	topic := p.prefix + "/" + suffix

	b, err := json.Marshal(payload)
	if err != nil {
		logrus.WithError(err).WithField("topic", topic).Warn("failed to marshal mqtt payload")
		return
	}

	token := p.client.Publish(topic, p.qos, retain, b)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			logrus.WithError(token.Error()).WithField("topic", topic).Warn("failed to publish floor fix event")
		}
	}()
}
