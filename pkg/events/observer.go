package events

import (
	"time"
)

// HubObserver publishes floor fix progress to a hub. It implements
// floorfix.Observer.
type HubObserver struct {
	Hub *EventHub
	now func() time.Time
}

func NewHubObserver(hub *EventHub) *HubObserver {
	return &HubObserver{Hub: hub, now: time.Now}
}

func (o *HubObserver) OnFloorFixStarted() {
	o.Hub.Publish(FloorFixStarted, FloorFixStartedEvent{Ts: o.now().Unix()})
}

func (o *HubObserver) OnFloorFixStatus(message string) {
	o.Hub.Publish(FloorFixStatus, FloorFixStatusEvent{Message: message, Ts: o.now().Unix()})
}

func (o *HubObserver) OnFloorFixEnded() {
	o.Hub.Publish(FloorFixEnded, FloorFixEndedEvent{Ts: o.now().Unix()})
}
