package floorfix

// Observer receives session lifecycle events. Every OnFloorFixStarted is
// followed by exactly one OnFloorFixEnded. OnFloorFixStatus carries the
// terminal message of a session and is fired at most once, before ended.
// A hook may call Start or Abort; the events that causes are delivered after
// the current ones have reached every observer.
type Observer interface {
	OnFloorFixStarted()
	OnFloorFixStatus(message string)
	OnFloorFixEnded()
}

// ObserverFuncs adapts plain functions to an Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Started func()
	Status  func(message string)
	Ended   func()
}

var _ Observer = ObserverFuncs{}

func (o ObserverFuncs) OnFloorFixStarted() {
	if o.Started != nil {
		o.Started()
	}
}

func (o ObserverFuncs) OnFloorFixStatus(message string) {
	if o.Status != nil {
		o.Status(message)
	}
}

func (o ObserverFuncs) OnFloorFixEnded() {
	if o.Ended != nil {
		o.Ended()
	}
}
