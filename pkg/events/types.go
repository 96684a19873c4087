package events

import "encoding/json"

// Event name constants
const (
	FloorFixStarted = "floorfix.started"
	FloorFixStatus  = "floorfix.status"
	FloorFixEnded   = "floorfix.ended"
	FloorFixAction  = "floorfix.action"
)

// Event is a generic event from the daemon, sent as one websocket frame.
type Event struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

// FloorFixStartedEvent is the typed payload for floorfix.started.
type FloorFixStartedEvent struct {
	Ts int64 `json:"ts"`
}

// FloorFixStatusEvent is the typed payload for floorfix.status.
type FloorFixStatusEvent struct {
	Message string `json:"message"`
	Ts      int64  `json:"ts"`
}

// FloorFixEndedEvent is the typed payload for floorfix.ended.
type FloorFixEndedEvent struct {
	Ts int64 `json:"ts"`
}

// FloorFixActionEvent is the typed payload for floorfix.action: user and
// scheduler actions around sessions.
type FloorFixActionEvent struct {
	Action  string `json:"action"`
	Message string `json:"message,omitempty"`
	Ts      int64  `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.FloorFixStatusEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.Message)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
