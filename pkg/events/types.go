package events

import "encoding/json"

// Event name constants
const (
	DisplayChanged = "display.changed"
	PolicyApplied  = "policy.applied"
	ConfigChanged  = "config.changed"
)

// Event is a generic SSE event from daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// DisplayChangedEvent is the typed payload for display.changed.
type DisplayChangedEvent struct {
	Suspended bool  `json:"suspended"`
	Ts        int64 `json:"ts"`
}

// PolicyAppliedEvent is the typed payload for policy.applied.
type PolicyAppliedEvent struct {
	CPU          uint   `json:"cpu"`
	RequestedMin uint32 `json:"requestedMin"`
	RequestedMax uint32 `json:"requestedMax"`
	AppliedMin   uint32 `json:"appliedMin"`
	AppliedMax   uint32 `json:"appliedMax"`
	Changed      bool   `json:"changed"`
	Ts           int64  `json:"ts"`
}

// ConfigChangedEvent is the typed payload for config.changed.
type ConfigChangedEvent struct {
	Command string `json:"command"`
	Ts      int64  `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.DisplayChangedEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.Suspended)
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
