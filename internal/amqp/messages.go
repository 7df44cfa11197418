package amqp

import (
	"encoding/json"
	"time"

	"equipviz/internal/core"
)

// ActivityMessage is the event body published for every dashboard activity.
// It never contains credentials.
type ActivityMessage struct {
	Username  string    `json:"username"`
	Kind      string    `json:"kind"`
	DatasetID int64     `json:"dataset_id,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewActivityMessage converts an activity into its wire form.
func NewActivityMessage(a core.Activity) *ActivityMessage {
	ts := a.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &ActivityMessage{
		Username:  a.Username,
		Kind:      string(a.Kind),
		DatasetID: int64(a.DatasetID),
		Filename:  a.Filename,
		Detail:    a.Detail,
		Timestamp: ts,
	}
}

// RoutingKey is activity.<kind>, so consumers can bind on activity.* or a single kind.
func (m *ActivityMessage) RoutingKey() string {
	return "activity." + m.Kind
}

// ToJSON converts the message to JSON bytes
func (m *ActivityMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ActivityMessageFromJSON creates a message from JSON bytes
func ActivityMessageFromJSON(data []byte) (*ActivityMessage, error) {
	var msg ActivityMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
