package bus

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the current event schema version.
const SchemaVersion = "1.0"

// Event is an immutable record of something that happened. Events are passed
// by value; construct them with NewEvent and do not mutate the payload after
// publishing.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	Version   string         `json:"version"`
}

// NewEvent creates an event with a fresh id and the current UTC timestamp.
func NewEvent(eventType string, payload map[string]any, source string) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	if source == "" {
		source = "system"
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Version:   SchemaVersion,
	}
}

// ToJSON serializes the event.
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// ToMap converts the event to a plain map, e.g. for embedding into other
// payloads.
func (e Event) ToMap() map[string]any {
	return map[string]any{
		"id":         e.ID,
		"event_type": e.Type,
		"payload":    e.Payload,
		"timestamp":  e.Timestamp.Format(time.RFC3339Nano),
		"source":     e.Source,
		"version":    e.Version,
	}
}

// EventFromMap rebuilds an event from its ToMap form. Missing fields are
// defaulted the same way EventFromJSON defaults them.
func EventFromMap(m map[string]any) (Event, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return Event{}, err
	}
	return EventFromJSON(data)
}

// EventFromJSON deserializes an event. Missing id, timestamp, and version
// fields are filled in with defaults.
func EventFromJSON(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Source == "" {
		e.Source = "system"
	}
	if e.Version == "" {
		e.Version = SchemaVersion
	}
	return e, nil
}
