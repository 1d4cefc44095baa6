package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"verifyflow/pkg/domain"
)

// Payload is the JSON form of an Event used on the wire and in outbox rows.
type Payload struct {
	ID        string   `json:"id"`
	Category  string   `json:"category"`
	Timestamp string   `json:"timestamp"`
	SessionID string   `json:"session_id,omitempty"`
	Action    string   `json:"action"`
	Stage     string   `json:"stage,omitempty"`
	Kinds     []string `json:"kinds,omitempty"`
	Outcome   string   `json:"outcome,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// Marshal encodes e as a Payload.
func Marshal(e Event) ([]byte, error) {
	p := Payload{
		ID:        e.ID.String(),
		Category:  string(e.Category),
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Action:    e.Action,
		Stage:     e.Stage,
		Kinds:     e.Kinds,
		Outcome:   e.Outcome,
		Reason:    e.Reason,
	}
	if !e.SessionID.IsNil() {
		p.SessionID = e.SessionID.String()
	}
	return json.Marshal(p)
}

// Unmarshal decodes a Payload produced by Marshal.
func Unmarshal(data []byte) (Event, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Event{}, fmt.Errorf("unmarshal audit payload: %w", err)
	}
	eventID, err := uuid.Parse(p.ID)
	if err != nil {
		return Event{}, fmt.Errorf("parse audit event id: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		return Event{}, fmt.Errorf("parse audit timestamp: %w", err)
	}
	e := Event{
		ID:        eventID,
		Category:  EventCategory(p.Category),
		Timestamp: ts,
		Action:    p.Action,
		Stage:     p.Stage,
		Kinds:     p.Kinds,
		Outcome:   p.Outcome,
		Reason:    p.Reason,
	}
	if p.SessionID != "" {
		sid, err := domain.ParseSessionID(p.SessionID)
		if err != nil {
			return Event{}, err
		}
		e.SessionID = sid
	}
	return e, nil
}
