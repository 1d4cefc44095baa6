package handler

import (
	"time"

	audit "verifyflow/pkg/platform/audit"
)

// VerifyResponse is returned by GET /verify/{token}.
type VerifyResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

// AuditEventResponse is one entry of GET /api/audit.
type AuditEventResponse struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Stage     string    `json:"stage,omitempty"`
	Kinds     []string  `json:"kinds,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// AuditTrailResponse is returned by GET /api/audit.
type AuditTrailResponse struct {
	SessionID string               `json:"session_id"`
	Events    []AuditEventResponse `json:"events"`
}

// FromEvents maps audit events to their HTTP shape.
func FromEvents(sessionID string, events []audit.Event) AuditTrailResponse {
	out := AuditTrailResponse{SessionID: sessionID, Events: make([]AuditEventResponse, 0, len(events))}
	for _, e := range events {
		out.Events = append(out.Events, AuditEventResponse{
			ID:        e.ID.String(),
			Category:  string(e.Category),
			Timestamp: e.Timestamp,
			Action:    e.Action,
			Stage:     e.Stage,
			Kinds:     e.Kinds,
			Outcome:   e.Outcome,
			Reason:    e.Reason,
		})
	}
	return out
}
