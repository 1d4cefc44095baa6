package audit

import (
	"time"

	"github.com/google/uuid"

	"verifyflow/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events a reviewer needs to reconstruct what
	// the user agreed to: confirmations and session resets.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers device access refusals and signed link checks.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine capture activity. These can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted by the capture flow and the backend. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        uuid.UUID
	Category  EventCategory
	Timestamp time.Time
	SessionID domain.SessionID
	Action    string
	// Stage is the orchestrator state or backend route the event belongs to.
	Stage string
	// Kinds lists the artifact kinds involved, if any.
	Kinds   []string
	Outcome string
	Reason  string
}

type AuditEvent string

const (
	// Session events
	EventSessionStarted AuditEvent = "session_started"
	EventSessionReset   AuditEvent = "session_reset"

	// Conversation events
	EventChatTurn         AuditEvent = "chat_turn"
	EventCaptureReady     AuditEvent = "capture_ready"
	EventLinkIssued       AuditEvent = "verification_link_issued"
	EventLinkVerified     AuditEvent = "verification_link_verified"
	EventLinkRejected     AuditEvent = "verification_link_rejected"
	EventAcquisitionFault AuditEvent = "acquisition_failed"

	// Capture events
	EventStageEntered      AuditEvent = "stage_entered"
	EventArtifactCaptured  AuditEvent = "artifact_captured"
	EventCaptureFailed     AuditEvent = "capture_failed"
	EventArtifactsReceived AuditEvent = "artifacts_received"
	EventSubmissionOK      AuditEvent = "submission_completed"
	EventSubmissionFailed  AuditEvent = "submission_failed"

	// Confirmation events
	EventConfirmationFetched AuditEvent = "confirmation_fetched"
	EventConfirmationFailed  AuditEvent = "confirmation_failed"
	EventConfirmed           AuditEvent = "confirmed"
	EventEditRequested       AuditEvent = "edit_requested"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventSessionReset: CategoryCompliance,
	EventConfirmed:    CategoryCompliance,

	EventAcquisitionFault: CategorySecurity,
	EventLinkIssued:       CategorySecurity,
	EventLinkVerified:     CategorySecurity,
	EventLinkRejected:     CategorySecurity,

	EventSessionStarted:      CategoryOperations,
	EventChatTurn:            CategoryOperations,
	EventCaptureReady:        CategoryOperations,
	EventStageEntered:        CategoryOperations,
	EventArtifactCaptured:    CategoryOperations,
	EventCaptureFailed:       CategoryOperations,
	EventArtifactsReceived:   CategoryOperations,
	EventSubmissionOK:        CategoryOperations,
	EventSubmissionFailed:    CategoryOperations,
	EventConfirmationFetched: CategoryOperations,
	EventConfirmationFailed:  CategoryOperations,
	EventEditRequested:       CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
