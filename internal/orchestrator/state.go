package orchestrator

// State is the orchestrator's single current-state field. Every overlay,
// stage operation and transition is derived from it.
type State int

const (
	StateIdle State = iota
	StateReadyForDocs
	StateDocuments
	StateFace
	StateFingerprint
	StateAwaitingConfirmation
	StateComplete
)

// States lists every state in flow order.
var States = []State{
	StateIdle,
	StateReadyForDocs,
	StateDocuments,
	StateFace,
	StateFingerprint,
	StateAwaitingConfirmation,
	StateComplete,
}

var stateNames = map[State]string{
	StateIdle:                 "idle",
	StateReadyForDocs:         "ready_for_docs",
	StateDocuments:            "documents",
	StateFace:                 "face",
	StateFingerprint:          "fingerprint",
	StateAwaitingConfirmation: "awaiting_confirmation",
	StateComplete:             "complete",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Overlay is the capture surface shown for a state. At most one is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayStartPrompt
	OverlayDocuments
	OverlayFace
	OverlayFingerprint
	OverlayConfirmation
)

var overlayNames = map[Overlay]string{
	OverlayNone:         "none",
	OverlayStartPrompt:  "start_prompt",
	OverlayDocuments:    "documents",
	OverlayFace:         "face",
	OverlayFingerprint:  "fingerprint",
	OverlayConfirmation: "confirmation",
}

func (o Overlay) String() string {
	if name, ok := overlayNames[o]; ok {
		return name
	}
	return "unknown"
}

// Overlay returns the surface for s. Only Idle and Complete show none.
func (s State) Overlay() Overlay {
	switch s {
	case StateReadyForDocs:
		return OverlayStartPrompt
	case StateDocuments:
		return OverlayDocuments
	case StateFace:
		return OverlayFace
	case StateFingerprint:
		return OverlayFingerprint
	case StateAwaitingConfirmation:
		return OverlayConfirmation
	default:
		return OverlayNone
	}
}

// Event drives a transition.
type Event int

const (
	EventBackendReady Event = iota
	EventStartVerification
	EventDocumentsSubmitted
	EventFaceSubmitted
	EventFingerprintSubmitted
	EventConfirm
	EventEdit
	EventReset
)

// Events lists every event.
var Events = []Event{
	EventBackendReady,
	EventStartVerification,
	EventDocumentsSubmitted,
	EventFaceSubmitted,
	EventFingerprintSubmitted,
	EventConfirm,
	EventEdit,
	EventReset,
}

var eventNames = map[Event]string{
	EventBackendReady:         "backend_ready",
	EventStartVerification:    "start_verification",
	EventDocumentsSubmitted:   "documents_submitted",
	EventFaceSubmitted:        "face_submitted",
	EventFingerprintSubmitted: "fingerprint_submitted",
	EventConfirm:              "confirm",
	EventEdit:                 "edit",
	EventReset:                "reset",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return "unknown"
}

type edge struct {
	from State
	on   Event
}

var transitions = map[edge]State{
	{StateIdle, EventBackendReady}:                StateReadyForDocs,
	{StateReadyForDocs, EventStartVerification}:   StateDocuments,
	{StateDocuments, EventDocumentsSubmitted}:     StateFace,
	{StateFace, EventFaceSubmitted}:               StateFingerprint,
	{StateFingerprint, EventFingerprintSubmitted}: StateAwaitingConfirmation,
	{StateAwaitingConfirmation, EventConfirm}:     StateComplete,
	{StateAwaitingConfirmation, EventEdit}:        StateDocuments,
}

// Transition is total over State x Event. It returns the next state and
// whether the event applies; an inapplicable event leaves s unchanged.
// Reset applies from every state.
func Transition(s State, e Event) (State, bool) {
	if e == EventReset {
		return StateIdle, true
	}
	if next, ok := transitions[edge{s, e}]; ok {
		return next, true
	}
	return s, false
}
