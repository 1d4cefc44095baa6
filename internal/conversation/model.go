// Package conversation drives the text exchange that precedes document
// capture. Input is checked locally before it is sent; the backend reply is
// authoritative for the next step and for collected user data.
package conversation

import (
	"context"
	"maps"
	"slices"
	"time"

	"verifyflow/pkg/domain"
)

// Step is a conversation step.
type Step string

const (
	StepAskName           Step = "ask_name"
	StepAskEmail          Step = "ask_email"
	StepAskPhone          Step = "ask_phone"
	StepAwaitVerification Step = "await_verification"
	StepVerificationSent  Step = "verification_sent"
	StepError             Step = "error"
)

// rank orders steps for the forward-only rule. Error sits outside the order.
var rank = map[Step]int{
	StepAskName:           0,
	StepAskEmail:          1,
	StepAskPhone:          2,
	StepAwaitVerification: 3,
	StepVerificationSent:  4,
}

// Valid reports whether s is a known step.
func (s Step) Valid() bool {
	_, ok := rank[s]
	return ok || s == StepError
}

// Role is who authored a message.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Message is one chat entry. Messages are never modified once appended.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time
	ActionURL string
}

// State is a copy of the conversation state.
type State struct {
	Step     Step
	UserData map[string]string
	Messages []Message
}

func (s State) clone() State {
	return State{
		Step:     s.Step,
		UserData: maps.Clone(s.UserData),
		Messages: slices.Clone(s.Messages),
	}
}

// ActionShowVerificationButton is the backend signal that document capture
// may start.
const ActionShowVerificationButton = "show_verification_button"

// Turn is one user message forwarded to the backend.
type Turn struct {
	Message  string
	Step     Step
	UserData map[string]string
}

// Reply is the backend answer to a Turn.
type Reply struct {
	Text             string
	NextStep         Step
	UserDataPatch    map[string]string
	VerificationLink string
	Action           string
}

// Backend forwards turns. It is implemented by backend.Client.
type Backend interface {
	Chat(ctx context.Context, sessionID domain.SessionID, turn Turn) (*Reply, error)
}
