package conversation

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"verifyflow/pkg/domain"
)

const (
	// Greeting opens every conversation.
	Greeting = "Hello! Welcome aboard. I'm your digital assistant.\n\n" +
		"I can help you open a new account in just a few minutes.\n\n" +
		"To get started, please tell me your full name."

	// TroubleConnecting is appended when the backend cannot be reached.
	TroubleConnecting = "I'm having trouble connecting right now. Please check your connection and try again."

	hintName  = "Please enter your full name (at least 2 characters)."
	hintEmail = "That doesn't look like an email address. Please include an \"@\"."
	hintPhone = "Please enter your phone number."
)

var linkPattern = regexp.MustCompile(`https?://\S+`)

// Result describes what one Send did.
type Result struct {
	// Ignored is set for blank input; nothing was appended.
	Ignored bool
	// Rejected is set when local validation failed; a hint was appended and
	// the backend was not called.
	Rejected bool
	// Failed is set when the backend call failed.
	Failed bool
	// Stale is set when a reset happened while the backend call was in
	// flight; the reply was dropped.
	Stale bool
	// Ready is set when the backend signalled that capture may start.
	Ready bool
	// Step is the step after the send.
	Step Step
	// Reply is the bot message appended by this send, if any.
	Reply *Message
}

// Machine is the conversation state machine.
type Machine struct {
	backend Backend
	logger  *slog.Logger
	now     func() time.Time

	sendMu sync.Mutex // one backend turn at a time

	mu         sync.Mutex
	state      State
	generation uint64
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}

// WithClock replaces time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// New creates a Machine at StepAskName with the greeting appended.
func New(backend Backend, opts ...Option) (*Machine, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	m := &Machine{
		backend: backend,
		logger:  slog.New(slog.DiscardHandler),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.state = m.initial()
	return m, nil
}

func (m *Machine) initial() State {
	return State{
		Step:     StepAskName,
		UserData: map[string]string{},
		Messages: []Message{m.message(RoleBot, Greeting, "")},
	}
}

func (m *Machine) message(role Role, content, actionURL string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: m.now(),
		ActionURL: actionURL,
	}
}

// State returns a copy of the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Reset returns to the initial state. A send in flight is dropped when it
// returns.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	m.state = m.initial()
}

// Append adds a bot message outside a turn; the orchestrator uses it for
// stage announcements.
func (m *Machine) Append(content string) Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := m.message(RoleBot, content, "")
	m.state.Messages = append(m.state.Messages, msg)
	return msg
}

// Send appends the user's text and, if it passes the local check for the
// current step, forwards it to the backend and applies the reply.
func (m *Machine) Send(ctx context.Context, sessionID domain.SessionID, text string) Result {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{Ignored: true, Step: m.State().Step}
	}

	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	m.mu.Lock()
	gen := m.generation
	step := m.state.Step
	m.state.Messages = append(m.state.Messages, m.message(RoleUser, text, ""))
	if hint, ok := validate(step, text); !ok {
		msg := m.message(RoleBot, hint, "")
		m.state.Messages = append(m.state.Messages, msg)
		m.mu.Unlock()
		return Result{Rejected: true, Step: step, Reply: &msg}
	}
	turn := Turn{Message: text, Step: step, UserData: maps.Clone(m.state.UserData)}
	m.mu.Unlock()

	reply, err := m.backend.Chat(ctx, sessionID, turn)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		return Result{Stale: true, Step: m.state.Step}
	}
	if err != nil {
		m.logger.WarnContext(ctx, "chat turn failed", "step", string(step), "error", err)
		msg := m.message(RoleBot, TroubleConnecting, "")
		m.state.Messages = append(m.state.Messages, msg)
		return Result{Failed: true, Step: m.state.Step, Reply: &msg}
	}
	return m.apply(ctx, turn, reply)
}

// apply merges a backend reply over the locally derived advance. Caller
// holds m.mu.
func (m *Machine) apply(ctx context.Context, turn Turn, reply *Reply) Result {
	if field, ok := stepField[turn.Step]; ok {
		m.state.UserData[field] = turn.Message
	}
	for k, v := range reply.UserDataPatch {
		m.state.UserData[k] = v
	}

	prev := m.state.Step
	if next, ok := localNext[prev]; ok {
		m.state.Step = next
	}
	if next := reply.NextStep; next != "" {
		switch {
		case !next.Valid():
			m.logger.WarnContext(ctx, "backend returned unknown step", "step", string(next))
		case next == StepError || prev == StepError || rank[next] >= rank[prev]:
			m.state.Step = next
		default:
			m.logger.DebugContext(ctx, "ignoring backward step from backend",
				"current", string(prev),
				"returned", string(next),
			)
		}
	}

	text, link := extractLink(reply.Text, reply.VerificationLink)
	if link != "" {
		m.state.Step = StepVerificationSent
	}

	msg := m.message(RoleBot, text, link)
	m.state.Messages = append(m.state.Messages, msg)
	return Result{
		Ready: reply.Action == ActionShowVerificationButton,
		Step:  m.state.Step,
		Reply: &msg,
	}
}

// localNext is the advance applied when the backend does not name a step.
var localNext = map[Step]Step{
	StepAskName:  StepAskEmail,
	StepAskEmail: StepAskPhone,
	StepAskPhone: StepAwaitVerification,
}

// stepField is the user data key filled by each question.
var stepField = map[Step]string{
	StepAskName:  "name",
	StepAskEmail: "email",
	StepAskPhone: "phone",
}

// extractLink prefers the explicit link and falls back to scanning the text.
// The link is removed from the displayed text either way.
func extractLink(text, explicit string) (string, string) {
	link := explicit
	if link == "" {
		link = linkPattern.FindString(text)
	}
	if link == "" {
		return text, ""
	}
	return strings.TrimSpace(strings.Replace(text, link, "", 1)), link
}

// validate applies the local gate for step. Steps without a gate accept any
// non-blank input.
func validate(step Step, text string) (string, bool) {
	switch step {
	case StepAskName:
		if utf8.RuneCountInString(text) < 2 {
			return hintName, false
		}
	case StepAskEmail:
		if !strings.Contains(text, "@") {
			return hintEmail, false
		}
	case StepAskPhone:
		if text == "" {
			return hintPhone, false
		}
	}
	return "", true
}
