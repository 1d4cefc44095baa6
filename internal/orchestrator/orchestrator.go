// Package orchestrator sequences the capture flow: conversation, document,
// face and fingerprint capture, and confirmation. It owns the single state
// field from which the visible overlay is derived, the camera stream
// lifecycle, and the optimistic advance past each submitted stage.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"verifyflow/internal/capture"
	"verifyflow/internal/confirmation"
	"verifyflow/internal/conversation"
	"verifyflow/internal/media"
	"verifyflow/internal/platform/metrics"
	"verifyflow/internal/submission"
	"verifyflow/pkg/domain"
	audit "verifyflow/pkg/platform/audit"
)

// SessionSource hands out and rotates the session id.
type SessionSource interface {
	Current(ctx context.Context) (domain.SessionID, error)
	Rotate(ctx context.Context) (domain.SessionID, error)
}

// AuditPublisher records capture-flow events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Config tunes timings and encoder settings.
type Config struct {
	// AdvanceDelay is the pause between a stage's submit and the next
	// surface. Zero advances immediately.
	AdvanceDelay    time.Duration
	RecordDuration  time.Duration
	Countdown       time.Duration
	WarmupTimeout   time.Duration
	Timeline        capture.PhaseTimeline
	FaceQuality     int
	DocumentQuality int
}

// DefaultConfig returns the production timings.
func DefaultConfig() *Config {
	return &Config{
		AdvanceDelay:    1500 * time.Millisecond,
		RecordDuration:  capture.DefaultRecordDuration,
		Countdown:       3 * time.Second,
		WarmupTimeout:   3 * time.Second,
		Timeline:        capture.DefaultLivenessTimeline(),
		FaceQuality:     capture.FaceQuality,
		DocumentQuality: capture.DocumentQuality,
	}
}

// Update is a copy of everything a surface renders.
type Update struct {
	State     State
	Overlay   Overlay
	SessionID domain.SessionID
	// Pending is set while the delayed advance to the next stage runs.
	Pending   bool
	Capturing bool
	// Status is live capture progress (countdown ticks, recording phases).
	Status string
	// Notice is the latest user-facing remedial message.
	Notice   string
	Slots    []capture.Slot
	Snapshot *confirmation.Snapshot
	Offline  bool
}

// Orchestrator is the capture flow state machine. All methods are safe for
// concurrent use; the state lock is never held across device or network I/O.
type Orchestrator struct {
	conv       *conversation.Machine
	negotiator *media.Negotiator
	submitter  *submission.Submitter
	gate       *confirmation.Gate
	sessions   SessionSource

	config   *Config
	clock    capture.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
	auditor  AuditPublisher
	docs     *capture.FrameCapturer
	face     *capture.FrameCapturer
	recorder *capture.TimedRecorder

	lifeCtx    context.Context
	lifeCancel context.CancelFunc
	tasks      sync.WaitGroup

	notifyMu  sync.Mutex
	observers map[int]func(Update)
	nextObs   int

	mu         sync.Mutex
	started    bool
	closed     bool
	state      State
	sessionID  domain.SessionID
	generation uint64
	slots      *capture.Slots
	inflight   map[capture.Kind]int
	run        *captureRun
	pending    capture.Timer
	status     string
	notice     string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithAuditPublisher records flow events.
func WithAuditPublisher(p AuditPublisher) Option {
	return func(o *Orchestrator) {
		o.auditor = p
	}
}

// WithConfig overrides DefaultConfig.
func WithConfig(cfg *Config) Option {
	return func(o *Orchestrator) {
		o.config = cfg
	}
}

// WithClock sets the clock driving countdowns, recordings and the advance
// delay.
func WithClock(c capture.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// New wires an orchestrator. Start must be called before any operation.
func New(
	conv *conversation.Machine,
	negotiator *media.Negotiator,
	submitter *submission.Submitter,
	gate *confirmation.Gate,
	sessions SessionSource,
	opts ...Option,
) (*Orchestrator, error) {
	if conv == nil {
		return nil, errors.New("conversation is required")
	}
	if negotiator == nil {
		return nil, errors.New("negotiator is required")
	}
	if submitter == nil {
		return nil, errors.New("submitter is required")
	}
	if gate == nil {
		return nil, errors.New("confirmation gate is required")
	}
	if sessions == nil {
		return nil, errors.New("session source is required")
	}

	o := &Orchestrator{
		conv:       conv,
		negotiator: negotiator,
		submitter:  submitter,
		gate:       gate,
		sessions:   sessions,
		config:     DefaultConfig(),
		clock:      capture.RealClock(),
		logger:     slog.New(slog.DiscardHandler),
		observers:  make(map[int]func(Update)),
		slots:      capture.NewSlots(),
		inflight:   make(map[capture.Kind]int),
	}
	for _, opt := range opts {
		opt(o)
	}

	var err error
	if o.docs, err = capture.NewFrameCapturer(o.config.DocumentQuality, o.clock); err != nil {
		return nil, fmt.Errorf("document capturer: %w", err)
	}
	if o.face, err = capture.NewFrameCapturer(o.config.FaceQuality, o.clock); err != nil {
		return nil, fmt.Errorf("face capturer: %w", err)
	}
	if o.recorder, err = capture.NewTimedRecorder(o.face, o.clock, o.logger); err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}
	o.lifeCtx, o.lifeCancel = context.WithCancel(context.Background())
	return o, nil
}

// Start resumes or creates the session and opens it on the submitter.
func (o *Orchestrator) Start(ctx context.Context) error {
	id, err := o.sessions.Current(ctx)
	if err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	o.started = true
	o.sessionID = id
	o.mu.Unlock()

	o.submitter.BeginSession(id)
	o.logger.InfoContext(ctx, "capture flow started", "session_id", id.String())
	o.emit(ctx, id, audit.EventSessionStarted, StateIdle, nil, "", "")
	o.notify()
	return nil
}

// Subscribe registers fn for every Update and returns a function that
// removes it. Observers are called one at a time and must not call back
// into state-changing operations.
func (o *Orchestrator) Subscribe(fn func(Update)) (unsubscribe func()) {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()
	id := o.nextObs
	o.nextObs++
	o.observers[id] = fn
	return func() {
		o.notifyMu.Lock()
		defer o.notifyMu.Unlock()
		delete(o.observers, id)
	}
}

// Snapshot returns the current Update.
func (o *Orchestrator) Snapshot() Update {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Update {
	u := Update{
		State:     o.state,
		Overlay:   o.state.Overlay(),
		SessionID: o.sessionID,
		Pending:   o.pending != nil,
		Capturing: o.run != nil,
		Status:    o.status,
		Notice:    o.notice,
		Slots:     o.slots.Snapshot(),
		Offline:   o.submitter.Offline(),
	}
	if o.state == StateAwaitingConfirmation || o.state == StateComplete {
		u.Snapshot = o.gate.Snapshot()
	}
	return u
}

// Conversation returns a copy of the conversation state.
func (o *Orchestrator) Conversation() conversation.State {
	return o.conv.State()
}

// SessionID returns the current session id.
func (o *Orchestrator) SessionID() domain.SessionID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

func (o *Orchestrator) notify() {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()
	if len(o.observers) == 0 {
		return
	}
	u := o.Snapshot()
	ids := make([]int, 0, len(o.observers))
	for id := range o.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		o.observers[id](u)
	}
}

// SendMessage forwards text to the conversation. A readiness signal from
// the backend moves Idle to ReadyForDocs; it never starts capture by itself.
func (o *Orchestrator) SendMessage(ctx context.Context, text string) (conversation.Result, error) {
	o.mu.Lock()
	if err := o.usableLocked(); err != nil {
		o.mu.Unlock()
		return conversation.Result{}, err
	}
	sid := o.sessionID
	state := o.state
	o.mu.Unlock()

	res := o.conv.Send(ctx, sid, text)
	if res.Ignored || res.Stale {
		return res, nil
	}
	if !res.Rejected {
		o.emit(ctx, sid, audit.EventChatTurn, state, nil, string(res.Step), "")
	}

	if res.Ready {
		o.mu.Lock()
		changed := false
		if o.sessionID == sid {
			changed = o.applyLocked(ctx, EventBackendReady)
		}
		o.mu.Unlock()
		if changed {
			o.emit(ctx, sid, audit.EventCaptureReady, StateReadyForDocs, nil, "", "")
		}
	}
	o.notify()
	return res, nil
}

// StartVerification opens the document surface.
func (o *Orchestrator) StartVerification(ctx context.Context) error {
	o.mu.Lock()
	if err := o.usableLocked(); err != nil {
		o.mu.Unlock()
		return err
	}
	if !o.applyLocked(ctx, EventStartVerification) {
		err := wrongStage("start verification", o.state)
		o.mu.Unlock()
		return err
	}
	sid := o.sessionID
	o.mu.Unlock()

	o.conv.Append(msgDocumentsStage)
	o.emit(ctx, sid, audit.EventStageEntered, StateDocuments, nil, "", "")
	o.notify()
	return nil
}

// Confirm accepts the fetched snapshot and completes the flow. It is the
// only way into Complete.
func (o *Orchestrator) Confirm(ctx context.Context) error {
	o.mu.Lock()
	if err := o.stageReadyLocked("confirm", StateAwaitingConfirmation); err != nil {
		o.mu.Unlock()
		return err
	}
	if err := o.gate.Confirm(); err != nil {
		o.mu.Unlock()
		return err
	}
	o.applyLocked(ctx, EventConfirm)
	sid := o.sessionID
	o.mu.Unlock()

	o.conv.Append(msgComplete)
	o.emit(ctx, sid, audit.EventConfirmed, StateComplete, nil, "ok", "")
	o.notify()
	return nil
}

// Edit discards the snapshot and restarts capture at Documents. Captured
// artifacts are kept until recaptured.
func (o *Orchestrator) Edit(ctx context.Context) error {
	o.mu.Lock()
	if err := o.stageReadyLocked("edit", StateAwaitingConfirmation); err != nil {
		o.mu.Unlock()
		return err
	}
	o.gate.Edit()
	o.applyLocked(ctx, EventEdit)
	o.notice = ""
	sid := o.sessionID
	o.mu.Unlock()

	o.conv.Append(msgEditStage)
	o.emit(ctx, sid, audit.EventEditRequested, StateDocuments, nil, "", "")
	o.notify()
	return nil
}

// Reset returns to Idle from any state under a new session id. Capture,
// conversation and confirmation state are cleared, the pending advance and
// any running capture are cancelled, and uploads of the old session become
// stale.
func (o *Orchestrator) Reset(ctx context.Context) (domain.SessionID, error) {
	o.mu.Lock()
	if err := o.usableLocked(); err != nil {
		o.mu.Unlock()
		return domain.SessionID{}, err
	}
	prev := o.sessionID
	o.mu.Unlock()

	next, err := o.sessions.Rotate(ctx)
	if err != nil {
		// The persisted id is still prev, so a restart would resume it.
		o.logger.WarnContext(ctx, "session rotation not persisted",
			"session_id", next.String(),
			"stale_session_id", prev.String(),
			"error", err,
		)
	}
	if next.IsNil() || next == prev {
		// A failing session store must not trap the user in the old session.
		next = domain.NewSessionID()
		for next == prev {
			next = domain.NewSessionID()
		}
	}

	o.mu.Lock()
	o.generation++
	o.stopPendingLocked()
	if o.run != nil {
		o.run.cancel()
		o.run = nil
	}
	o.applyLocked(ctx, EventReset)
	o.slots.Reset()
	clear(o.inflight)
	o.status = ""
	o.notice = ""
	o.sessionID = next
	o.mu.Unlock()

	o.negotiator.Release()
	o.conv.Reset()
	o.gate.Reset()
	o.submitter.BeginSession(next)

	o.logger.InfoContext(ctx, "capture flow reset", "previous_session_id", prev.String(), "session_id", next.String())
	o.emit(ctx, prev, audit.EventSessionReset, StateIdle, nil, "", "")
	o.emit(ctx, next, audit.EventSessionStarted, StateIdle, nil, "", "")
	o.notify()
	return next, nil
}

// CloseSurface releases the camera and aborts a running capture. The state
// does not change.
func (o *Orchestrator) CloseSurface() {
	o.mu.Lock()
	if o.run != nil {
		o.run.cancel()
	}
	o.status = ""
	o.mu.Unlock()
	o.negotiator.Release()
	o.notify()
}

// Close tears the orchestrator down: it cancels timers and captures,
// releases the camera and waits for submissions to drain or ctx to end.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.generation++
	o.stopPendingLocked()
	if o.run != nil {
		o.run.cancel()
	}
	o.mu.Unlock()

	o.lifeCancel()
	o.negotiator.Release()
	err := o.submitter.Close(ctx)

	done := make(chan struct{})
	go func() {
		o.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func (o *Orchestrator) usableLocked() error {
	if o.closed {
		return ErrClosed
	}
	if !o.started {
		return ErrNotStarted
	}
	return nil
}

// stageReadyLocked checks that a stage operation may run in want.
func (o *Orchestrator) stageReadyLocked(op string, want State) error {
	if err := o.usableLocked(); err != nil {
		return err
	}
	if o.state != want {
		return wrongStage(op, o.state)
	}
	if o.pending != nil {
		return ErrTransitionPending
	}
	return nil
}

// applyLocked applies e and reports whether the state changed.
func (o *Orchestrator) applyLocked(ctx context.Context, e Event) bool {
	next, ok := Transition(o.state, e)
	if !ok {
		return false
	}
	prev := o.state
	o.state = next
	o.metrics.IncTransition(next.String())
	o.logger.DebugContext(ctx, "state transition", "from", prev.String(), "to", next.String(), "event", e.String())
	return true
}

func (o *Orchestrator) stopPendingLocked() {
	if o.pending != nil {
		o.pending.Stop()
		o.pending = nil
	}
}

func (o *Orchestrator) emit(ctx context.Context, sid domain.SessionID, action audit.AuditEvent, stage State, kinds []capture.Kind, outcome, reason string) {
	if o.auditor == nil {
		return
	}
	var names []string
	for _, k := range kinds {
		names = append(names, string(k))
	}
	err := o.auditor.Emit(context.WithoutCancel(ctx), audit.Event{
		SessionID: sid,
		Action:    string(action),
		Stage:     stage.String(),
		Kinds:     names,
		Outcome:   outcome,
		Reason:    reason,
	})
	if err != nil {
		o.logger.DebugContext(ctx, "audit emit failed", "action", string(action), "error", err)
	}
}
