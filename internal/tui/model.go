// Package tui is the terminal surface of the onboarding flow. It renders the
// chat and the capture overlays from orchestrator updates and turns key
// presses into flow operations.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"verifyflow/internal/capture"
	"verifyflow/internal/conversation"
	"verifyflow/internal/orchestrator"
	dErrors "verifyflow/pkg/domain-errors"
)

const (
	maxAttachBytes = 20 << 20
	panelHeight    = 12
	chromeHeight   = 5
)

// Model is the bubbletea model of the onboarding terminal.
type Model struct {
	ctx    context.Context
	flow   Flow
	feed   *feed
	keys   keyMap
	logger *slog.Logger

	input   textinput.Model
	chat    viewport.Model
	spinner spinner.Model
	help    help.Model

	update     orchestrator.Update
	conv       conversation.State
	busy       map[string]bool
	attaching  bool
	attachSide capture.Kind
	lastErr    string
	width      int
	height     int
}

// Option configures a Model.
type Option func(*Model)

// WithLogger sets the logger. The terminal owns stdout, so it should write
// to a file.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Model) {
		m.logger = logger
	}
}

// New creates a Model driving flow. ctx bounds every operation it starts.
func New(ctx context.Context, flow Flow, opts ...Option) *Model {
	input := textinput.New()
	input.Placeholder = "Type your answer…"
	input.CharLimit = 500
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	m := &Model{
		ctx:        ctx,
		flow:       flow,
		keys:       defaultKeyMap(),
		logger:     slog.New(slog.DiscardHandler),
		input:      input,
		chat:       viewport.New(80, 20),
		spinner:    sp,
		help:       help.New(),
		update:     flow.Snapshot(),
		conv:       flow.Conversation(),
		busy:       make(map[string]bool),
		attachSide: capture.KindDocumentFront,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.feed = newFeed(flow)
	m.refreshChat()
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.feed.wait(), m.spinner.Tick, textinput.Blink)
}

// Close stops listening for updates. Call it once the program has exited.
func (m *Model) Close() {
	m.feed.close()
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil

	case updateMsg:
		m.update = orchestrator.Update(msg)
		m.conv = m.flow.Conversation()
		if m.update.Overlay != orchestrator.OverlayDocuments {
			m.attaching = false
		}
		m.syncInput()
		m.refreshChat()
		return m, m.feed.wait()

	case opDoneMsg:
		delete(m.busy, msg.op)
		m.lastErr = ""
		if msg.err != nil && !quiet(msg.err) {
			m.logger.WarnContext(m.ctx, "operation failed", "op", msg.op, "error", msg.err)
			m.lastErr = describe(msg.err)
		}
		m.conv = m.flow.Conversation()
		m.refreshChat()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.ResetFlow):
		m.attaching = false
		return m, m.start("reset", func() error {
			_, err := m.flow.Reset(m.ctx)
			return err
		})
	case key.Matches(msg, m.keys.ScrollUp), key.Matches(msg, m.keys.ScrollDown):
		var cmd tea.Cmd
		m.chat, cmd = m.chat.Update(msg)
		return m, cmd
	}

	if m.attaching {
		return m.handleAttachKey(msg)
	}

	u := m.update
	switch u.Overlay {
	case orchestrator.OverlayNone:
		if key.Matches(msg, m.keys.Send) {
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.busy["send"] {
				return m, nil
			}
			m.input.SetValue("")
			return m, m.start("send", func() error {
				_, err := m.flow.SendMessage(m.ctx, text)
				return err
			})
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case orchestrator.OverlayStartPrompt:
		if key.Matches(msg, m.keys.Start) {
			return m, m.start("start", func() error { return m.flow.StartVerification(m.ctx) })
		}

	case orchestrator.OverlayDocuments:
		switch {
		case key.Matches(msg, m.keys.Front):
			return m, m.captureDocument(capture.KindDocumentFront)
		case key.Matches(msg, m.keys.Back):
			return m, m.captureDocument(capture.KindDocumentBack)
		case key.Matches(msg, m.keys.Attach):
			m.attaching = true
			m.syncInput()
			return m, textinput.Blink
		case key.Matches(msg, m.keys.Submit):
			return m, m.start("submit", func() error { return m.flow.SubmitDocuments(m.ctx) })
		case key.Matches(msg, m.keys.CloseSurf):
			m.flow.CloseSurface()
		}

	case orchestrator.OverlayFace:
		switch {
		case key.Matches(msg, m.keys.Capture):
			return m, m.start("capture", func() error {
				_, err := m.flow.CaptureFace(m.ctx)
				return err
			})
		case key.Matches(msg, m.keys.Submit):
			return m, m.start("submit", func() error { return m.flow.SubmitFace(m.ctx) })
		case key.Matches(msg, m.keys.CloseSurf):
			m.flow.CloseSurface()
		}

	case orchestrator.OverlayFingerprint:
		switch {
		case key.Matches(msg, m.keys.Capture):
			return m, m.start("capture", func() error {
				_, err := m.flow.CaptureFingerprint(m.ctx)
				return err
			})
		case key.Matches(msg, m.keys.Submit):
			return m, m.start("submit", func() error { return m.flow.SubmitFingerprint(m.ctx) })
		case key.Matches(msg, m.keys.CloseSurf):
			m.flow.CloseSurface()
		}

	case orchestrator.OverlayConfirmation:
		switch {
		case key.Matches(msg, m.keys.Confirm):
			return m, m.start("confirm", func() error { return m.flow.Confirm(m.ctx) })
		case key.Matches(msg, m.keys.Edit):
			return m, m.start("edit", func() error { return m.flow.Edit(m.ctx) })
		case key.Matches(msg, m.keys.Retry):
			return m, m.start("retry", func() error { return m.flow.RetryConfirmation(m.ctx) })
		}
	}
	return m, nil
}

func (m *Model) handleAttachKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.CloseSurf):
		m.attaching = false
		m.syncInput()
		return m, nil
	case key.Matches(msg, m.keys.SwitchSide):
		if m.attachSide == capture.KindDocumentFront {
			m.attachSide = capture.KindDocumentBack
		} else {
			m.attachSide = capture.KindDocumentFront
		}
		m.syncInput()
		return m, nil
	case key.Matches(msg, m.keys.Send):
		path := strings.TrimSpace(m.input.Value())
		if path == "" {
			return m, nil
		}
		side := m.attachSide
		m.attaching = false
		m.syncInput()
		return m, m.start("attach", func() error {
			data, err := readAttachment(path)
			if err != nil {
				return err
			}
			_, err = m.flow.AttachDocument(m.ctx, side, data)
			return err
		})
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) captureDocument(side capture.Kind) tea.Cmd {
	return m.start("capture", func() error {
		_, err := m.flow.CaptureDocument(m.ctx, side)
		return err
	})
}

// start marks op busy and runs fn off the update loop.
func (m *Model) start(op string, fn func() error) tea.Cmd {
	m.busy[op] = true
	m.lastErr = ""
	return run(op, fn)
}

// syncInput focuses the text input only where typing means something.
func (m *Model) syncInput() {
	switch {
	case m.attaching:
		m.input.SetValue("")
		m.input.Placeholder = fmt.Sprintf("Path to the %s image (tab switches side)", sideName(m.attachSide))
		m.input.Focus()
	case m.update.Overlay == orchestrator.OverlayNone:
		m.input.Placeholder = "Type your answer…"
		m.input.Focus()
	default:
		m.input.Blur()
	}
}

func (m *Model) layout() {
	m.chat.Width = m.width
	h := m.height - panelHeight - chromeHeight
	if h < 3 {
		h = 3
	}
	m.chat.Height = h
	m.input.Width = m.width - 4
	m.help.Width = m.width
	m.refreshChat()
}

func (m *Model) refreshChat() {
	m.chat.SetContent(renderMessages(m.conv.Messages, m.chat.Width))
	m.chat.GotoBottom()
}

func readAttachment(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "cannot open attached file")
	}
	if info.IsDir() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "attached path is a directory")
	}
	if info.Size() > maxAttachBytes {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "attached file is too large")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "cannot read attached file")
	}
	return data, nil
}

// quiet reports errors the surface already explains through the update
// notice, or that need no message at all.
func quiet(err error) bool {
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, orchestrator.ErrTransitionPending) ||
		errors.Is(err, orchestrator.ErrCaptureAborted) ||
		errors.Is(err, orchestrator.ErrCaptureInProgress) ||
		errors.Is(err, capture.ErrStreamNotReady) {
		return true
	}
	var friendly interface{ UserMessage() string }
	return errors.As(err, &friendly)
}

// describe picks the message shown for an unexpected failure.
func describe(err error) string {
	var de *dErrors.Error
	if errors.As(err, &de) && de.Code != dErrors.CodeInternal {
		return de.Message
	}
	return "Something went wrong. Please try again."
}

func sideName(k capture.Kind) string {
	if k == capture.KindDocumentBack {
		return "back"
	}
	return "front"
}
