package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"verifyflow/internal/capture"
	"verifyflow/internal/conversation"
	"verifyflow/internal/orchestrator"
	"verifyflow/pkg/domain"
)

// Flow is the part of the orchestrator the terminal drives.
type Flow interface {
	Snapshot() orchestrator.Update
	Conversation() conversation.State
	Subscribe(fn func(orchestrator.Update)) (unsubscribe func())

	SendMessage(ctx context.Context, text string) (conversation.Result, error)
	StartVerification(ctx context.Context) error
	CaptureDocument(ctx context.Context, side capture.Kind) (*capture.Artifact, error)
	AttachDocument(ctx context.Context, side capture.Kind, data []byte) (*capture.Artifact, error)
	SubmitDocuments(ctx context.Context) error
	CaptureFace(ctx context.Context) (*capture.Recording, error)
	SubmitFace(ctx context.Context) error
	CaptureFingerprint(ctx context.Context) (*capture.Artifact, error)
	SubmitFingerprint(ctx context.Context) error
	Confirm(ctx context.Context) error
	Edit(ctx context.Context) error
	RetryConfirmation(ctx context.Context) error
	Reset(ctx context.Context) (domain.SessionID, error)
	CloseSurface()
}

var _ Flow = (*orchestrator.Orchestrator)(nil)

// updateMsg carries the latest orchestrator Update into the program.
type updateMsg orchestrator.Update

// opDoneMsg reports the end of one flow operation.
type opDoneMsg struct {
	op  string
	err error
}

// feed forwards orchestrator updates to the program, keeping only the most
// recent one when the program falls behind.
type feed struct {
	ch          chan orchestrator.Update
	unsubscribe func()
}

func newFeed(flow Flow) *feed {
	f := &feed{ch: make(chan orchestrator.Update, 1)}
	f.unsubscribe = flow.Subscribe(func(u orchestrator.Update) {
		for {
			select {
			case f.ch <- u:
				return
			default:
			}
			select {
			case <-f.ch:
			default:
			}
		}
	})
	return f
}

func (f *feed) wait() tea.Cmd {
	return func() tea.Msg {
		u, ok := <-f.ch
		if !ok {
			return nil
		}
		return updateMsg(u)
	}
}

func (f *feed) close() {
	f.unsubscribe()
	close(f.ch)
}

func run(op string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return opDoneMsg{op: op, err: fn()}
	}
}
