package orchestrator

import (
	"errors"
	"fmt"

	dErrors "verifyflow/pkg/domain-errors"
	"verifyflow/pkg/platform/sentinel"
)

var (
	// ErrTransitionPending is returned by stage operations while the delayed
	// advance to the next surface is running.
	ErrTransitionPending = errors.New("orchestrator: transition to the next stage is pending")
	// ErrCaptureInProgress is returned when a capture is started while
	// another one is running. Captures are strictly sequential.
	ErrCaptureInProgress = errors.New("orchestrator: a capture is already in progress")
	// ErrCaptureAborted is returned when the surface was closed, or the flow
	// reset, while a capture was running. Nothing was stored.
	ErrCaptureAborted = errors.New("orchestrator: capture aborted")
	// ErrNotStarted is returned by operations invoked before Start.
	ErrNotStarted = fmt.Errorf("%w: orchestrator not started", sentinel.ErrInvalidState)
	// ErrClosed is returned after Close.
	ErrClosed = fmt.Errorf("orchestrator: %w", sentinel.ErrClosed)
)

var errSuperseded = fmt.Errorf("%w: confirmation superseded by edit or reset", sentinel.ErrInvalidState)

func wrongStage(op string, s State) error {
	return fmt.Errorf("%w: %s is not available in state %s", sentinel.ErrInvalidState, op, s)
}

func missingArtifacts(msg string) error {
	return dErrors.New(dErrors.CodeValidation, msg)
}
