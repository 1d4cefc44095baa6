package worker

import (
	"context"
	"log/slog"

	audit "verifyflow/pkg/platform/audit"
)

// Worker drains an inbox of audit events into an Appender. Append failures
// are reported through onError and do not stop the worker.
type Worker struct {
	sink    audit.Appender
	inbox   <-chan audit.Event
	logger  *slog.Logger
	onError func(audit.Event, error)
}

func NewWorker(sink audit.Appender, inbox <-chan audit.Event, logger *slog.Logger, onError func(audit.Event, error)) *Worker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if onError == nil {
		onError = func(audit.Event, error) {}
	}
	return &Worker{sink: sink, inbox: inbox, logger: logger, onError: onError}
}

// Run processes events until the inbox is closed and drained, or ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.inbox:
			if !ok {
				return nil
			}
			if err := w.sink.Append(ctx, event); err != nil {
				w.logger.WarnContext(ctx, "audit append failed",
					"action", event.Action,
					"session_id", event.SessionID.String(),
					"error", err,
				)
				w.onError(event, err)
			}
		}
	}
}
