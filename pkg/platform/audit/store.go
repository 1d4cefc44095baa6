package audit

import (
	"context"

	"verifyflow/pkg/domain"
)

// Appender persists or forwards one event.
type Appender interface {
	Append(ctx context.Context, event Event) error
}

// BatchAppender stores several events atomically.
type BatchAppender interface {
	AppendBatch(ctx context.Context, events []Event) error
}

// Store is an Appender that can also be queried.
type Store interface {
	Appender
	ListBySession(ctx context.Context, sessionID domain.SessionID) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
