package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, devices and clients return
// these (optionally wrapped) so the orchestrator can translate them into
// user-facing outcomes.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: nothing persisted yet (session store, snapshot)
// - ErrInvalidState: operation not allowed in the current flow state
// - ErrUnavailable: backend or device temporarily unavailable
// - ErrClosed: the owning component has been torn down
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrClosed       = errors.New("closed")
)
