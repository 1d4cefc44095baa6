package media

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"verifyflow/internal/platform/metrics"
	"verifyflow/pkg/platform/sentinel"
)

// Tier names, in the order they are attempted.
const (
	TierIdeal  = "ideal"
	TierFacing = "facing"
	TierAny    = "any"
)

// Negotiator acquires at most one stream at a time from a Device.
type Negotiator struct {
	device  Device
	logger  *slog.Logger
	metrics *metrics.Metrics

	acquireMu sync.Mutex // serialises Acquire

	mu         sync.Mutex
	active     Stream
	generation uint64 // bumped by Release; detects a release during Acquire
}

// Option configures a Negotiator.
type Option func(*Negotiator)

// WithLogger sets the logger used for tier diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Negotiator) {
		n.logger = logger
	}
}

// WithMetrics sets the metrics sink for tier attempts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Negotiator) {
		n.metrics = m
	}
}

// NewNegotiator creates a Negotiator over device.
func NewNegotiator(device Device, opts ...Option) (*Negotiator, error) {
	if device == nil {
		return nil, errors.New("device is required")
	}
	n := &Negotiator{
		device: device,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

type tier struct {
	name        string
	constraints Constraints
}

func tiers(facing Facing, quality Quality, audio bool) []tier {
	ideal := quality.Ideal()
	return []tier{
		{name: TierIdeal, constraints: Constraints{Facing: facing, Ideal: &ideal, Audio: audio}},
		{name: TierFacing, constraints: Constraints{Facing: facing, Audio: audio}},
		{name: TierAny, constraints: Constraints{}},
	}
}

// Acquire releases any active stream, then tries the ideal, facing-only and
// any-device tiers in order, returning the first stream that opens. When all
// tiers fail it returns an *AcquisitionError classified from the last failure.
func (n *Negotiator) Acquire(ctx context.Context, facing Facing, quality Quality) (Stream, error) {
	return n.acquire(ctx, facing, quality, false)
}

// AcquireWithAudio is Acquire with a microphone track requested on the ideal
// and facing tiers. The any-device tier is video only, so a missing microphone
// never fails the acquisition.
func (n *Negotiator) AcquireWithAudio(ctx context.Context, facing Facing, quality Quality) (Stream, error) {
	return n.acquire(ctx, facing, quality, true)
}

func (n *Negotiator) acquire(ctx context.Context, facing Facing, quality Quality, audio bool) (Stream, error) {
	n.acquireMu.Lock()
	defer n.acquireMu.Unlock()

	n.Release()
	n.mu.Lock()
	gen := n.generation
	n.mu.Unlock()

	var attempts []error
	for _, t := range tiers(facing, quality, audio) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stream, err := n.device.Open(ctx, t.constraints)
		if err != nil {
			n.metrics.IncNegotiationAttempt(t.name, false)
			n.logger.DebugContext(ctx, "camera tier failed",
				"tier", t.name,
				"facing", string(facing),
				"error", err,
			)
			attempts = append(attempts, err)
			continue
		}
		n.metrics.IncNegotiationAttempt(t.name, true)

		n.mu.Lock()
		if n.generation != gen {
			n.mu.Unlock()
			stream.Stop()
			return nil, sentinel.ErrClosed
		}
		n.active = stream
		n.mu.Unlock()

		n.logger.DebugContext(ctx, "camera acquired", "tier", t.name, "stream_id", stream.ID())
		return stream, nil
	}

	aerr := &AcquisitionError{
		Reason:   Classify(attempts[len(attempts)-1]),
		Attempts: attempts,
	}
	n.metrics.IncAcquisitionFailure(aerr.Reason.String())
	n.logger.InfoContext(ctx, "camera acquisition exhausted",
		"reason", aerr.Reason.String(),
		"attempts", len(attempts),
	)
	return nil, aerr
}

// Active returns the current stream, if any.
func (n *Negotiator) Active() Stream {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.active
}

// Release stops the active stream. It is safe to call at any time, any number
// of times, including while Acquire is in progress: a stream opened by that
// Acquire is stopped before it is handed out.
func (n *Negotiator) Release() {
	n.mu.Lock()
	s := n.active
	n.active = nil
	n.generation++
	n.mu.Unlock()

	if s != nil {
		s.Stop()
	}
}
