// Package submission ships captured artifacts to the backend without ever
// blocking or failing the caller. Each upload reports an Outcome on its own
// channel; uploads belonging to a superseded session are cancelled and their
// outcomes marked stale.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"verifyflow/internal/capture"
	"verifyflow/internal/platform/metrics"
	"verifyflow/internal/platform/tracing"
	"verifyflow/pkg/domain"
	dErrors "verifyflow/pkg/domain-errors"
	"verifyflow/pkg/platform/circuit"
)

// Endpoint names one fixed backend upload route.
type Endpoint string

const (
	EndpointDocuments   Endpoint = "submit-documents"
	EndpointFace        Endpoint = "submit-face"
	EndpointFingerprint Endpoint = "submit-fingerprint"
)

// Uploader performs one multipart upload. It is implemented by backend.Client.
type Uploader interface {
	Upload(ctx context.Context, endpoint Endpoint, sessionID domain.SessionID, artifacts []*capture.Artifact) error
}

// Outcome reports how one submission ended.
type Outcome struct {
	SessionID domain.SessionID
	Endpoint  Endpoint
	Kinds     []capture.Kind
	// Stale is set when the session was superseded before the upload ended;
	// the rest of the outcome must then be ignored.
	Stale    bool
	Err      *Error
	Duration time.Duration
}

// Delivered reports whether the backend acknowledged the upload.
func (o Outcome) Delivered() bool {
	return !o.Stale && o.Err == nil
}

// Submitter runs uploads scoped by the current session.
type Submitter struct {
	uploader Uploader
	logger   *slog.Logger
	metrics  *metrics.Metrics
	breaker  *circuit.Breaker
	timeout  time.Duration

	mu      sync.Mutex
	session domain.SessionID
	ctx     context.Context
	cancel  context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

// Option configures a Submitter.
type Option func(*Submitter)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Submitter) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Submitter) {
		s.metrics = m
	}
}

// WithBreaker replaces the default backend breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Submitter) {
		s.breaker = b
	}
}

// WithTimeout bounds each upload. Zero means no bound beyond the session.
func WithTimeout(d time.Duration) Option {
	return func(s *Submitter) {
		s.timeout = d
	}
}

// New creates a Submitter. BeginSession must be called before Submit.
func New(uploader Uploader, opts ...Option) (*Submitter, error) {
	if uploader == nil {
		return nil, errors.New("uploader is required")
	}
	s := &Submitter{
		uploader: uploader,
		logger:   slog.New(slog.DiscardHandler),
		breaker:  circuit.New("backend", circuit.WithFailureThreshold(3), circuit.WithSuccessThreshold(1)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// BeginSession makes id the current session and cancels every upload still
// in flight for the previous one.
func (s *Submitter) BeginSession(id domain.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.session = id
	s.ctx, s.cancel = context.WithCancel(context.Background())
}

// Offline reports whether recent uploads have been failing.
func (s *Submitter) Offline() bool {
	return s.breaker.IsOpen()
}

// Submit starts an upload of artifacts for sessionID and returns a channel
// that receives exactly one Outcome. It never blocks on the network.
func (s *Submitter) Submit(sessionID domain.SessionID, artifacts ...*capture.Artifact) <-chan Outcome {
	out := make(chan Outcome, 1)
	kinds := kindsOf(artifacts)

	endpoint, err := endpointFor(artifacts)
	if err != nil {
		out <- Outcome{SessionID: sessionID, Kinds: kinds, Err: &Error{Err: err}}
		close(out)
		return out
	}

	s.mu.Lock()
	if s.closed || s.ctx == nil || s.session != sessionID {
		s.mu.Unlock()
		s.metrics.ObserveSubmission(string(endpoint), "stale", 0)
		out <- Outcome{SessionID: sessionID, Endpoint: endpoint, Kinds: kinds, Stale: true}
		close(out)
		return out
	}
	sessionCtx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer close(out)
		out <- s.run(sessionCtx, sessionID, endpoint, kinds, artifacts)
	}()
	return out
}

func (s *Submitter) run(sessionCtx context.Context, sessionID domain.SessionID, endpoint Endpoint, kinds []capture.Kind, artifacts []*capture.Artifact) Outcome {
	ctx := sessionCtx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	ctx, span := tracing.Start(ctx, "submission.upload",
		attribute.String("endpoint", string(endpoint)),
		attribute.String("session_id", sessionID.String()),
		attribute.Int("artifacts", len(artifacts)),
	)

	start := time.Now()
	err := s.uploader.Upload(ctx, endpoint, sessionID, artifacts)
	elapsed := time.Since(start)
	tracing.End(span, err)

	outcome := Outcome{SessionID: sessionID, Endpoint: endpoint, Kinds: kinds, Duration: elapsed}

	if sessionCtx.Err() != nil {
		s.metrics.ObserveSubmission(string(endpoint), "stale", elapsed)
		s.logger.Debug("upload finished after session was superseded",
			"endpoint", string(endpoint),
			"session_id", sessionID.String(),
		)
		outcome.Stale = true
		return outcome
	}

	if err != nil {
		if _, change := s.breaker.RecordFailure(); change.Opened {
			s.logger.Warn("backend circuit opened, uploads flagged offline", "breaker", s.breaker.Name())
		}
		s.metrics.SetBackendCircuitOpen(s.breaker.IsOpen())
		s.metrics.ObserveSubmission(string(endpoint), "failed", elapsed)
		s.logger.Warn("artifact upload failed",
			"endpoint", string(endpoint),
			"session_id", sessionID.String(),
			"duration", elapsed,
			"error", err,
		)
		outcome.Err = &Error{Endpoint: endpoint, Err: err, Offline: s.breaker.IsOpen()}
		return outcome
	}

	if _, change := s.breaker.RecordSuccess(); change.Closed {
		s.logger.Info("backend circuit closed", "breaker", s.breaker.Name())
	}
	s.metrics.SetBackendCircuitOpen(s.breaker.IsOpen())
	s.metrics.ObserveSubmission(string(endpoint), "ok", elapsed)
	s.logger.Info("artifact upload delivered",
		"endpoint", string(endpoint),
		"session_id", sessionID.String(),
		"duration", elapsed,
	)
	return outcome
}

// Close stops accepting submissions and waits for in-flight uploads until ctx
// is done, after which the remaining uploads are cancelled.
func (s *Submitter) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		if cancel != nil {
			cancel()
		}
		return nil
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		<-done
		return ctx.Err()
	}
}

func kindsOf(artifacts []*capture.Artifact) []capture.Kind {
	kinds := make([]capture.Kind, 0, len(artifacts))
	for _, a := range artifacts {
		if a != nil {
			kinds = append(kinds, a.Kind)
		}
	}
	return kinds
}

// endpointFor maps an artifact set to its endpoint. Documents go together,
// a selfie may carry the liveness video, a fingerprint goes alone.
func endpointFor(artifacts []*capture.Artifact) (Endpoint, error) {
	has := map[capture.Kind]bool{}
	for _, a := range artifacts {
		if a == nil || len(a.Data) == 0 {
			return "", dErrors.New(dErrors.CodeInvalidInput, "empty artifact")
		}
		if has[a.Kind] {
			return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("duplicate artifact %s", a.Kind))
		}
		has[a.Kind] = true
	}
	switch {
	case len(has) == 2 && has[capture.KindDocumentFront] && has[capture.KindDocumentBack]:
		return EndpointDocuments, nil
	case has[capture.KindSelfie] && (len(has) == 1 || len(has) == 2 && has[capture.KindLivenessVideo]):
		return EndpointFace, nil
	case len(has) == 1 && has[capture.KindFingerprint]:
		return EndpointFingerprint, nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "artifact set does not match any endpoint")
	}
}
