package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"verifyflow/internal/media"
)

// ErrEmptyRecording is returned when a recording stopped without a chunk.
var ErrEmptyRecording = errors.New("capture: recording produced no data")

// DefaultRecordDuration bounds a liveness clip.
const DefaultRecordDuration = 4 * time.Second

// Phase is one presentational status change during a recording.
type Phase struct {
	Offset time.Duration
	Label  string
}

// PhaseTimeline drives progress text only. It never reflects any analysis of
// the recorded frames.
type PhaseTimeline []Phase

// DefaultLivenessTimeline is shown while recording the liveness clip.
func DefaultLivenessTimeline() PhaseTimeline {
	return PhaseTimeline{
		{Offset: 0, Label: "Recording... please blink and move your head slightly"},
		{Offset: 1500 * time.Millisecond, Label: "Blink detected"},
		{Offset: 3000 * time.Millisecond, Label: "Smile detected"},
	}
}

// RecordOptions configures one recording.
type RecordOptions struct {
	Duration time.Duration
	Timeline PhaseTimeline
	// Countdown is a pre-roll shown as one status tick per second. Only
	// context cancellation interrupts it.
	Countdown time.Duration
	Mirror    bool
	OnStatus  func(status string)
}

// Recording is the result of a successful recording.
type Recording struct {
	Video    *Artifact
	Still    *Artifact
	Chunks   int
	Duration time.Duration
}

// TimedRecorder records bounded clips from a stream.
type TimedRecorder struct {
	clock    Clock
	capturer *FrameCapturer
	logger   *slog.Logger
}

// NewTimedRecorder returns a recorder that takes its representative still
// with capturer.
func NewTimedRecorder(capturer *FrameCapturer, clock Clock, logger *slog.Logger) (*TimedRecorder, error) {
	if capturer == nil {
		return nil, errors.New("frame capturer is required")
	}
	if clock == nil {
		clock = RealClock()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &TimedRecorder{clock: clock, capturer: capturer, logger: logger}, nil
}

// Record runs the optional countdown, then records until opts.Duration
// elapses on the clock. The stop is issued exactly once; chunks delivered
// after it are dropped. Cancelling ctx aborts the recording and cancels every
// pending timer.
func (r *TimedRecorder) Record(ctx context.Context, stream media.Stream, opts RecordOptions) (*Recording, error) {
	if opts.Duration <= 0 {
		opts.Duration = DefaultRecordDuration
	}
	status := opts.OnStatus
	if status == nil {
		status = func(string) {}
	}

	if err := r.countdown(ctx, opts.Countdown, status); err != nil {
		return nil, err
	}

	rec, err := stream.NewRecorder()
	if err != nil {
		return nil, fmt.Errorf("create recorder: %w", err)
	}

	var (
		mu      sync.Mutex
		chunks  [][]byte
		stopped bool
	)
	onChunk := func(c []byte) {
		mu.Lock()
		defer mu.Unlock()
		if stopped || len(c) == 0 {
			return
		}
		chunks = append(chunks, c)
	}

	var (
		stopOnce  sync.Once
		stoppedCh = make(chan struct{})
		stopErr   error
		stoppedAt time.Time
	)
	stop := func() {
		stopOnce.Do(func() {
			mu.Lock()
			stopped = true
			mu.Unlock()
			stoppedAt = r.clock.Now()
			stopErr = rec.Stop()
			close(stoppedCh)
		})
	}

	startedAt := r.clock.Now()
	if err := rec.Start(onChunk); err != nil {
		return nil, fmt.Errorf("start recorder: %w", err)
	}

	timers := make([]Timer, 0, len(opts.Timeline)+1)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()
	for _, p := range opts.Timeline {
		if p.Offset >= opts.Duration {
			continue
		}
		label := p.Label
		if p.Offset <= 0 {
			status(label)
			continue
		}
		timers = append(timers, r.clock.AfterFunc(p.Offset, func() {
			mu.Lock()
			done := stopped
			mu.Unlock()
			if !done {
				status(label)
			}
		}))
	}
	timers = append(timers, r.clock.AfterFunc(opts.Duration, stop))

	select {
	case <-stoppedCh:
	case <-ctx.Done():
		stop()
		r.logger.DebugContext(ctx, "recording aborted", "stream_id", stream.ID())
		return nil, ctx.Err()
	}
	if stopErr != nil {
		r.logger.WarnContext(ctx, "recorder stop reported an error", "error", stopErr)
	}

	mu.Lock()
	collected := chunks
	mu.Unlock()
	if len(collected) == 0 {
		return nil, ErrEmptyRecording
	}

	still, err := r.capturer.Capture(stream, opts.Mirror)
	if err != nil {
		return nil, err
	}
	still.Kind = KindSelfie

	return &Recording{
		Video: &Artifact{
			Kind:       KindLivenessVideo,
			Data:       bytes.Join(collected, nil),
			MIMEType:   rec.MIMEType(),
			Source:     SourceCamera,
			CapturedAt: startedAt,
		},
		Still:    still,
		Chunks:   len(collected),
		Duration: stoppedAt.Sub(startedAt),
	}, nil
}

func (r *TimedRecorder) countdown(ctx context.Context, d time.Duration, status func(string)) error {
	ticks := int((d + time.Second - 1) / time.Second)
	for i := ticks; i > 0; i-- {
		status(strconv.Itoa(i))
		if err := r.sleep(ctx, time.Second); err != nil {
			return err
		}
	}
	return nil
}

func (r *TimedRecorder) sleep(ctx context.Context, d time.Duration) error {
	done := make(chan struct{})
	t := r.clock.AfterFunc(d, func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}
}
