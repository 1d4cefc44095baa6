package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
)

// =============================================================================
// Timed Recorder Test Suite
// =============================================================================
// Justification for unit tests: the stop bound, late-chunk handling and timer
// cancellation depend on precise interleavings that only a manual clock can
// reproduce.

type TimedRecorderSuite struct {
	suite.Suite
	clock    *ManualClock
	stream   *splitStream
	recorder *TimedRecorder

	mu       sync.Mutex
	statuses []string
}

func TestTimedRecorderSuite(t *testing.T) {
	defer goleak.VerifyNone(t)
	suite.Run(t, new(TimedRecorderSuite))
}

func (s *TimedRecorderSuite) SetupTest() {
	s.clock = NewManualClock(time.Unix(1000, 0))
	s.stream = newSplitStream(32, 32)
	capturer, err := NewFrameCapturer(FaceQuality, s.clock)
	s.Require().NoError(err)
	s.recorder, err = NewTimedRecorder(capturer, s.clock, nil)
	s.Require().NoError(err)
	s.mu.Lock()
	s.statuses = nil
	s.mu.Unlock()
}

type recordResult struct {
	rec *Recording
	err error
}

func (s *TimedRecorderSuite) start(ctx context.Context, opts RecordOptions) <-chan recordResult {
	opts.OnStatus = func(status string) {
		s.mu.Lock()
		s.statuses = append(s.statuses, status)
		s.mu.Unlock()
	}
	out := make(chan recordResult, 1)
	go func() {
		rec, err := s.recorder.Record(ctx, s.stream, opts)
		out <- recordResult{rec: rec, err: err}
	}()
	return out
}

func (s *TimedRecorderSuite) waitPending(n int) {
	s.Require().Eventually(func() bool { return s.clock.Pending() == n }, time.Second, time.Millisecond)
}

func (s *TimedRecorderSuite) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.statuses...)
}

func (s *TimedRecorderSuite) result(ch <-chan recordResult) recordResult {
	select {
	case r := <-ch:
		return r
	case <-time.After(time.Second):
		s.FailNow("recording did not finish")
		return recordResult{}
	}
}

// =============================================================================
// Duration Bound
// =============================================================================

func (s *TimedRecorderSuite) TestStopsAtDurationDespiteJitter() {
	done := s.start(context.Background(), RecordOptions{
		Duration: 4000 * time.Millisecond,
		Timeline: DefaultLivenessTimeline(),
	})
	// two phase timers plus the stop timer
	s.waitPending(3)
	s.True(s.stream.rec.isStarted())

	s.stream.rec.emit([]byte("chunk-1"))
	s.clock.Advance(3999 * time.Millisecond)
	s.stream.rec.emit([]byte("chunk-2"))
	s.clock.Advance(1 * time.Millisecond)
	// delivered by a slow encoder after the stop was issued
	s.stream.rec.emit([]byte("late"))

	r := s.result(done)
	s.Require().NoError(r.err)
	s.LessOrEqual(r.rec.Duration, 4000*time.Millisecond)
	s.Equal(2, r.rec.Chunks)
	s.Equal([]byte("chunk-1chunk-2"), r.rec.Video.Data)
	s.Equal(KindLivenessVideo, r.rec.Video.Kind)
	s.Equal("video/webm", r.rec.Video.MIMEType)
	s.Require().NotNil(r.rec.Still)
	s.Equal(KindSelfie, r.rec.Still.Kind)
	s.Equal(1, s.stream.rec.stopCount(), "stop is issued exactly once")
	s.Zero(s.clock.Pending())
}

func (s *TimedRecorderSuite) TestPhaseLabelsFollowTimeline() {
	done := s.start(context.Background(), RecordOptions{
		Duration: 4000 * time.Millisecond,
		Timeline: DefaultLivenessTimeline(),
	})
	s.waitPending(3)
	s.Equal([]string{"Recording... please blink and move your head slightly"}, s.seen())

	s.stream.rec.emit([]byte("x"))
	s.clock.Advance(1500 * time.Millisecond)
	s.Equal("Blink detected", s.seen()[1])
	s.clock.Advance(1500 * time.Millisecond)
	s.Equal("Smile detected", s.seen()[2])
	s.clock.Advance(1000 * time.Millisecond)

	s.Require().NoError(s.result(done).err)
	s.Len(s.seen(), 3)
}

func (s *TimedRecorderSuite) TestPhasesBeyondDurationAreSkipped() {
	done := s.start(context.Background(), RecordOptions{
		Duration: 2 * time.Second,
		Timeline: DefaultLivenessTimeline(),
	})
	// only the 1500ms phase and the stop timer
	s.waitPending(2)
	s.stream.rec.emit([]byte("x"))
	s.clock.Advance(2 * time.Second)
	s.Require().NoError(s.result(done).err)
	s.NotContains(s.seen(), "Smile detected")
}

// =============================================================================
// Abnormal Stops
// =============================================================================

func (s *TimedRecorderSuite) TestZeroChunksYieldsNoArtifact() {
	done := s.start(context.Background(), RecordOptions{Duration: time.Second})
	s.waitPending(1)
	s.clock.Advance(time.Second)

	r := s.result(done)
	s.ErrorIs(r.err, ErrEmptyRecording)
	s.Nil(r.rec)
}

func (s *TimedRecorderSuite) TestCancelStopsRecorderAndTimers() {
	ctx, cancel := context.WithCancel(context.Background())
	done := s.start(ctx, RecordOptions{Duration: 4 * time.Second, Timeline: DefaultLivenessTimeline()})
	s.waitPending(3)
	s.stream.rec.emit([]byte("x"))
	cancel()

	r := s.result(done)
	s.ErrorIs(r.err, context.Canceled)
	s.Nil(r.rec)
	s.Equal(1, s.stream.rec.stopCount())
	s.Zero(s.clock.Pending(), "no timer may fire after teardown")
}

func (s *TimedRecorderSuite) TestStillFailureAfterStop() {
	done := s.start(context.Background(), RecordOptions{Duration: time.Second})
	s.waitPending(1)
	s.stream.rec.emit([]byte("x"))
	s.stream.setDimensions(0, 0)
	s.clock.Advance(time.Second)
	s.ErrorIs(s.result(done).err, ErrStreamNotReady)
}

// =============================================================================
// Countdown
// =============================================================================

func (s *TimedRecorderSuite) TestCountdownTicksBeforeRecording() {
	done := s.start(context.Background(), RecordOptions{Duration: time.Second, Countdown: 3 * time.Second})
	for i := 0; i < 3; i++ {
		s.waitPending(1)
		s.False(s.stream.rec.isStarted())
		s.clock.Advance(time.Second)
	}
	s.Equal([]string{"3", "2", "1"}, s.seen())

	s.waitPending(1)
	s.True(s.stream.rec.isStarted())
	s.stream.rec.emit([]byte("x"))
	s.clock.Advance(time.Second)
	s.Require().NoError(s.result(done).err)
}

func (s *TimedRecorderSuite) TestCountdownCancelledByTeardown() {
	ctx, cancel := context.WithCancel(context.Background())
	done := s.start(ctx, RecordOptions{Duration: time.Second, Countdown: 3 * time.Second})
	s.waitPending(1)
	cancel()
	s.ErrorIs(s.result(done).err, context.Canceled)
	s.False(s.stream.rec.isStarted())
	s.Zero(s.clock.Pending())
}

func (s *TimedRecorderSuite) TestNew() {
	s.Run("nil capturer returns error", func() {
		_, err := NewTimedRecorder(nil, nil, nil)
		s.Error(err)
		s.Contains(err.Error(), "frame capturer is required")
	})
}
