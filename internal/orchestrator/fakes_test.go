package orchestrator_test

import (
	"context"
	"image"
	"image/color"
	"sync"

	"github.com/google/uuid"

	"verifyflow/internal/capture"
	"verifyflow/internal/conversation"
	"verifyflow/internal/media"
	"verifyflow/internal/submission"
	"verifyflow/pkg/domain"
)

// fakeDevice opens fakeStreams, or fails every tier with err.
type fakeDevice struct {
	mu      sync.Mutex
	err     error
	streams []*fakeStream
}

func (d *fakeDevice) Open(ctx context.Context, _ media.Constraints) (media.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	s := &fakeStream{id: uuid.NewString()}
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevice) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDevice) allStopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.streams {
		if !s.isStopped() {
			return false
		}
	}
	return true
}

// fakeStream is always ready and renders a flat grey frame.
type fakeStream struct {
	id      string
	mu      sync.Mutex
	stopped bool
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Dimensions() (int, int) { return 64, 48 }

func (s *fakeStream) Frame() (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	img.SetRGBA(0, 0, color.RGBA{R: 255, A: 255})
	return img, nil
}

func (s *fakeStream) NewRecorder() (media.Recorder, error) {
	return &instantRecorder{}, nil
}

func (s *fakeStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *fakeStream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// instantRecorder delivers one chunk as soon as it starts.
type instantRecorder struct{}

func (instantRecorder) Start(onChunk func([]byte)) error {
	onChunk([]byte("webm-chunk"))
	return nil
}

func (instantRecorder) Stop() error { return nil }

func (instantRecorder) MIMEType() string { return "video/webm" }

type uploadCall struct {
	endpoint  submission.Endpoint
	sessionID domain.SessionID
	kinds     []capture.Kind
}

// recordingUploader records uploads. When block is set it waits for the
// upload context to end.
type recordingUploader struct {
	mu        sync.Mutex
	calls     []uploadCall
	fail      error
	block     bool
	cancelled int
}

func (u *recordingUploader) Upload(ctx context.Context, endpoint submission.Endpoint, sessionID domain.SessionID, artifacts []*capture.Artifact) error {
	call := uploadCall{endpoint: endpoint, sessionID: sessionID}
	for _, a := range artifacts {
		call.kinds = append(call.kinds, a.Kind)
	}
	u.mu.Lock()
	u.calls = append(u.calls, call)
	block, fail := u.block, u.fail
	u.mu.Unlock()

	if block {
		<-ctx.Done()
		u.mu.Lock()
		u.cancelled++
		u.mu.Unlock()
		return ctx.Err()
	}
	return fail
}

func (u *recordingUploader) snapshot() []uploadCall {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]uploadCall(nil), u.calls...)
}

func (u *recordingUploader) cancelledCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cancelled
}

// readyBackend answers every turn with the capture readiness signal.
type readyBackend struct{}

func (readyBackend) Chat(_ context.Context, _ domain.SessionID, turn conversation.Turn) (*conversation.Reply, error) {
	return &conversation.Reply{
		Text:   "Thanks " + turn.Message + ", let's verify your identity.",
		Action: conversation.ActionShowVerificationButton,
	}, nil
}

// scriptedFetcher fails the first failures calls and then returns values.
type scriptedFetcher struct {
	mu       sync.Mutex
	failures int
	calls    int
	values   map[string]string
}

func (f *scriptedFetcher) CollectedData(_ context.Context, _ domain.SessionID) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, context.DeadlineExceeded
	}
	return f.values, nil
}
