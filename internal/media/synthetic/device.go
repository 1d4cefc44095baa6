// Package synthetic is a camera that renders generated frames. It backs the
// terminal client on machines without a camera and drives the capture tests.
package synthetic

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"verifyflow/internal/media"
)

// Device opens synthetic streams.
type Device struct {
	resolution media.Resolution
	facings    map[media.Facing]bool
	warmup     time.Duration
	fps        int
	failure    *media.DeviceError
	now        func() time.Time

	opened atomic.Int64
}

// Option configures a Device.
type Option func(*Device)

// WithResolution sets the native resolution used when no ideal is requested.
func WithResolution(w, h int) Option {
	return func(d *Device) { d.resolution = media.Resolution{Width: w, Height: h} }
}

// WithFacings restricts the facings the device can satisfy. A request for any
// other facing fails as unsupported.
func WithFacings(facings ...media.Facing) Option {
	return func(d *Device) {
		d.facings = make(map[media.Facing]bool, len(facings))
		for _, f := range facings {
			d.facings[f] = true
		}
	}
}

// WithWarmup delays the first frame; Dimensions reports zero until then.
func WithWarmup(w time.Duration) Option {
	return func(d *Device) { d.warmup = w }
}

// WithFPS sets the recorder sampling rate.
func WithFPS(fps int) Option {
	return func(d *Device) { d.fps = fps }
}

// WithFailure makes every Open fail with reason.
func WithFailure(reason media.Reason) Option {
	return func(d *Device) {
		d.failure = &media.DeviceError{Reason: reason, Err: errors.New("synthetic camera failure")}
	}
}

// WithClock replaces time.Now for warm-up checks.
func WithClock(now func() time.Time) Option {
	return func(d *Device) { d.now = now }
}

// New creates a synthetic device.
func New(opts ...Option) *Device {
	d := &Device{
		resolution: media.Resolution{Width: 1280, Height: 720},
		fps:        10,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Opened reports how many streams have been opened.
func (d *Device) Opened() int {
	return int(d.opened.Load())
}

// Open implements media.Device.
func (d *Device) Open(ctx context.Context, c media.Constraints) (media.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.failure != nil {
		return nil, d.failure
	}
	if c.Facing != media.FacingAny && d.facings != nil && !d.facings[c.Facing] {
		return nil, &media.DeviceError{
			Reason: media.ReasonUnsupported,
			Err:    fmt.Errorf("facing %q not available", c.Facing),
		}
	}
	res := d.resolution
	if c.Ideal != nil {
		res = *c.Ideal
	}
	d.opened.Add(1)
	return &Stream{
		id:      uuid.NewString(),
		res:     res,
		readyAt: d.now().Add(d.warmup),
		now:     d.now,
		fps:     d.fps,
	}, nil
}

// Stream is a synthetic media.Stream.
type Stream struct {
	id      string
	res     media.Resolution
	readyAt time.Time
	now     func() time.Time
	fps     int

	mu      sync.Mutex
	stopped bool
	frameN  int
}

// ID implements media.Stream.
func (s *Stream) ID() string { return s.id }

// Dimensions implements media.Stream.
func (s *Stream) Dimensions() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.now().Before(s.readyAt) {
		return 0, 0
	}
	return s.res.Width, s.res.Height
}

// Frame renders a diagonal gradient with a bar that moves every frame.
func (s *Stream) Frame() (image.Image, error) {
	w, h := s.Dimensions()
	if w == 0 || h == 0 {
		return nil, media.ErrStreamNotReady
	}
	s.mu.Lock()
	n := s.frameN
	s.frameN++
	s.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	bar := (n * 16) % w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 96, A: 255}
			if x >= bar && x < bar+8 {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img, nil
}

// NewRecorder implements media.Stream.
func (s *Stream) NewRecorder() (media.Recorder, error) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return nil, errors.New("stream stopped")
	}
	fps := s.fps
	if fps <= 0 {
		fps = 10
	}
	return media.NewFrameRecorder(s.Frame, time.Second/time.Duration(fps), 70), nil
}

// Stop implements media.Stream.
func (s *Stream) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

// Stopped reports whether Stop has been called.
func (s *Stream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
