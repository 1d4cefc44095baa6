//go:build gst

// Package gstdevice opens V4L2 cameras through a GStreamer pipeline:
//
//	v4l2src → videoconvert → videoscale → capsfilter(RGBA) → appsink
//
// Build with -tags gst; requires the GStreamer development libraries.
package gstdevice

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"verifyflow/internal/media"
)

const (
	startTimeout   = 5 * time.Second
	recordInterval = 100 * time.Millisecond
	recordQuality  = 80
	fallbackWidth  = 640
	fallbackHeight = 480
)

// Device maps facings to V4L2 device paths. FacingAny uses Default.
type Device struct {
	Default string
	Facings map[media.Facing]string
	Logger  *slog.Logger
}

// New returns a device backed by path for every facing.
func New(path string, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Device{Default: path, Logger: logger}
}

func (d *Device) path(f media.Facing) (string, error) {
	if f == media.FacingAny {
		return d.Default, nil
	}
	if p, ok := d.Facings[f]; ok {
		return p, nil
	}
	if len(d.Facings) == 0 {
		return d.Default, nil
	}
	return "", &media.DeviceError{
		Reason: media.ReasonUnsupported,
		Err:    fmt.Errorf("no camera configured for facing %q", f),
	}
}

// Open implements media.Device.
func (d *Device) Open(ctx context.Context, c media.Constraints) (media.Stream, error) {
	path, err := d.path(c.Facing)
	if err != nil {
		return nil, err
	}
	if c.Audio {
		d.Logger.DebugContext(ctx, "gstdevice: audio requested, recording video only")
	}

	width, height := fallbackWidth, fallbackHeight
	if c.Ideal != nil {
		width, height = c.Ideal.Width, c.Ideal.Height
	}

	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}
	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, fmt.Errorf("create v4l2src: %w", err)
	}
	src.SetProperty("device", path)

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("create videoconvert: %w", err)
	}
	scale, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("create videoscale: %w", err)
	}
	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(
		fmt.Sprintf("video/x-raw,format=RGBA,width=%d,height=%d", width, height),
	))

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)

	pipeline.AddMany(src, convert, scale, capsfilter, sink.Element)
	if err := gst.ElementLinkMany(src, convert, scale, capsfilter, sink.Element); err != nil {
		return nil, fmt.Errorf("link pipeline: %w", err)
	}

	s := &Stream{
		id:       uuid.NewString(),
		pipeline: pipeline,
		width:    width,
		height:   height,
		logger:   d.Logger,
	}
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		s.Stop()
		return nil, fmt.Errorf("start pipeline: %w", err)
	}
	if err := waitPlaying(ctx, pipeline); err != nil {
		s.Stop()
		return nil, err
	}
	d.Logger.DebugContext(ctx, "gstdevice: pipeline playing", "device", path, "width", width, "height", height)
	return s, nil
}

// waitPlaying drains the bus until the pipeline reaches PLAYING or reports an
// error. Errors keep GStreamer's text so media.Classify can match keywords.
func waitPlaying(ctx context.Context, pipeline *gst.Pipeline) error {
	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(startTimeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			return fmt.Errorf("gstreamer: %s (%s)", gerr.Error(), gerr.DebugString())
		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				_, newState := msg.ParseStateChanged()
				if newState == gst.StatePlaying {
					return nil
				}
			}
		}
	}
	return errors.New("gstreamer: timed out waiting for camera to start")
}

// Stream is a running GStreamer camera pipeline.
type Stream struct {
	id       string
	pipeline *gst.Pipeline
	width    int
	height   int
	logger   *slog.Logger

	mu       sync.Mutex
	latest   []byte
	stopOnce sync.Once
	stopped  bool
}

func (s *Stream) onSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}
	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	// GStreamer reuses the buffer.
	frame := make([]byte, len(data))
	copy(frame, data)
	buffer.Unmap()

	s.mu.Lock()
	s.latest = frame
	s.mu.Unlock()
	return gst.FlowOK
}

// ID implements media.Stream.
func (s *Stream) ID() string { return s.id }

// Dimensions reports zero until the first sample has arrived.
func (s *Stream) Dimensions() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.latest == nil {
		return 0, 0
	}
	return s.width, s.height
}

// Frame implements media.Stream.
func (s *Stream) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || len(s.latest) < s.width*s.height*4 {
		return nil, media.ErrStreamNotReady
	}
	pix := make([]byte, s.width*s.height*4)
	copy(pix, s.latest)
	return &image.RGBA{
		Pix:    pix,
		Stride: s.width * 4,
		Rect:   image.Rect(0, 0, s.width, s.height),
	}, nil
}

// NewRecorder implements media.Stream.
func (s *Stream) NewRecorder() (media.Recorder, error) {
	return media.NewFrameRecorder(s.Frame, recordInterval, recordQuality), nil
}

// Stop tears the pipeline down.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.latest = nil
		s.mu.Unlock()
		if err := s.pipeline.SetState(gst.StateNull); err != nil {
			s.logger.Warn("gstdevice: failed to stop pipeline", "error", err)
		}
	})
}
