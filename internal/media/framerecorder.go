package media

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"sync"
	"time"
)

// MIMEMotionJPEG is the format produced by FrameRecorder: a concatenation of
// JPEG frames.
const MIMEMotionJPEG = "video/x-motion-jpeg"

// FrameRecorder records a stream by sampling frames at a fixed interval and
// emitting each one as a JPEG chunk. Devices without a native encoder use it.
type FrameRecorder struct {
	frame    func() (image.Image, error)
	interval time.Duration
	quality  int

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	started bool
}

// NewFrameRecorder returns a recorder sampling frame every interval.
func NewFrameRecorder(frame func() (image.Image, error), interval time.Duration, quality int) *FrameRecorder {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	return &FrameRecorder{frame: frame, interval: interval, quality: quality}
}

// Start launches the sampling loop.
func (r *FrameRecorder) Start(onChunk func([]byte)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New("recorder already started")
	}
	r.started = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.loop(onChunk, r.stop, r.done)
	return nil
}

func (r *FrameRecorder) loop(onChunk func([]byte), stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	emit := func() {
		img, err := r.frame()
		if err != nil {
			return
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: r.quality}); err != nil {
			return
		}
		onChunk(buf.Bytes())
	}
	emit()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			select {
			case <-stop:
				return
			default:
			}
			emit()
		}
	}
}

// Stop ends the loop and waits for it to exit.
func (r *FrameRecorder) Stop() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return errors.New("recorder not started")
	}
	stop, done := r.stop, r.done
	r.started = false
	r.mu.Unlock()

	close(stop)
	<-done
	return nil
}

// MIMEType implements Recorder.
func (r *FrameRecorder) MIMEType() string {
	return MIMEMotionJPEG
}
