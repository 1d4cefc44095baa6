package capture

import (
	"errors"
	"image"
	"image/color"
	"sync"

	"verifyflow/internal/media"
)

// splitStream renders a frame whose left half is red and right half blue.
type splitStream struct {
	mu      sync.Mutex
	w, h    int
	rec     *scriptedRecorder
	frameFn func() (image.Image, error)
}

func newSplitStream(w, h int) *splitStream {
	return &splitStream{w: w, h: h, rec: &scriptedRecorder{mime: "video/webm"}}
}

func (s *splitStream) ID() string { return "split" }

func (s *splitStream) Dimensions() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w, s.h
}

func (s *splitStream) setDimensions(w, h int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w, s.h = w, h
}

func (s *splitStream) Frame() (image.Image, error) {
	if s.frameFn != nil {
		return s.frameFn()
	}
	w, h := s.Dimensions()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				img.SetRGBA(x, y, color.RGBA{R: 255, A: 255})
			} else {
				img.SetRGBA(x, y, color.RGBA{B: 255, A: 255})
			}
		}
	}
	return img, nil
}

func (s *splitStream) NewRecorder() (media.Recorder, error) {
	if s.rec == nil {
		return nil, errors.New("no recorder")
	}
	return s.rec, nil
}

func (s *splitStream) Stop() {}

// scriptedRecorder lets a test push chunks at chosen moments.
type scriptedRecorder struct {
	mu      sync.Mutex
	mime    string
	onChunk func([]byte)
	started bool
	stops   int
}

func (r *scriptedRecorder) Start(onChunk func([]byte)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChunk = onChunk
	r.started = true
	return nil
}

func (r *scriptedRecorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return nil
}

func (r *scriptedRecorder) MIMEType() string { return r.mime }

// emit delivers a chunk the way a late encoder callback would, even after Stop.
func (r *scriptedRecorder) emit(chunk []byte) {
	r.mu.Lock()
	fn := r.onChunk
	r.mu.Unlock()
	if fn != nil {
		fn(chunk)
	}
}

func (r *scriptedRecorder) isStarted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

func (r *scriptedRecorder) stopCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops
}
