// Package media models camera access for the capture flow: a Device opens
// Streams under Constraints, and the Negotiator walks constraint tiers from
// most to least specific until one succeeds.
package media

import (
	"context"
	"image"
)

// Facing is the preferred camera direction.
type Facing string

const (
	FacingAny         Facing = ""
	FacingUser        Facing = "user"
	FacingEnvironment Facing = "environment"
)

// Quality is a resolution hint for the first constraint tier.
type Quality int

const (
	QualityStandard Quality = iota
	QualityHigh
)

// Resolution is a frame size in pixels.
type Resolution struct {
	Width  int
	Height int
}

// Ideal returns the resolution requested by the first tier for q.
func (q Quality) Ideal() Resolution {
	if q == QualityHigh {
		return Resolution{Width: 1920, Height: 1080}
	}
	return Resolution{Width: 1280, Height: 720}
}

// Constraints describe one device request. Zero values mean "no preference".
type Constraints struct {
	Facing Facing
	Ideal  *Resolution
	Audio  bool
}

// Device opens camera streams. Implementations return *DeviceError when they
// can say why a request failed.
type Device interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is a live camera stream.
type Stream interface {
	ID() string
	// Dimensions reports the native frame size; zero until the first frame
	// has been delivered.
	Dimensions() (width, height int)
	// Frame returns the most recent frame.
	Frame() (image.Image, error)
	// NewRecorder returns a recorder bound to this stream.
	NewRecorder() (Recorder, error)
	// Stop releases the underlying device. Calling it more than once is safe.
	Stop()
}

// Recorder produces encoded video chunks from a stream.
type Recorder interface {
	// Start begins recording; onChunk receives each encoded chunk in order and
	// must not block for long.
	Start(onChunk func(chunk []byte)) error
	// Stop ends recording. No chunk is delivered after Stop returns.
	Stop() error
	// MIMEType describes the concatenated chunk format.
	MIMEType() string
}
