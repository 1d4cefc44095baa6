package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	"verifyflow/internal/media"
)

// Default JPEG qualities.
const (
	FaceQuality     = 90
	DocumentQuality = 95
)

// FrameCapturer grabs one still from a stream.
type FrameCapturer struct {
	clock   Clock
	quality int
}

// NewFrameCapturer returns a capturer encoding at quality (1-100).
func NewFrameCapturer(quality int, clock Clock) (*FrameCapturer, error) {
	if quality < 1 || quality > 100 {
		return nil, fmt.Errorf("jpeg quality %d out of range", quality)
	}
	if clock == nil {
		clock = RealClock()
	}
	return &FrameCapturer{clock: clock, quality: quality}, nil
}

// Capture renders the current frame at the stream's native size, mirrored
// horizontally when mirror is set, and encodes it as JPEG. The returned
// artifact has no Kind; callers assign it. While the stream reports zero
// dimensions it returns ErrStreamNotReady and nothing else happens.
func (c *FrameCapturer) Capture(stream media.Stream, mirror bool) (*Artifact, error) {
	w, h := stream.Dimensions()
	if w <= 0 || h <= 0 {
		return nil, ErrStreamNotReady
	}
	frame, err := stream.Frame()
	if err != nil {
		if errors.Is(err, media.ErrStreamNotReady) {
			return nil, ErrStreamNotReady
		}
		return nil, fmt.Errorf("read frame: %w", err)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Bounds(), frame, frame.Bounds().Min, draw.Src)
	if mirror {
		mirrorHorizontal(canvas)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: c.quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return &Artifact{
		Data:       buf.Bytes(),
		MIMEType:   "image/jpeg",
		Width:      w,
		Height:     h,
		Source:     SourceCamera,
		CapturedAt: c.clock.Now(),
	}, nil
}

func mirrorHorizontal(img *image.RGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[(y-b.Min.Y)*img.Stride : (y-b.Min.Y)*img.Stride+b.Dx()*4]
		for l, r := 0, len(row)-4; l < r; l, r = l+4, r-4 {
			for i := 0; i < 4; i++ {
				row[l+i], row[r+i] = row[r+i], row[l+i]
			}
		}
	}
}
