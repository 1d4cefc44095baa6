// Package capture turns a live media stream into artifacts: JPEG stills and
// bounded video clips. It also tracks the per-kind capture slots the
// orchestrator sequences.
package capture

import (
	"time"

	"verifyflow/internal/media"
)

// ErrStreamNotReady is returned when a capture is attempted before the stream
// has delivered its first frame. No artifact is produced.
var ErrStreamNotReady = media.ErrStreamNotReady

// Kind identifies an artifact slot.
type Kind string

const (
	KindDocumentFront Kind = "document_front"
	KindDocumentBack  Kind = "document_back"
	KindSelfie        Kind = "selfie_image"
	KindLivenessVideo Kind = "liveness_video"
	KindFingerprint   Kind = "fingerprint_image"
)

// Kinds lists every slot in flow order.
var Kinds = []Kind{KindDocumentFront, KindDocumentBack, KindSelfie, KindLivenessVideo, KindFingerprint}

// FieldName is the multipart form field the backend expects for k.
func (k Kind) FieldName() string {
	switch k {
	case KindDocumentFront:
		return "front_image"
	case KindDocumentBack:
		return "back_image"
	default:
		return string(k)
	}
}

// Source records how an artifact was produced.
type Source string

const (
	SourceCamera Source = "camera"
	SourceUpload Source = "upload"
)

// Artifact is a captured image or video blob.
type Artifact struct {
	Kind       Kind
	Data       []byte
	MIMEType   string
	Width      int
	Height     int
	Source     Source
	CapturedAt time.Time
}

// FileName returns a stable upload file name for the artifact.
func (a *Artifact) FileName() string {
	switch a.MIMEType {
	case "image/jpeg":
		return a.Kind.FieldName() + ".jpg"
	case "image/png":
		return a.Kind.FieldName() + ".png"
	case media.MIMEMotionJPEG:
		return a.Kind.FieldName() + ".mjpeg"
	case "video/webm":
		return a.Kind.FieldName() + ".webm"
	default:
		return a.Kind.FieldName() + ".bin"
	}
}
