package media

import (
	"errors"
	"fmt"
	"strings"

	dErrors "verifyflow/pkg/domain-errors"
)

// ErrStreamNotReady is returned when a stream has not delivered a frame yet.
var ErrStreamNotReady = errors.New("media: stream not ready")

// Reason classifies why camera access failed.
type Reason int

const (
	ReasonUnknown Reason = iota
	ReasonPermissionDenied
	ReasonDeviceNotFound
	ReasonDeviceBusy
	ReasonUnsupported
)

func (r Reason) String() string {
	switch r {
	case ReasonPermissionDenied:
		return "permission_denied"
	case ReasonDeviceNotFound:
		return "device_not_found"
	case ReasonDeviceBusy:
		return "device_busy"
	case ReasonUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// DeviceError is returned by Device implementations that know the failure reason.
type DeviceError struct {
	Reason Reason
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return "device error: " + e.Reason.String()
	}
	return fmt.Sprintf("device error (%s): %v", e.Reason, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// AcquisitionError is returned once every constraint tier has failed.
type AcquisitionError struct {
	Reason Reason
	// Attempts holds the per-tier errors in tier order.
	Attempts []error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("camera acquisition failed after %d attempts: %s", len(e.Attempts), e.Reason)
}

// Unwrap exposes the last tier error plus an unavailable domain error so
// callers can use errors.Is and dErrors.HasCode.
func (e *AcquisitionError) Unwrap() []error {
	out := []error{dErrors.New(dErrors.CodeUnavailable, "camera unavailable")}
	if n := len(e.Attempts); n > 0 {
		out = append(out, e.Attempts[n-1])
	}
	return out
}

// UserMessage is the remedial message shown when upload is not offered.
func (e *AcquisitionError) UserMessage() string {
	return e.Remedy(false)
}

// Remedy returns the remedial message, suggesting upload when the stage
// accepts a file instead of a live capture.
func (e *AcquisitionError) Remedy(uploadAvailable bool) string {
	msg := remedialMessages[e.Reason]
	if uploadAvailable {
		msg += " Use upload instead."
	}
	return msg
}

var remedialMessages = map[Reason]string{
	ReasonUnknown:          "Could not access the camera.",
	ReasonPermissionDenied: "Please allow camera permissions.",
	ReasonDeviceNotFound:   "No camera found.",
	ReasonDeviceBusy:       "Camera is in use by another app.",
	ReasonUnsupported:      "This camera does not support the requested mode.",
}

// Classify maps a device failure to a Reason. Typed DeviceErrors win; other
// errors are matched on message keywords, as GStreamer and V4L2 report most
// failures only as text.
func Classify(err error) Reason {
	if err == nil {
		return ReasonUnknown
	}
	var de *DeviceError
	if errors.As(err, &de) {
		return de.Reason
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, permissionKeywords):
		return ReasonPermissionDenied
	case containsAny(msg, busyKeywords):
		return ReasonDeviceBusy
	case containsAny(msg, notFoundKeywords):
		return ReasonDeviceNotFound
	case containsAny(msg, unsupportedKeywords):
		return ReasonUnsupported
	default:
		return ReasonUnknown
	}
}

var (
	permissionKeywords  = []string{"permission", "denied", "not allowed", "notallowed", "eacces"}
	busyKeywords        = []string{"busy", "in use", "notreadable", "ebusy", "could not read"}
	notFoundKeywords    = []string{"not found", "no such", "no device", "notfound", "enoent", "enodev"}
	unsupportedKeywords = []string{"not supported", "unsupported", "overconstrained", "not-negotiated", "not negotiated", "einval"}
)

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
