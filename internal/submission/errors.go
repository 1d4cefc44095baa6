package submission

import "fmt"

// Error is a failed upload. It never stops the flow; it only explains to the
// user what may be missing at confirmation.
type Error struct {
	Endpoint Endpoint
	Err      error
	// Offline is set when the backend breaker was open at failure time.
	Offline bool
}

func (e *Error) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("submission rejected: %v", e.Err)
	}
	return fmt.Sprintf("upload to %s failed: %v", e.Endpoint, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// UserMessage is the generic, non-blocking notice for this failure.
func (e *Error) UserMessage() string {
	what := labels[e.Endpoint]
	if what == "" {
		what = "capture"
	}
	if e.Offline {
		return fmt.Sprintf("You seem to be offline. Your %s was kept on this device; you can carry on.", what)
	}
	return fmt.Sprintf("We couldn't upload your %s. You can carry on; we'll check everything before you confirm.", what)
}

var labels = map[Endpoint]string{
	EndpointDocuments:   "documents",
	EndpointFace:        "face capture",
	EndpointFingerprint: "fingerprint",
}
