package media

import (
	"context"
	"time"
)

const readyPollInterval = 20 * time.Millisecond

// WaitReady blocks until stream reports non-zero dimensions, timeout elapses,
// or ctx is done. It returns ErrStreamNotReady on timeout.
func WaitReady(ctx context.Context, stream Stream, timeout time.Duration) error {
	if ready(stream) {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if ready(stream) {
				return nil
			}
			if ctx.Err() == context.DeadlineExceeded {
				return ErrStreamNotReady
			}
			return ctx.Err()
		case <-ticker.C:
			if ready(stream) {
				return nil
			}
		}
	}
}

func ready(stream Stream) bool {
	w, h := stream.Dimensions()
	return w > 0 && h > 0
}
