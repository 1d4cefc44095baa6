package circuit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// outcome is one recorded upload result: true for delivered.
type outcome bool

const (
	ok   outcome = true
	fail outcome = false
)

func record(b *Breaker, seq ...outcome) (opened, closed int) {
	for _, o := range seq {
		var change StateChange
		if o {
			_, change = b.RecordSuccess()
		} else {
			_, change = b.RecordFailure()
		}
		if change.Opened {
			opened++
		}
		if change.Closed {
			closed++
		}
	}
	return opened, closed
}

func TestBreakerDefaults(t *testing.T) {
	b := New("backend-uploads")
	assert.Equal(t, "backend-uploads", b.Name())
	assert.Equal(t, StateClosed, b.State())

	opened, _ := record(b, fail, fail, fail, fail)
	assert.Zero(t, opened)
	opened, _ = record(b, fail)
	assert.Equal(t, 1, opened, "opens on the fifth consecutive failure")
}

// The upload client opens after three consecutive failures and a single
// delivered upload brings it back.
func TestBreakerUploadThresholds(t *testing.T) {
	tests := []struct {
		name       string
		seq        []outcome
		wantOpen   bool
		wantOpened int
		wantClosed int
	}{
		{"two failures stay online", []outcome{fail, fail}, false, 0, 0},
		{"three failures go offline", []outcome{fail, fail, fail}, true, 1, 0},
		{"success in between resets the count", []outcome{fail, fail, ok, fail, fail}, false, 0, 0},
		{"one delivery recovers", []outcome{fail, fail, fail, ok}, false, 1, 1},
		{"more failures while offline do not reopen", []outcome{fail, fail, fail, fail, fail}, true, 1, 0},
		{"flapping backend", []outcome{fail, fail, fail, ok, fail, fail, fail}, true, 2, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("backend-uploads", WithFailureThreshold(3), WithSuccessThreshold(1))
			opened, closed := record(b, tt.seq...)
			assert.Equal(t, tt.wantOpen, b.IsOpen())
			assert.Equal(t, tt.wantOpened, opened)
			assert.Equal(t, tt.wantClosed, closed)
		})
	}
}

func TestBreakerDegradedFlags(t *testing.T) {
	b := New("backend", WithFailureThreshold(1), WithSuccessThreshold(2))

	useFallback, change := b.RecordFailure()
	require.True(t, useFallback)
	require.True(t, change.Opened)

	useFallback, change = b.RecordFailure()
	assert.True(t, useFallback)
	assert.False(t, change.Opened)

	usePrimary, change := b.RecordSuccess()
	assert.False(t, usePrimary, "one success is not enough to close")
	assert.False(t, change.Closed)

	_, _ = b.RecordFailure()
	usePrimary, _ = b.RecordSuccess()
	assert.False(t, usePrimary, "a failure restarts the success count")
	usePrimary, change = b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.True(t, change.Closed)
}

func TestBreakerIgnoresNonPositiveThresholds(t *testing.T) {
	b := New("backend", WithFailureThreshold(0), WithSuccessThreshold(-1))
	opened, _ := record(b, fail, fail, fail, fail, fail)
	assert.Equal(t, 1, opened)
	_, closed := record(b, ok, ok)
	assert.Equal(t, 1, closed)
}

func TestBreakerReset(t *testing.T) {
	b := New("backend", WithFailureThreshold(2))
	record(b, fail, fail)
	require.True(t, b.IsOpen())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	opened, _ := record(b, fail)
	assert.Zero(t, opened, "reset clears the failure count too")
}

func TestBreakerConcurrentUploads(t *testing.T) {
	b := New("backend-uploads", WithFailureThreshold(3), WithSuccessThreshold(1))
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.RecordFailure()
		}()
	}
	wg.Wait()
	assert.True(t, b.IsOpen())

	_, change := b.RecordSuccess()
	assert.True(t, change.Closed)
}
