package orchestrator

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition(t *testing.T) {
	cases := []struct {
		from State
		on   Event
		to   State
		ok   bool
	}{
		{StateIdle, EventBackendReady, StateReadyForDocs, true},
		{StateReadyForDocs, EventStartVerification, StateDocuments, true},
		{StateDocuments, EventDocumentsSubmitted, StateFace, true},
		{StateFace, EventFaceSubmitted, StateFingerprint, true},
		{StateFingerprint, EventFingerprintSubmitted, StateAwaitingConfirmation, true},
		{StateAwaitingConfirmation, EventConfirm, StateComplete, true},
		{StateAwaitingConfirmation, EventEdit, StateDocuments, true},
		{StateIdle, EventStartVerification, StateIdle, false},
		{StateDocuments, EventFaceSubmitted, StateDocuments, false},
		{StateFace, EventConfirm, StateFace, false},
		{StateComplete, EventEdit, StateComplete, false},
		{StateReadyForDocs, EventBackendReady, StateReadyForDocs, false},
	}
	for _, tc := range cases {
		t.Run(tc.from.String()+"/"+tc.on.String(), func(t *testing.T) {
			got, ok := Transition(tc.from, tc.on)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.to, got)
		})
	}

	t.Run("reset returns to idle from every state", func(t *testing.T) {
		for _, s := range States {
			got, ok := Transition(s, EventReset)
			assert.True(t, ok, s.String())
			assert.Equal(t, StateIdle, got)
		}
	})

	t.Run("complete is only reachable through confirm", func(t *testing.T) {
		for _, s := range States {
			for _, e := range Events {
				got, ok := Transition(s, e)
				if ok && got == StateComplete && s != StateComplete {
					assert.Equal(t, EventConfirm, e)
					assert.Equal(t, StateAwaitingConfirmation, s)
				}
			}
		}
	})
}

func TestOverlay(t *testing.T) {
	want := map[State]Overlay{
		StateIdle:                 OverlayNone,
		StateReadyForDocs:         OverlayStartPrompt,
		StateDocuments:            OverlayDocuments,
		StateFace:                 OverlayFace,
		StateFingerprint:          OverlayFingerprint,
		StateAwaitingConfirmation: OverlayConfirmation,
		StateComplete:             OverlayNone,
	}
	for _, s := range States {
		assert.Equal(t, want[s], s.Overlay(), s.String())
	}
}

// Random event sequences never leave the state set and always show at most
// the one overlay derived from the current state.
func TestTransitionRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 42))
	known := make(map[State]bool, len(States))
	for _, s := range States {
		known[s] = true
	}

	for run := 0; run < 200; run++ {
		s := StateIdle
		for step := 0; step < 50; step++ {
			e := Events[rng.IntN(len(Events))]
			next, ok := Transition(s, e)
			require.True(t, known[next], "unknown state after %s", e)
			if !ok {
				require.Equal(t, s, next, "rejected event %s moved the state", e)
			}
			if e == EventReset {
				require.Equal(t, StateIdle, next)
			}
			s = next

			shown := 0
			for _, o := range []Overlay{OverlayStartPrompt, OverlayDocuments, OverlayFace, OverlayFingerprint, OverlayConfirmation} {
				if s.Overlay() == o {
					shown++
				}
			}
			require.LessOrEqual(t, shown, 1)
		}
	}
}
