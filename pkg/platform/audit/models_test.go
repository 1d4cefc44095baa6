package audit

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verifyflow/pkg/domain"
)

func TestCategory(t *testing.T) {
	assert.Equal(t, CategoryCompliance, EventConfirmed.Category())
	assert.Equal(t, CategorySecurity, EventLinkRejected.Category())
	assert.Equal(t, CategoryOperations, EventStageEntered.Category())
	assert.Equal(t, CategoryOperations, AuditEvent("something_new").Category())
}

func TestPayload(t *testing.T) {
	t.Run("events without a session keep a nil session id", func(t *testing.T) {
		in := Event{
			ID:        uuid.New(),
			Category:  CategorySecurity,
			Timestamp: time.Date(2025, 5, 1, 8, 30, 0, 0, time.UTC),
			Action:    string(EventLinkRejected),
			Reason:    "expired",
		}
		data, err := Marshal(in)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "session_id")

		out, err := Unmarshal(data)
		require.NoError(t, err)
		assert.Equal(t, in, out)
		assert.True(t, out.SessionID.IsNil())
	})

	t.Run("session ids survive", func(t *testing.T) {
		sid := domain.NewSessionID()
		data, err := Marshal(Event{ID: uuid.New(), Timestamp: time.Now(), SessionID: sid, Action: "x"})
		require.NoError(t, err)
		out, err := Unmarshal(data)
		require.NoError(t, err)
		assert.Equal(t, sid, out.SessionID)
	})

	t.Run("rejects bad ids", func(t *testing.T) {
		_, err := Unmarshal([]byte(`{"id":"nope","timestamp":"2025-01-01T00:00:00Z","action":"x"}`))
		assert.Error(t, err)
		_, err = Unmarshal([]byte(`{"id":"` + uuid.NewString() + `","timestamp":"yesterday","action":"x"}`))
		assert.Error(t, err)
	})
}
