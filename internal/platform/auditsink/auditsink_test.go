package auditsink

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verifyflow/internal/platform/config"
	"verifyflow/pkg/domain"
	audit "verifyflow/pkg/platform/audit"
	"verifyflow/pkg/platform/audit/publisher"
)

func TestOpenMemoryListsWhatWasEmitted(t *testing.T) {
	ctx := context.Background()
	sink, err := Open(ctx, config.AuditConfig{Sink: config.AuditSinkMemory, BufferSize: 8}, "test", prometheus.NewRegistry(), nil)
	require.NoError(t, err)

	sid := domain.NewSessionID()
	require.NoError(t, sink.Emit(ctx, audit.Event{SessionID: sid, Action: string(audit.EventConfirmed)}))
	require.NoError(t, sink.Run(ctx))
	sink.Close()

	events, err := sink.List(ctx, sid)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
}

func TestOpenNoneCannotList(t *testing.T) {
	ctx := context.Background()
	sink, err := Open(ctx, config.AuditConfig{Sink: config.AuditSinkNone}, "test", prometheus.NewRegistry(), nil)
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Emit(ctx, audit.Event{Action: string(audit.EventChatTurn)}))
	_, err = sink.List(ctx, domain.NewSessionID())
	assert.ErrorIs(t, err, publisher.ErrListUnsupported)
}

func TestOpenUnknownSink(t *testing.T) {
	_, err := Open(context.Background(), config.AuditConfig{Sink: "s3"}, "test", prometheus.NewRegistry(), nil)
	assert.Error(t, err)
}

func TestOpenSamplesOperationsEvents(t *testing.T) {
	ctx := context.Background()
	sink, err := Open(ctx, config.AuditConfig{Sink: config.AuditSinkMemory, SampleRate: 1e-12}, "test", prometheus.NewRegistry(), nil)
	require.NoError(t, err)
	defer sink.Close()

	sid := domain.NewSessionID()
	require.NoError(t, sink.Emit(ctx, audit.Event{SessionID: sid, Action: string(audit.EventChatTurn)}))
	require.NoError(t, sink.Emit(ctx, audit.Event{SessionID: sid, Action: string(audit.EventConfirmed)}))

	events, err := sink.List(ctx, sid)
	require.NoError(t, err)
	require.Len(t, events, 1, "compliance events are never sampled")
	assert.Equal(t, string(audit.EventConfirmed), events[0].Action)
}
