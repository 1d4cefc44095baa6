//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"

	"verifyflow/pkg/domain"
	audit "verifyflow/pkg/platform/audit"
	"verifyflow/pkg/platform/audit/store/postgres"
	"verifyflow/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	db       *sql.DB
	store    *postgres.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	db, err := sql.Open("postgres", s.postgres.DSN)
	s.Require().NoError(err)
	s.db = db
	s.store = postgres.New(db)
	s.Require().NoError(s.store.Migrate(context.Background()))
}

func (s *PostgresStoreSuite) TearDownSuite() {
	_ = s.db.Close()
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "audit_events"))
}

func (s *PostgresStoreSuite) TestAppendAndList() {
	ctx := context.Background()
	sessionID := domain.NewSessionID()
	base := time.Now().UTC().Truncate(time.Microsecond)

	first := audit.Event{
		Timestamp: base,
		SessionID: sessionID,
		Action:    string(audit.EventArtifactCaptured),
		Stage:     "documents",
		Kinds:     []string{"document_front"},
		Outcome:   "ok",
	}
	second := audit.Event{
		Timestamp: base.Add(time.Second),
		SessionID: sessionID,
		Action:    string(audit.EventConfirmed),
	}
	s.Require().NoError(s.store.Append(ctx, first))
	s.Require().NoError(s.store.Append(ctx, second))
	s.Require().NoError(s.store.Append(ctx, audit.Event{Timestamp: base, SessionID: domain.NewSessionID(), Action: "other"}))

	events, err := s.store.ListBySession(ctx, sessionID)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal([]string{"document_front"}, events[0].Kinds)
	s.Equal(audit.CategoryOperations, events[0].Category)
	s.Equal(audit.CategoryCompliance, events[1].Category)
	s.True(base.Equal(events[0].Timestamp))

	recent, err := s.store.ListRecent(ctx, 2)
	s.Require().NoError(err)
	s.Len(recent, 2)
}

func (s *PostgresStoreSuite) TestAppendIsIdempotent() {
	ctx := context.Background()
	sessionID := domain.NewSessionID()
	e := audit.Event{Timestamp: time.Now(), SessionID: sessionID, Action: "x"}
	e.ID = uuid.MustParse("6f1c2d3e-4a5b-4c6d-8e7f-9a0b1c2d3e4f")
	s.Require().NoError(s.store.Append(ctx, e))
	s.Require().NoError(s.store.Append(ctx, e))

	events, err := s.store.ListBySession(ctx, sessionID)
	s.Require().NoError(err)
	s.Len(events, 1)
}

func (s *PostgresStoreSuite) TestAppendBatchIsAtomic() {
	ctx := context.Background()
	sessionID := domain.NewSessionID()
	base := time.Now().UTC().Truncate(time.Millisecond)

	good := []audit.Event{
		{Timestamp: base, SessionID: sessionID, Action: string(audit.EventArtifactsReceived)},
		{Timestamp: base.Add(time.Second), SessionID: sessionID, Action: string(audit.EventSubmissionOK)},
	}
	s.Require().NoError(s.store.AppendBatch(ctx, good))

	// PostgreSQL rejects NUL bytes in text columns, failing the second insert.
	bad := []audit.Event{
		{Timestamp: base.Add(2 * time.Second), SessionID: sessionID, Action: "first"},
		{Timestamp: base.Add(3 * time.Second), SessionID: sessionID, Action: "second", Reason: "bad\x00reason"},
	}
	s.Require().Error(s.store.AppendBatch(ctx, bad))

	events, err := s.store.ListBySession(ctx, sessionID)
	s.Require().NoError(err)
	s.Len(events, 2, "a failed batch leaves nothing behind")
}
