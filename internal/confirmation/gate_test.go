package confirmation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"verifyflow/pkg/domain"
	dErrors "verifyflow/pkg/domain-errors"
	"verifyflow/pkg/platform/sentinel"
)

type fetcherFunc func(ctx context.Context, id domain.SessionID) (map[string]string, error)

func (f fetcherFunc) CollectedData(ctx context.Context, id domain.SessionID) (map[string]string, error) {
	return f(ctx, id)
}

func fullValues() map[string]string {
	return map[string]string{
		"name":            "Jo Doe",
		"father_name":     "Sam Doe",
		"document_number": "12345-1234567-1",
		"dob":             "1990-01-01",
		"email":           "jo@example.com",
		"phone":           "0300",
		"account_type":    "Pending",
	}
}

func TestRender(t *testing.T) {
	t.Run("missing dob marks exactly that field", func(t *testing.T) {
		values := fullValues()
		delete(values, "dob")
		views := Render(&Snapshot{Values: values})
		require.Len(t, views, len(Fields))
		for _, v := range views {
			if v.Key == "dob" {
				assert.False(t, v.Available)
				assert.Equal(t, NotAvailable, v.Value)
				continue
			}
			assert.True(t, v.Available, v.Key)
			assert.Equal(t, values[v.Key], v.Value)
		}
	})

	t.Run("placeholders and blanks are not available", func(t *testing.T) {
		values := fullValues()
		values["name"] = "Not Available"
		values["father_name"] = "Not Detected"
		values["email"] = "  "
		views := Render(&Snapshot{Values: values})
		unavailable := map[string]bool{}
		for _, v := range views {
			if !v.Available {
				unavailable[v.Key] = true
			}
		}
		assert.Equal(t, map[string]bool{"name": true, "father_name": true, "email": true}, unavailable)
	})

	t.Run("legacy document key is accepted", func(t *testing.T) {
		views := Render(&Snapshot{Values: map[string]string{"cnic_number": "42101-0000000-1"}})
		assert.Equal(t, "42101-0000000-1", views[2].Value)
		assert.True(t, views[2].Available)
	})

	t.Run("nil snapshot renders every field unavailable", func(t *testing.T) {
		for _, v := range Render(nil) {
			assert.False(t, v.Available)
		}
	})
}

// =============================================================================
// Gate Test Suite
// =============================================================================
// Justification for unit tests: confirm/edit gating and fetch invalidation are
// state rules the orchestrator relies on.

type GateSuite struct {
	suite.Suite
	values map[string]string
	err    error
	gate   *Gate
}

func TestGateSuite(t *testing.T) {
	suite.Run(t, new(GateSuite))
}

func (s *GateSuite) SetupTest() {
	s.values = fullValues()
	s.err = nil
	var err error
	s.gate, err = New(fetcherFunc(func(context.Context, domain.SessionID) (map[string]string, error) {
		return s.values, s.err
	}))
	s.Require().NoError(err)
}

func (s *GateSuite) TestNew() {
	_, err := New(nil)
	s.ErrorContains(err, "fetcher is required")
}

func (s *GateSuite) TestConfirmRequiresSnapshot() {
	s.ErrorIs(s.gate.Confirm(), ErrNoSnapshot)
	s.ErrorIs(s.gate.Confirm(), sentinel.ErrInvalidState)

	_, err := s.gate.Fetch(context.Background(), domain.NewSessionID())
	s.Require().NoError(err)
	s.NoError(s.gate.Confirm())
	s.True(s.gate.Confirmed())
}

func (s *GateSuite) TestEditDiscardsSnapshot() {
	_, err := s.gate.Fetch(context.Background(), domain.NewSessionID())
	s.Require().NoError(err)
	s.gate.Edit()
	s.Nil(s.gate.Snapshot())
	s.ErrorIs(s.gate.Confirm(), ErrNoSnapshot)
}

func (s *GateSuite) TestFetchFailure() {
	s.err = errors.New("503")
	snap, err := s.gate.Fetch(context.Background(), domain.NewSessionID())
	s.Nil(snap)
	var ferr *FetchError
	s.Require().ErrorAs(err, &ferr)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.NotEmpty(ferr.UserMessage())
	s.Nil(s.gate.Snapshot())
}

func (s *GateSuite) TestSnapshotIsolatedFromFetcherMap() {
	snap, err := s.gate.Fetch(context.Background(), domain.NewSessionID())
	s.Require().NoError(err)
	s.values["name"] = "changed"
	s.Equal("Jo Doe", snap.Values["name"])
}

func (s *GateSuite) TestResetDuringFetchDiscardsResult() {
	entered := make(chan struct{})
	release := make(chan struct{})
	gate, err := New(fetcherFunc(func(context.Context, domain.SessionID) (map[string]string, error) {
		close(entered)
		<-release
		return fullValues(), nil
	}))
	s.Require().NoError(err)

	done := make(chan error, 1)
	go func() {
		_, err := gate.Fetch(context.Background(), domain.NewSessionID())
		done <- err
	}()
	<-entered
	gate.Reset()
	close(release)

	s.ErrorIs(<-done, sentinel.ErrInvalidState)
	s.Nil(gate.Snapshot())
}
