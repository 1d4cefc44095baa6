package submission_test

//go:generate mockgen -source=submitter.go -destination=mocks/mocks.go -package=mocks Uploader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"

	"verifyflow/internal/capture"
	"verifyflow/internal/platform/metrics"
	"verifyflow/internal/submission"
	"verifyflow/internal/submission/mocks"
	"verifyflow/pkg/domain"
	dErrors "verifyflow/pkg/domain-errors"
	"verifyflow/pkg/platform/circuit"
)

// =============================================================================
// Submitter Test Suite
// =============================================================================
// Justification for unit tests: outcome classification (delivered, failed,
// stale) and session cancellation need a controllable uploader.

type SubmitterSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	uploader  *mocks.MockUploader
	metrics   *metrics.Metrics
	submitter *submission.Submitter
	session   domain.SessionID
}

func TestSubmitterSuite(t *testing.T) {
	defer goleak.VerifyNone(t)
	suite.Run(t, new(SubmitterSuite))
}

func (s *SubmitterSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.uploader = mocks.NewMockUploader(s.ctrl)
	s.metrics = metrics.New(prometheus.NewRegistry())
	var err error
	s.submitter, err = submission.New(s.uploader, submission.WithMetrics(s.metrics))
	s.Require().NoError(err)
	s.session = domain.NewSessionID()
	s.submitter.BeginSession(s.session)
}

func (s *SubmitterSuite) TearDownTest() {
	s.Require().NoError(s.submitter.Close(context.Background()))
	s.ctrl.Finish()
}

func artifact(kind capture.Kind) *capture.Artifact {
	return &capture.Artifact{Kind: kind, Data: []byte("data-" + string(kind)), MIMEType: "image/jpeg"}
}

func wait(s *SubmitterSuite, ch <-chan submission.Outcome) submission.Outcome {
	select {
	case o, ok := <-ch:
		s.Require().True(ok, "channel closed without an outcome")
		return o
	case <-time.After(2 * time.Second):
		s.FailNow("no outcome")
		return submission.Outcome{}
	}
}

// =============================================================================
// Constructor Tests
// =============================================================================

func (s *SubmitterSuite) TestNew() {
	s.Run("nil uploader returns error", func() {
		_, err := submission.New(nil)
		s.Error(err)
		s.Contains(err.Error(), "uploader is required")
	})
}

// =============================================================================
// Endpoint Mapping
// =============================================================================

func (s *SubmitterSuite) TestEndpointMapping() {
	cases := []struct {
		name     string
		kinds    []capture.Kind
		endpoint submission.Endpoint
	}{
		{"documents go together", []capture.Kind{capture.KindDocumentFront, capture.KindDocumentBack}, submission.EndpointDocuments},
		{"selfie with video", []capture.Kind{capture.KindSelfie, capture.KindLivenessVideo}, submission.EndpointFace},
		{"selfie alone", []capture.Kind{capture.KindSelfie}, submission.EndpointFace},
		{"fingerprint", []capture.Kind{capture.KindFingerprint}, submission.EndpointFingerprint},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			var artifacts []*capture.Artifact
			for _, k := range tc.kinds {
				artifacts = append(artifacts, artifact(k))
			}
			s.uploader.EXPECT().Upload(gomock.Any(), tc.endpoint, s.session, artifacts).Return(nil)
			o := wait(s, s.submitter.Submit(s.session, artifacts...))
			s.True(o.Delivered())
			s.Equal(tc.endpoint, o.Endpoint)
			s.Equal(tc.kinds, o.Kinds)
		})
	}

	s.Run("mismatched set is rejected without upload", func() {
		o := wait(s, s.submitter.Submit(s.session, artifact(capture.KindDocumentFront)))
		s.Require().NotNil(o.Err)
		s.True(dErrors.HasCode(o.Err, dErrors.CodeInvalidInput))
		s.False(o.Delivered())
	})

	s.Run("empty artifact is rejected without upload", func() {
		o := wait(s, s.submitter.Submit(s.session, &capture.Artifact{Kind: capture.KindFingerprint}))
		s.Require().NotNil(o.Err)
	})
}

// =============================================================================
// Failure Handling
// =============================================================================

func (s *SubmitterSuite) TestFailureIsReportedNotRaised() {
	s.uploader.EXPECT().
		Upload(gomock.Any(), submission.EndpointFingerprint, s.session, gomock.Any()).
		Return(errors.New("502 bad gateway"))

	o := wait(s, s.submitter.Submit(s.session, artifact(capture.KindFingerprint)))
	s.Require().NotNil(o.Err)
	s.False(o.Stale)
	s.False(o.Err.Offline)
	s.Contains(o.Err.UserMessage(), "couldn't upload your fingerprint")
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Submissions.WithLabelValues("submit-fingerprint", "failed")))
}

func (s *SubmitterSuite) TestRepeatedFailuresSwitchToOfflineNotice() {
	s.uploader.EXPECT().
		Upload(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(errors.New("connection refused")).
		Times(3)

	var last submission.Outcome
	for i := 0; i < 3; i++ {
		last = wait(s, s.submitter.Submit(s.session, artifact(capture.KindFingerprint)))
	}
	s.True(s.submitter.Offline())
	s.Require().NotNil(last.Err)
	s.True(last.Err.Offline)
	s.Contains(last.Err.UserMessage(), "offline")
	s.Equal(1.0, testutil.ToFloat64(s.metrics.BackendCircuitOpen))

	s.uploader.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	o := wait(s, s.submitter.Submit(s.session, artifact(capture.KindFingerprint)))
	s.True(o.Delivered(), "an open breaker never skips delivery")
	s.False(s.submitter.Offline())
}

func (s *SubmitterSuite) TestInjectedBreakerDrivesOfflineWording() {
	breaker := circuit.New("backend-uploads", circuit.WithFailureThreshold(3), circuit.WithSuccessThreshold(1))
	breaker.RecordFailure()
	breaker.RecordFailure()

	submitter, err := submission.New(s.uploader, submission.WithBreaker(breaker))
	s.Require().NoError(err)
	defer func() { s.Require().NoError(submitter.Close(context.Background())) }()
	submitter.BeginSession(s.session)

	s.uploader.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("timeout"))
	o := wait(s, submitter.Submit(s.session, artifact(capture.KindSelfie)))
	s.Require().NotNil(o.Err)
	s.True(o.Err.Offline, "third consecutive failure opens the shared breaker")
	s.Contains(o.Err.UserMessage(), "offline")
	s.True(breaker.IsOpen())

	s.uploader.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	o = wait(s, submitter.Submit(s.session, artifact(capture.KindSelfie)))
	s.True(o.Delivered())
	s.False(breaker.IsOpen(), "one delivered upload closes it")
}

// =============================================================================
// Session Scoping
// =============================================================================

func (s *SubmitterSuite) TestSessionScoping() {
	s.Run("submission for a superseded session is stale and not sent", func() {
		old := s.session
		s.session = domain.NewSessionID()
		s.submitter.BeginSession(s.session)

		o := wait(s, s.submitter.Submit(old, artifact(capture.KindFingerprint)))
		s.True(o.Stale)
		s.False(o.Delivered())
	})

	s.Run("reset cancels an in-flight upload and marks it stale", func() {
		started := make(chan struct{})
		s.uploader.EXPECT().
			Upload(gomock.Any(), submission.EndpointFingerprint, s.session, gomock.Any()).
			DoAndReturn(func(ctx context.Context, _ submission.Endpoint, _ domain.SessionID, _ []*capture.Artifact) error {
				close(started)
				<-ctx.Done()
				return ctx.Err()
			})

		ch := s.submitter.Submit(s.session, artifact(capture.KindFingerprint))
		<-started
		s.session = domain.NewSessionID()
		s.submitter.BeginSession(s.session)

		o := wait(s, ch)
		s.True(o.Stale)
		s.Nil(o.Err)
		s.False(s.submitter.Offline(), "cancelled uploads do not count against the backend")
	})

	s.Run("upload that succeeds after reset is still stale", func() {
		release := make(chan struct{})
		started := make(chan struct{})
		s.uploader.EXPECT().
			Upload(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(context.Context, submission.Endpoint, domain.SessionID, []*capture.Artifact) error {
				close(started)
				<-release
				return nil
			})

		ch := s.submitter.Submit(s.session, artifact(capture.KindFingerprint))
		<-started
		s.session = domain.NewSessionID()
		s.submitter.BeginSession(s.session)
		close(release)

		s.True(wait(s, ch).Stale)
	})
}

// =============================================================================
// Close
// =============================================================================

func (s *SubmitterSuite) TestCloseDrainsInFlight() {
	release := make(chan struct{})
	s.uploader.EXPECT().
		Upload(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, submission.Endpoint, domain.SessionID, []*capture.Artifact) error {
			<-release
			return nil
		})

	ch := s.submitter.Submit(s.session, artifact(capture.KindFingerprint))
	closed := make(chan error, 1)
	go func() { closed <- s.submitter.Close(context.Background()) }()

	select {
	case <-closed:
		s.FailNow("close returned before the upload finished")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	s.NoError(<-closed)
	s.True(wait(s, ch).Delivered())

	o := wait(s, s.submitter.Submit(s.session, artifact(capture.KindFingerprint)))
	s.True(o.Stale, "closed submitter accepts nothing")
}

func (s *SubmitterSuite) TestCloseDeadlineCancelsUploads() {
	s.uploader.EXPECT().
		Upload(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ submission.Endpoint, _ domain.SessionID, _ []*capture.Artifact) error {
			<-ctx.Done()
			return ctx.Err()
		})

	ch := s.submitter.Submit(s.session, artifact(capture.KindFingerprint))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s.ErrorIs(s.submitter.Close(ctx), context.DeadlineExceeded)
	s.True(wait(s, ch).Stale)
}
