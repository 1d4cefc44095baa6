package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/suite"

	"verifyflow/pkg/domain"
)

// =============================================================================
// Conversation Machine Test Suite
// =============================================================================
// Justification for unit tests: local gates, the forward-only step rule and
// link extraction are pure state logic with many edge cases.

type MachineSuite struct {
	suite.Suite
	backend *fakeBackend
	machine *Machine
	session domain.SessionID
}

func TestMachineSuite(t *testing.T) {
	suite.Run(t, new(MachineSuite))
}

func (s *MachineSuite) SetupTest() {
	s.backend = &fakeBackend{}
	var err error
	s.machine, err = New(s.backend, WithClock(func() time.Time { return time.Unix(42, 0) }))
	s.Require().NoError(err)
	s.session = domain.NewSessionID()
}

// =============================================================================
// Fake Backend
// =============================================================================

type fakeBackend struct {
	mu    sync.Mutex
	turns []Turn
	reply func(Turn) (*Reply, error)
}

func (f *fakeBackend) Chat(_ context.Context, _ domain.SessionID, turn Turn) (*Reply, error) {
	f.mu.Lock()
	f.turns = append(f.turns, turn)
	fn := f.reply
	f.mu.Unlock()
	if fn == nil {
		return &Reply{Text: "ok"}, nil
	}
	return fn(turn)
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.turns)
}

func (s *MachineSuite) advanceTo(step Step) {
	s.machine.mu.Lock()
	s.machine.state.Step = step
	s.machine.mu.Unlock()
}

// =============================================================================
// Constructor Tests
// =============================================================================

func (s *MachineSuite) TestNew() {
	s.Run("nil backend returns error", func() {
		_, err := New(nil)
		s.Error(err)
		s.Contains(err.Error(), "backend is required")
	})

	s.Run("starts at ask_name with greeting", func() {
		st := s.machine.State()
		s.Equal(StepAskName, st.Step)
		s.Require().Len(st.Messages, 1)
		s.Equal(RoleBot, st.Messages[0].Role)
		s.Equal(Greeting, st.Messages[0].Content)
	})
}

// =============================================================================
// Local Gates
// =============================================================================

func (s *MachineSuite) TestNameGate() {
	s.Run("single character does not advance", func() {
		s.SetupTest()
		res := s.machine.Send(context.Background(), s.session, "J")
		s.True(res.Rejected)
		s.Equal(StepAskName, res.Step)
		s.Zero(s.backend.calls(), "rejected input is not forwarded")
		s.Equal(hintName, res.Reply.Content)
	})

	s.Run("two characters advance to ask_email", func() {
		s.SetupTest()
		res := s.machine.Send(context.Background(), s.session, "Jo")
		s.False(res.Rejected)
		s.Equal(StepAskEmail, res.Step)
		s.Equal("Jo", s.machine.State().UserData["name"])
	})

	s.Run("multibyte name counts runes", func() {
		s.SetupTest()
		res := s.machine.Send(context.Background(), s.session, "Zé")
		s.Equal(StepAskEmail, res.Step)
	})
}

func (s *MachineSuite) TestEmailGate() {
	s.Run("without at sign does not advance", func() {
		s.SetupTest()
		s.advanceTo(StepAskEmail)
		res := s.machine.Send(context.Background(), s.session, "abc")
		s.True(res.Rejected)
		s.Equal(StepAskEmail, s.machine.State().Step)
		s.Zero(s.backend.calls())
	})

	s.Run("with at sign advances to ask_phone", func() {
		s.SetupTest()
		s.advanceTo(StepAskEmail)
		res := s.machine.Send(context.Background(), s.session, "a@b.com")
		s.Equal(StepAskPhone, res.Step)
		s.Equal("a@b.com", s.machine.State().UserData["email"])
	})
}

func (s *MachineSuite) TestPhoneAcceptsAnyNonEmpty() {
	s.advanceTo(StepAskPhone)
	res := s.machine.Send(context.Background(), s.session, "x")
	s.Equal(StepAwaitVerification, res.Step)
}

func (s *MachineSuite) TestBlankInputIgnored() {
	res := s.machine.Send(context.Background(), s.session, "   ")
	s.True(res.Ignored)
	s.Len(s.machine.State().Messages, 1)
}

// =============================================================================
// Backend Authority
// =============================================================================

func (s *MachineSuite) TestBackendPatchIsAuthoritative() {
	s.Run("next step and patch override the local advance", func() {
		s.SetupTest()
		s.backend.reply = func(Turn) (*Reply, error) {
			return &Reply{Text: "Tell me again", NextStep: StepAskName, UserDataPatch: map[string]string{"name": "Jo Doe"}}, nil
		}
		res := s.machine.Send(context.Background(), s.session, "Jo")
		s.Equal(StepAskName, res.Step)
		s.Equal("Jo Doe", s.machine.State().UserData["name"])
	})

	s.Run("backward step is ignored", func() {
		s.SetupTest()
		s.advanceTo(StepAskPhone)
		s.backend.reply = func(Turn) (*Reply, error) {
			return &Reply{Text: "hm", NextStep: StepAskName}, nil
		}
		res := s.machine.Send(context.Background(), s.session, "0300")
		s.Equal(StepAwaitVerification, res.Step)
	})

	s.Run("error step is always accepted", func() {
		s.SetupTest()
		s.advanceTo(StepAskPhone)
		s.backend.reply = func(Turn) (*Reply, error) {
			return &Reply{Text: "failed", NextStep: StepError}, nil
		}
		s.Equal(StepError, s.machine.Send(context.Background(), s.session, "0300").Step)
	})

	s.Run("turn carries step and user data", func() {
		s.SetupTest()
		s.machine.Send(context.Background(), s.session, "Jo")
		s.machine.Send(context.Background(), s.session, "a@b.com")
		s.Require().Len(s.backend.turns, 2)
		want := Turn{Message: "a@b.com", Step: StepAskEmail, UserData: map[string]string{"name": "Jo"}}
		s.Empty(cmp.Diff(want, s.backend.turns[1]))
	})
}

// =============================================================================
// Verification Link
// =============================================================================

func (s *MachineSuite) TestVerificationLink() {
	s.Run("explicit link is primary and stripped from text", func() {
		s.SetupTest()
		s.advanceTo(StepAskPhone)
		s.backend.reply = func(Turn) (*Reply, error) {
			return &Reply{
				Text:             "Open https://example.test/verify/abc to continue",
				VerificationLink: "https://example.test/verify/abc",
				Action:           ActionShowVerificationButton,
			}, nil
		}
		res := s.machine.Send(context.Background(), s.session, "0300")
		s.True(res.Ready)
		s.Equal(StepVerificationSent, res.Step)
		s.Equal("https://example.test/verify/abc", res.Reply.ActionURL)
		s.Equal("Open  to continue", res.Reply.Content)
	})

	s.Run("text scan is the fallback", func() {
		s.SetupTest()
		s.advanceTo(StepAwaitVerification)
		s.backend.reply = func(Turn) (*Reply, error) {
			return &Reply{Text: "Your link: http://x.test/v/1"}, nil
		}
		res := s.machine.Send(context.Background(), s.session, "done")
		s.False(res.Ready)
		s.Equal(StepVerificationSent, res.Step)
		s.Equal("http://x.test/v/1", res.Reply.ActionURL)
		s.Equal("Your link:", res.Reply.Content)
	})

	s.Run("no link leaves text untouched", func() {
		s.SetupTest()
		s.backend.reply = func(Turn) (*Reply, error) {
			return &Reply{Text: "Nice to meet you"}, nil
		}
		res := s.machine.Send(context.Background(), s.session, "Jo")
		s.Empty(res.Reply.ActionURL)
		s.Equal("Nice to meet you", res.Reply.Content)
	})
}

// =============================================================================
// Failures and Reset
// =============================================================================

func (s *MachineSuite) TestTransportFailureKeepsStep() {
	s.backend.reply = func(Turn) (*Reply, error) { return nil, errors.New("dial tcp: refused") }
	res := s.machine.Send(context.Background(), s.session, "Jo")
	s.True(res.Failed)
	s.Equal(StepAskName, res.Step)
	s.Equal(TroubleConnecting, res.Reply.Content)
	s.Empty(s.machine.State().UserData)
}

func (s *MachineSuite) TestResetDropsInFlightReply() {
	entered := make(chan struct{})
	release := make(chan struct{})
	s.backend.reply = func(Turn) (*Reply, error) {
		close(entered)
		<-release
		return &Reply{Text: "late", NextStep: StepAskEmail}, nil
	}

	done := make(chan Result, 1)
	go func() { done <- s.machine.Send(context.Background(), s.session, "Jo") }()
	<-entered
	s.machine.Reset()
	close(release)

	res := <-done
	s.True(res.Stale)
	st := s.machine.State()
	s.Equal(StepAskName, st.Step)
	s.Len(st.Messages, 1)
}

func (s *MachineSuite) TestStateIsACopy() {
	s.machine.Send(context.Background(), s.session, "Jo")
	st := s.machine.State()
	st.Messages[0].Content = "mutated"
	st.UserData["name"] = "mutated"

	fresh := s.machine.State()
	s.Equal(Greeting, fresh.Messages[0].Content)
	s.Equal("Jo", fresh.UserData["name"])
	s.Empty(cmp.Diff(st.Messages[1:], fresh.Messages[1:], cmpopts.EquateEmpty()))
}
