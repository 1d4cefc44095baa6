package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"verifyflow/internal/capture"
	"verifyflow/internal/conversation"
	"verifyflow/internal/submission"
	"verifyflow/pkg/domain"
	dErrors "verifyflow/pkg/domain-errors"
)

// =============================================================================
// Client Test Suite
// =============================================================================
// Justification for unit tests: the wire format is the only contract with
// the backend; these tests pin request shapes and status-to-code mapping
// against an httptest server.

type ClientSuite struct {
	suite.Suite
	mux       *http.ServeMux
	server    *httptest.Server
	client    *Client
	sessionID domain.SessionID
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	s.mux = http.NewServeMux()
	s.server = httptest.NewServer(s.mux)
	c, err := New(s.server.URL+"/", WithUserAgent("test-agent"))
	s.Require().NoError(err)
	s.client = c
	s.sessionID = domain.NewSessionID()
}

func (s *ClientSuite) TearDownTest() {
	s.server.Close()
}

func (s *ClientSuite) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	s.Require().NoError(json.NewEncoder(w).Encode(v))
}

func (s *ClientSuite) TestChat() {
	s.Run("sends turn and maps reply", func() {
		var got ChatRequest
		s.mux.HandleFunc("POST "+PathChat, func(w http.ResponseWriter, r *http.Request) {
			s.Equal("test-agent", r.Header.Get("User-Agent"))
			s.Equal("application/json", r.Header.Get("Content-Type"))
			s.Require().NoError(json.NewDecoder(r.Body).Decode(&got))
			s.writeJSON(w, http.StatusOK, ChatResponse{
				Reply:            "Thanks Jo",
				NextStep:         "ask_email",
				UserDataPatch:    map[string]string{"name": "Jo"},
				VerificationLink: "https://verify.example/abc",
				Action:           conversation.ActionShowVerificationButton,
			})
		})

		reply, err := s.client.Chat(context.Background(), s.sessionID, conversation.Turn{
			Message:  "Jo",
			Step:     conversation.StepAskName,
			UserData: map[string]string{},
		})
		s.Require().NoError(err)

		s.Equal("Jo", got.Message)
		s.Equal(s.sessionID.String(), got.SessionID)
		s.Equal("ask_name", got.State.Step)
		s.Equal(&conversation.Reply{
			Text:             "Thanks Jo",
			NextStep:         conversation.StepAskEmail,
			UserDataPatch:    map[string]string{"name": "Jo"},
			VerificationLink: "https://verify.example/abc",
			Action:           conversation.ActionShowVerificationButton,
		}, reply)
	})
}

func (s *ClientSuite) TestChatErrors() {
	s.mux.HandleFunc("POST "+PathChat, func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: "upstream", Message: "webhook down"})
	})

	_, err := s.client.Chat(context.Background(), s.sessionID, conversation.Turn{Message: "hi"})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.Contains(err.Error(), "webhook down")
}

func (s *ClientSuite) TestUpload() {
	s.Run("documents are sent as multipart with session id", func() {
		s.mux.HandleFunc("POST "+PathUploadPrefix+string(submission.EndpointDocuments), func(w http.ResponseWriter, r *http.Request) {
			s.Require().NoError(r.ParseMultipartForm(1 << 20))
			s.Equal(s.sessionID.String(), r.FormValue(SessionField))

			front, hdr, err := r.FormFile("front_image")
			s.Require().NoError(err)
			data, _ := io.ReadAll(front)
			s.Equal([]byte("front"), data)
			s.Equal("image/jpeg", hdr.Header.Get("Content-Type"))

			_, _, err = r.FormFile("back_image")
			s.Require().NoError(err)
			s.writeJSON(w, http.StatusOK, Ack{Success: true})
		})

		err := s.client.Upload(context.Background(), submission.EndpointDocuments, s.sessionID, []*capture.Artifact{
			{Kind: capture.KindDocumentFront, Data: []byte("front"), MIMEType: "image/jpeg"},
			{Kind: capture.KindDocumentBack, Data: []byte("back"), MIMEType: "image/jpeg"},
		})
		s.NoError(err)
	})

	s.Run("negative ack is an error", func() {
		s.mux.HandleFunc("POST "+PathUploadPrefix+string(submission.EndpointFingerprint), func(w http.ResponseWriter, r *http.Request) {
			s.writeJSON(w, http.StatusOK, Ack{Success: false, Message: "blurry"})
		})

		err := s.client.Upload(context.Background(), submission.EndpointFingerprint, s.sessionID, []*capture.Artifact{
			{Kind: capture.KindFingerprint, Data: []byte("fp"), MIMEType: "image/jpeg"},
		})
		s.Require().Error(err)
		s.Contains(err.Error(), "blurry")
	})
}

func (s *ClientSuite) TestCollectedData() {
	s.mux.HandleFunc("GET "+PathCollectedData, func(w http.ResponseWriter, r *http.Request) {
		s.Equal(s.sessionID.String(), r.URL.Query().Get(SessionField))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"name":"Jo","dob":null,"account_type":"Pending","age":31}`)
	})

	data, err := s.client.CollectedData(context.Background(), s.sessionID)
	s.Require().NoError(err)
	s.Equal(map[string]string{"name": "Jo", "account_type": "Pending", "age": "31"}, data)
}

func (s *ClientSuite) TestCollectedDataNotFound() {
	_, err := s.client.CollectedData(context.Background(), s.sessionID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ClientSuite) TestCancelledContext() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.client.Chat(ctx, s.sessionID, conversation.Turn{Message: "hi"})
	s.ErrorIs(err, context.Canceled)
}

func TestUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(url)
	require.NoError(t, err)
	_, err = c.CollectedData(context.Background(), domain.NewSessionID())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func TestNew(t *testing.T) {
	_, err := New("")
	assert.EqualError(t, err, "base URL is required")

	_, err = New("ftp://example.com")
	assert.Error(t, err)
}

func TestStatusCode(t *testing.T) {
	cases := map[int]dErrors.Code{
		http.StatusNotFound:            dErrors.CodeNotFound,
		http.StatusUnauthorized:        dErrors.CodeUnauthorized,
		http.StatusGatewayTimeout:      dErrors.CodeTimeout,
		http.StatusInternalServerError: dErrors.CodeUnavailable,
		http.StatusUnprocessableEntity: dErrors.CodeBadRequest,
	}
	for status, want := range cases {
		assert.Equal(t, want, statusCode(status), "status %d", status)
	}
}
