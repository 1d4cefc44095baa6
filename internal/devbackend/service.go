// Package devbackend is a local stand-in for the onboarding backend. It
// scripts the chat questions, issues signed verification links, accepts the
// three artifact uploads and aggregates what a session collected.
package devbackend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"slices"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"verifyflow/internal/backend"
	"verifyflow/internal/conversation"
	"verifyflow/internal/submission"
	"verifyflow/pkg/domain"
	dErrors "verifyflow/pkg/domain-errors"
	audit "verifyflow/pkg/platform/audit"
	"verifyflow/pkg/platform/sentinel"
	"verifyflow/pkg/requestcontext"
)

// NotAvailable fills collected-data fields nothing has provided yet.
const NotAvailable = "Not Available"

// AccountPending is reported until an account exists for the session.
const AccountPending = "Pending"

// Auditor records and lists audit events. publisher.Publisher implements it.
type Auditor interface {
	Emit(ctx context.Context, event audit.Event) error
	List(ctx context.Context, sessionID domain.SessionID) ([]audit.Event, error)
}

// requiredFields lists the multipart fields each upload endpoint needs.
var requiredFields = map[submission.Endpoint][]string{
	submission.EndpointDocuments:   {"front_image", "back_image"},
	submission.EndpointFace:        {"selfie_image"},
	submission.EndpointFingerprint: {"fingerprint_image"},
}

// optionalFields are accepted but not required.
var optionalFields = map[submission.Endpoint][]string{
	submission.EndpointFace: {"liveness_video"},
}

var receivedMessages = map[submission.Endpoint]string{
	submission.EndpointDocuments:   "Documents received successfully",
	submission.EndpointFace:        "Face verification received successfully",
	submission.EndpointFingerprint: "Fingerprint received successfully",
}

// Service implements the backend behavior behind the HTTP handler.
type Service struct {
	registry *Registry
	links    *Links
	auditor  Auditor
	metrics  *Metrics
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithAuditor sets where backend events are recorded.
func WithAuditor(a Auditor) Option {
	return func(s *Service) {
		s.auditor = a
	}
}

// NewService creates a Service.
func NewService(registry *Registry, links *Links, opts ...Option) (*Service, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	if links == nil {
		return nil, errors.New("links is required")
	}
	s := &Service{
		registry: registry,
		links:    links,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Chat answers one turn. The backend keeps its own step per session; the
// client's view is only used to seed user data the backend has not seen.
func (s *Service) Chat(ctx context.Context, sessionID domain.SessionID, req backend.ChatRequest) (*backend.ChatResponse, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "message is required")
	}
	now := requestcontext.Now(ctx)

	var (
		resp     *backend.ChatResponse
		step     conversation.Step
		accepted bool
		issueErr error
	)
	rec := s.registry.Update(sessionID, now, func(r *Record) {
		for k, v := range req.State.UserData {
			if _, ok := r.UserData[k]; !ok && v != "" {
				r.UserData[k] = v
			}
		}
		step = r.Step
		resp, accepted, issueErr = s.answer(sessionID, r, message, now)
	})
	if issueErr != nil {
		return nil, issueErr
	}

	s.metrics.IncChatTurn(string(step), accepted)
	s.emit(ctx, audit.Event{
		SessionID: sessionID,
		Action:    string(audit.EventChatTurn),
		Stage:     string(step),
		Outcome:   outcome(accepted),
	})
	if accepted && step == conversation.StepAskPhone {
		s.metrics.IncLinkIssued()
		s.emit(ctx, audit.Event{
			SessionID: sessionID,
			Action:    string(audit.EventLinkIssued),
			Stage:     string(rec.Step),
		})
	}
	s.logger.InfoContext(ctx, "chat turn",
		"request_id", requestcontext.RequestID(ctx),
		"session_id", sessionID.String(),
		"step", string(step),
		"next_step", resp.NextStep,
		"accepted", accepted,
	)
	return resp, nil
}

// answer advances r by one question. Caller holds the registry lock.
func (s *Service) answer(sessionID domain.SessionID, r *Record, message string, now time.Time) (*backend.ChatResponse, bool, error) {
	retry := func(text string) (*backend.ChatResponse, bool, error) {
		return &backend.ChatResponse{Reply: text, NextStep: string(r.Step)}, false, nil
	}

	switch r.Step {
	case conversation.StepAskName:
		if utf8.RuneCountInString(message) < 2 {
			return retry("Please tell me your full name.")
		}
		r.UserData["name"] = message
		r.Step = conversation.StepAskEmail
		return &backend.ChatResponse{
			Reply:         fmt.Sprintf("Nice to meet you, %s! What's your email address?", firstName(message)),
			NextStep:      string(r.Step),
			UserDataPatch: map[string]string{"name": message},
		}, true, nil

	case conversation.StepAskEmail:
		addr, err := mail.ParseAddress(message)
		if err != nil || !strings.Contains(addr.Address, ".") {
			return retry("That email address doesn't look right. Could you check it and send it again?")
		}
		r.UserData["email"] = addr.Address
		r.Step = conversation.StepAskPhone
		return &backend.ChatResponse{
			Reply:         "Thanks! And what's the best phone number to reach you on?",
			NextStep:      string(r.Step),
			UserDataPatch: map[string]string{"email": addr.Address},
		}, true, nil

	case conversation.StepAskPhone:
		if countDigits(message) < 7 {
			return retry("Please enter a phone number with at least 7 digits.")
		}
		link, err := s.links.Issue(sessionID, now)
		if err != nil {
			return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "issue verification link")
		}
		r.UserData["phone"] = message
		r.Link = link
		r.Step = conversation.StepVerificationSent
		return &backend.ChatResponse{
			Reply:            "Thank you! I have everything I need. Please verify your identity to continue.",
			NextStep:         string(r.Step),
			UserDataPatch:    map[string]string{"phone": message},
			VerificationLink: link,
			Action:           conversation.ActionShowVerificationButton,
		}, true, nil

	default:
		return &backend.ChatResponse{
			Reply:            "Your details are saved. Tap the verification button whenever you're ready.",
			NextStep:         string(r.Step),
			VerificationLink: r.Link,
			Action:           conversation.ActionShowVerificationButton,
		}, true, nil
	}
}

// File is one multipart part received by an upload endpoint.
type File struct {
	Field       string
	Size        int64
	ContentType string
}

// Receive records an upload. Every required field must be present.
func (s *Service) Receive(ctx context.Context, sessionID domain.SessionID, endpoint submission.Endpoint, files []File) (string, error) {
	required, ok := requiredFields[endpoint]
	if !ok {
		return "", dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("unknown upload endpoint %q", endpoint))
	}
	var (
		fields []string
		total  int64
	)
	for _, f := range files {
		if !slices.Contains(required, f.Field) && !slices.Contains(optionalFields[endpoint], f.Field) {
			continue
		}
		if f.Size == 0 {
			return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s is empty", f.Field))
		}
		fields = append(fields, f.Field)
		total += f.Size
	}
	for _, name := range required {
		if !slices.Contains(fields, name) {
			return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s is required", name))
		}
	}

	now := requestcontext.Now(ctx)
	s.registry.Update(sessionID, now, func(r *Record) {
		r.Uploads[endpoint] = Upload{Fields: fields, Bytes: total, ReceivedAt: now}
	})
	s.metrics.ObserveUpload(string(endpoint), total)
	s.emit(ctx, audit.Event{
		SessionID: sessionID,
		Action:    string(audit.EventArtifactsReceived),
		Stage:     string(endpoint),
		Kinds:     fields,
		Outcome:   "ok",
	})
	s.logger.InfoContext(ctx, "artifacts received",
		"request_id", requestcontext.RequestID(ctx),
		"session_id", sessionID.String(),
		"endpoint", string(endpoint),
		"fields", fields,
		"bytes", total,
	)
	return receivedMessages[endpoint], nil
}

// CollectedData aggregates what the session provided. Fields nothing has
// filled read NotAvailable.
func (s *Service) CollectedData(ctx context.Context, sessionID domain.SessionID) (map[string]string, error) {
	rec, err := s.registry.Get(sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "user session not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load session")
	}
	value := func(key string) string {
		if v := strings.TrimSpace(rec.UserData[key]); v != "" {
			return v
		}
		return NotAvailable
	}
	return map[string]string{
		"name":         value("name"),
		"father_name":  value("father_name"),
		"dob":          value("dob"),
		"cnic_number":  value("cnic_number"),
		"email":        value("email"),
		"phone":        value("phone"),
		"account_type": AccountPending,
	}, nil
}

// VerifyLink validates a link token and reports which session it belongs to.
func (s *Service) VerifyLink(ctx context.Context, token string) (domain.SessionID, error) {
	sessionID, err := s.links.Validate(token)
	if err != nil {
		s.metrics.IncLinkCheck(false)
		s.emit(ctx, audit.Event{Action: string(audit.EventLinkRejected), Reason: err.Error()})
		return domain.SessionID{}, err
	}
	if _, err := s.registry.Get(sessionID); err != nil {
		s.metrics.IncLinkCheck(false)
		s.emit(ctx, audit.Event{SessionID: sessionID, Action: string(audit.EventLinkRejected), Reason: "unknown session"})
		return domain.SessionID{}, dErrors.New(dErrors.CodeNotFound, "user session not found")
	}
	s.metrics.IncLinkCheck(true)
	s.emit(ctx, audit.Event{SessionID: sessionID, Action: string(audit.EventLinkVerified)})
	return sessionID, nil
}

// AuditTrail lists the events recorded for a session.
func (s *Service) AuditTrail(ctx context.Context, sessionID domain.SessionID) ([]audit.Event, error) {
	if s.auditor == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "audit trail is not configured")
	}
	events, err := s.auditor.List(ctx, sessionID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "audit trail is not available")
	}
	return events, nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "action", event.Action, "error", err)
	}
}

func outcome(accepted bool) string {
	if accepted {
		return "accepted"
	}
	return "retry"
}

func firstName(full string) string {
	if fields := strings.Fields(full); len(fields) > 0 {
		return fields[0]
	}
	return full
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}
