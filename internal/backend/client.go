// Package backend is the HTTP client for the onboarding backend. It
// implements the ports of the conversation, submission and confirmation
// packages.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"runtime"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"verifyflow/internal/capture"
	"verifyflow/internal/conversation"
	"verifyflow/internal/platform/tracing"
	"verifyflow/internal/submission"
	"verifyflow/pkg/domain"
	dErrors "verifyflow/pkg/domain-errors"
)

const maxErrorBody = 4 << 10

// Client talks to the backend over HTTP.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	logger    *slog.Logger
	userAgent string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.http.Timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(cl *Client) {
		cl.userAgent = ua
	}
}

// DefaultUserAgent identifies the terminal client and its platform.
func DefaultUserAgent(version string) string {
	return fmt.Sprintf("Mozilla/5.0 (%s; %s) verifyflow-onboard/%s", runtime.GOOS, runtime.GOARCH, version)
}

// New creates a Client for baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base URL must be http or https, got %q", baseURL)
	}
	c := &Client{
		baseURL:   u,
		http:      &http.Client{Timeout: 15 * time.Second},
		logger:    slog.New(slog.DiscardHandler),
		userAgent: DefaultUserAgent("dev"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

// Chat implements conversation.Backend.
func (c *Client) Chat(ctx context.Context, sessionID domain.SessionID, turn conversation.Turn) (reply *conversation.Reply, err error) {
	ctx, span := tracing.Start(ctx, "backend.chat", attribute.String("step", string(turn.Step)))
	defer func() { tracing.End(span, err) }()

	body, err := json.Marshal(ChatRequest{
		Message:   turn.Message,
		SessionID: sessionID.String(),
		State:     ChatState{Step: string(turn.Step), UserData: turn.UserData},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(PathChat), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp ChatResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &conversation.Reply{
		Text:             resp.Reply,
		NextStep:         conversation.Step(resp.NextStep),
		UserDataPatch:    resp.UserDataPatch,
		VerificationLink: resp.VerificationLink,
		Action:           resp.Action,
	}, nil
}

// Upload implements submission.Uploader.
func (c *Client) Upload(ctx context.Context, endpoint submission.Endpoint, sessionID domain.SessionID, artifacts []*capture.Artifact) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField(SessionField, sessionID.String()); err != nil {
		return fmt.Errorf("write session field: %w", err)
	}
	for _, a := range artifacts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, a.Kind.FieldName(), a.FileName()))
		h.Set("Content-Type", a.MIMEType)
		part, err := w.CreatePart(h)
		if err != nil {
			return fmt.Errorf("create part %s: %w", a.Kind, err)
		}
		if _, err := part.Write(a.Data); err != nil {
			return fmt.Errorf("write part %s: %w", a.Kind, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(PathUploadPrefix+string(endpoint)), &buf)
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var ack Ack
	if err := c.do(req, &ack); err != nil {
		return err
	}
	if !ack.Success {
		return dErrors.New(dErrors.CodeUnavailable, fmt.Sprintf("backend rejected upload: %s", ack.Message))
	}
	return nil
}

// CollectedData implements confirmation.Fetcher. Non-string values are
// formatted; null values are omitted.
func (c *Client) CollectedData(ctx context.Context, sessionID domain.SessionID) (data map[string]string, err error) {
	ctx, span := tracing.Start(ctx, "backend.collected_data")
	defer func() { tracing.End(span, err) }()

	q := url.Values{SessionField: []string{sessionID.String()}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(PathCollectedData)+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create collected data request: %w", err)
	}

	var raw map[string]any
	if err := c.do(req, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
		case string:
			out[k] = val
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out, nil
}

// do sends req and decodes a 2xx JSON body into out. Transport failures and
// 429 and 5xx map to CodeUnavailable, 4xx to CodeBadRequest or CodeNotFound.
func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "backend unreachable")
	}
	defer resp.Body.Close()

	c.logger.DebugContext(req.Context(), "backend call",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := fmt.Sprintf("%s %s returned %d", req.Method, req.URL.Path, resp.StatusCode)
		var er ErrorResponse
		if json.Unmarshal(body, &er) == nil {
			if er.Message != "" {
				msg += ": " + er.Message
			} else if er.Description != "" {
				msg += ": " + er.Description
			}
		}
		return dErrors.New(statusCode(resp.StatusCode), msg)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "decode backend response")
	}
	return nil
}

func statusCode(status int) dErrors.Code {
	switch {
	case status == http.StatusNotFound:
		return dErrors.CodeNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return dErrors.CodeUnauthorized
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return dErrors.CodeTimeout
	case status == http.StatusTooManyRequests || status >= 500:
		return dErrors.CodeUnavailable
	default:
		return dErrors.CodeBadRequest
	}
}
