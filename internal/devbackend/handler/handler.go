package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"verifyflow/internal/backend"
	"verifyflow/internal/devbackend"
	"verifyflow/internal/submission"
	"verifyflow/pkg/domain"
	dErrors "verifyflow/pkg/domain-errors"
	audit "verifyflow/pkg/platform/audit"
	"verifyflow/pkg/platform/httputil"
	"verifyflow/pkg/requestcontext"
)

const maxUploadBytes = 64 << 20

// Service defines the backend operations the handler exposes.
type Service interface {
	Chat(ctx context.Context, sessionID domain.SessionID, req backend.ChatRequest) (*backend.ChatResponse, error)
	Receive(ctx context.Context, sessionID domain.SessionID, endpoint submission.Endpoint, files []devbackend.File) (string, error)
	CollectedData(ctx context.Context, sessionID domain.SessionID) (map[string]string, error)
	VerifyLink(ctx context.Context, token string) (domain.SessionID, error)
	AuditTrail(ctx context.Context, sessionID domain.SessionID) ([]audit.Event, error)
}

// Handler wires the backend endpoints to the service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts the backend endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post(backend.PathChat, h.HandleChat)
	r.Get(backend.PathCollectedData, h.HandleCollectedData)
	for _, endpoint := range []submission.Endpoint{
		submission.EndpointDocuments,
		submission.EndpointFace,
		submission.EndpointFingerprint,
	} {
		r.Post(backend.PathUploadPrefix+string(endpoint), h.HandleUpload(endpoint))
	}
	r.Get(backend.PathVerify+"{token}", h.HandleVerify)
	r.Get("/api/audit", h.HandleAuditTrail)
}

// HandleChat handles POST /api/chat.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[ChatRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	resp, err := h.service.Chat(ctx, req.ParsedSessionID(), req.ChatRequest)
	if err != nil {
		h.logger.ErrorContext(ctx, "chat failed",
			"request_id", requestID,
			"session_id", req.SessionID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleUpload returns the handler for one multipart upload endpoint.
func (h *Handler) HandleUpload(endpoint submission.Endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := requestcontext.RequestID(ctx)

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "upload is too large"))
				return
			}
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid multipart body"))
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		sessionID, err := domain.ParseSessionID(r.FormValue(backend.SessionField))
		if err != nil {
			httputil.WriteError(w, err)
			return
		}

		var files []devbackend.File
		for field, headers := range r.MultipartForm.File {
			for _, fh := range headers {
				files = append(files, devbackend.File{
					Field:       field,
					Size:        fh.Size,
					ContentType: fh.Header.Get("Content-Type"),
				})
			}
		}

		msg, err := h.service.Receive(ctx, sessionID, endpoint, files)
		if err != nil {
			h.logger.WarnContext(ctx, "upload rejected",
				"request_id", requestID,
				"session_id", sessionID.String(),
				"endpoint", string(endpoint),
				"error", err,
			)
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, backend.Ack{Success: true, Message: msg})
	}
}

// HandleCollectedData handles GET /api/chat/collected-data.
func (h *Handler) HandleCollectedData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, err := domain.ParseSessionID(r.URL.Query().Get(backend.SessionField))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	data, err := h.service.CollectedData(ctx, sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, data)
}

// HandleVerify handles GET /verify/{token}.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, err := h.service.VerifyLink(ctx, chi.URLParam(r, "token"))
	if err != nil {
		h.logger.WarnContext(ctx, "verification link rejected",
			"request_id", requestcontext.RequestID(ctx),
			"client_ip", requestcontext.ClientIP(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, VerifyResponse{Status: "verified", SessionID: sessionID.String()})
}

// HandleAuditTrail handles GET /api/audit?session_id=.
func (h *Handler) HandleAuditTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw := r.URL.Query().Get(backend.SessionField)
	sessionID, err := domain.ParseSessionID(raw)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	events, err := h.service.AuditTrail(ctx, sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromEvents(sessionID.String(), events))
}
