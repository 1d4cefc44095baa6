package handler

import (
	"strings"

	"verifyflow/internal/backend"
	"verifyflow/pkg/domain"
	dErrors "verifyflow/pkg/domain-errors"
)

const maxMessageLength = 2000

// ChatRequest is the HTTP request body for POST /api/chat.
type ChatRequest struct {
	backend.ChatRequest

	parsedSessionID domain.SessionID
}

// Normalize trims the free text fields.
func (r *ChatRequest) Normalize() {
	r.Message = strings.TrimSpace(r.Message)
	r.SessionID = strings.TrimSpace(r.SessionID)
}

// Validate implements httputil.Validatable.
func (r *ChatRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Message) > maxMessageLength {
		return dErrors.New(dErrors.CodeValidation, "message is too long")
	}
	if r.Message == "" {
		return dErrors.New(dErrors.CodeValidation, "message is required")
	}
	id, err := domain.ParseSessionID(r.SessionID)
	if err != nil {
		return err
	}
	r.parsedSessionID = id
	return nil
}

// ParsedSessionID returns the validated session id.
func (r *ChatRequest) ParsedSessionID() domain.SessionID {
	return r.parsedSessionID
}
