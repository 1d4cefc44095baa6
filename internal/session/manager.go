package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"verifyflow/pkg/domain"
	"verifyflow/pkg/platform/sentinel"
)

// Manager hands out the current session id for one profile. The id is loaded
// or created on first use and replaced only by Rotate.
type Manager struct {
	store   Store
	profile string
	logger  *slog.Logger
	newID   func() domain.SessionID

	mu      sync.Mutex
	current domain.SessionID
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithIDGenerator overrides session id generation. Used by tests.
func WithIDGenerator(fn func() domain.SessionID) Option {
	return func(m *Manager) {
		m.newID = fn
	}
}

// NewManager creates a Manager for profile backed by store.
func NewManager(store Store, profile string, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	m := &Manager{
		store:   store,
		profile: profile,
		logger:  slog.New(slog.DiscardHandler),
		newID:   domain.NewSessionID,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Current returns the session id, loading or creating it on first call.
func (m *Manager) Current(ctx context.Context) (domain.SessionID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current.IsNil() {
		return m.current, nil
	}

	id, err := m.store.Load(ctx, m.profile)
	switch {
	case err == nil:
		m.current = id
		m.logger.DebugContext(ctx, "session resumed", "profile", m.profile, "session_id", id.String())
		return id, nil
	case errors.Is(err, sentinel.ErrNotFound):
	default:
		return domain.SessionID{}, fmt.Errorf("load session: %w", err)
	}

	id = m.newID()
	if err := m.store.Save(ctx, m.profile, id); err != nil {
		return domain.SessionID{}, fmt.Errorf("save session: %w", err)
	}
	m.current = id
	m.logger.InfoContext(ctx, "session created", "profile", m.profile, "session_id", id.String())
	return id, nil
}

// Rotate replaces the session id with a fresh one. The new id is always
// different from the previous one and becomes current even when the store
// rejects it; in that case the id is returned together with the save error,
// and the store keeps the previous id until the next successful save.
func (m *Manager) Rotate(ctx context.Context) (domain.SessionID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.current
	id := m.newID()
	for id == prev {
		id = m.newID()
	}
	m.current = id
	if err := m.store.Save(ctx, m.profile, id); err != nil {
		m.logger.WarnContext(ctx, "rotated session not persisted",
			"profile", m.profile,
			"session_id", id.String(),
			"stale_session_id", prev.String(),
			"error", err,
		)
		return id, fmt.Errorf("save session: %w", err)
	}
	m.logger.InfoContext(ctx, "session rotated", "profile", m.profile, "previous", prev.String(), "session_id", id.String())
	return id, nil
}
