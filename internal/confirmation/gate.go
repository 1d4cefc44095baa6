// Package confirmation is the last gate of the flow: it fetches what the
// backend collected for the session and holds the flow until the user
// confirms or asks to edit.
package confirmation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"verifyflow/pkg/domain"
	dErrors "verifyflow/pkg/domain-errors"
	"verifyflow/pkg/platform/sentinel"
)

// NotAvailable is displayed for missing or placeholder values.
const NotAvailable = "Not available"

// placeholders are backend values meaning "nothing collected".
var placeholders = []string{"not available", "not detected"}

// Field is one expected entry of the snapshot.
type Field struct {
	Key   string
	Label string
	// Aliases are older backend keys accepted for the same field.
	Aliases []string
}

// Fields are rendered in this order.
var Fields = []Field{
	{Key: "name", Label: "Full Name"},
	{Key: "father_name", Label: "Father's Name"},
	{Key: "document_number", Label: "Identity Document Number", Aliases: []string{"cnic_number"}},
	{Key: "dob", Label: "Date of Birth"},
	{Key: "email", Label: "Email Address"},
	{Key: "phone", Label: "Phone Number"},
	{Key: "account_type", Label: "Account Type"},
}

// Fetcher reads the aggregated data. It is implemented by backend.Client.
type Fetcher interface {
	CollectedData(ctx context.Context, sessionID domain.SessionID) (map[string]string, error)
}

// Snapshot is the server data as fetched once for one confirmation attempt.
type Snapshot struct {
	SessionID domain.SessionID
	Values    map[string]string
	FetchedAt time.Time
}

// FieldView is one rendered row.
type FieldView struct {
	Key       string
	Label     string
	Value     string
	Available bool
}

// Render maps a snapshot onto the fixed field list.
func Render(s *Snapshot) []FieldView {
	views := make([]FieldView, 0, len(Fields))
	for _, f := range Fields {
		raw := ""
		if s != nil {
			raw = lookup(s.Values, f)
		}
		v := FieldView{Key: f.Key, Label: f.Label, Value: NotAvailable}
		if isPresent(raw) {
			v.Value = strings.TrimSpace(raw)
			v.Available = true
		}
		views = append(views, v)
	}
	return views
}

func lookup(values map[string]string, f Field) string {
	if v, ok := values[f.Key]; ok {
		return v
	}
	for _, alias := range f.Aliases {
		if v, ok := values[alias]; ok {
			return v
		}
	}
	return ""
}

func isPresent(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return false
	}
	for _, p := range placeholders {
		if v == p {
			return false
		}
	}
	return true
}

// FetchError is an aggregation fetch failure. The flow waits at the
// confirmation boundary until the user retries.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch collected data: %v", e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{dErrors.New(dErrors.CodeUnavailable, "collected data unavailable"), e.Err}
}

// UserMessage is shown in place of the snapshot.
func (e *FetchError) UserMessage() string {
	return "We couldn't load your details. Please try again."
}

// ErrNoSnapshot is returned by Confirm before a snapshot has been fetched.
var ErrNoSnapshot = fmt.Errorf("%w: nothing to confirm", sentinel.ErrInvalidState)

// Gate holds at most one snapshot.
type Gate struct {
	fetcher Fetcher
	logger  *slog.Logger
	now     func() time.Time

	mu         sync.Mutex
	snapshot   *Snapshot
	confirmed  bool
	generation uint64
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// New creates a Gate.
func New(fetcher Fetcher, opts ...Option) (*Gate, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	g := &Gate{
		fetcher: fetcher,
		logger:  slog.New(slog.DiscardHandler),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Fetch replaces the snapshot with fresh data. A fetch overtaken by Edit or
// Reset is discarded and reported as sentinel.ErrInvalidState.
func (g *Gate) Fetch(ctx context.Context, sessionID domain.SessionID) (*Snapshot, error) {
	g.mu.Lock()
	gen := g.generation
	g.snapshot = nil
	g.confirmed = false
	g.mu.Unlock()

	values, err := g.fetcher.CollectedData(ctx, sessionID)
	if err != nil {
		g.logger.WarnContext(ctx, "collected data fetch failed",
			"session_id", sessionID.String(),
			"error", err,
		)
		return nil, &FetchError{Err: err}
	}

	snap := &Snapshot{SessionID: sessionID, Values: maps.Clone(values), FetchedAt: g.now()}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.generation != gen {
		return nil, fmt.Errorf("%w: snapshot discarded", sentinel.ErrInvalidState)
	}
	g.snapshot = snap
	return snap, nil
}

// Snapshot returns the current snapshot, or nil.
func (g *Gate) Snapshot() *Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshot
}

// Confirm accepts the current snapshot.
func (g *Gate) Confirm() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.snapshot == nil {
		return ErrNoSnapshot
	}
	g.confirmed = true
	return nil
}

// Confirmed reports whether Confirm succeeded for the current snapshot.
func (g *Gate) Confirmed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.confirmed
}

// Edit discards the snapshot.
func (g *Gate) Edit() {
	g.Reset()
}

// Reset discards the snapshot and invalidates any fetch in flight.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.generation++
	g.snapshot = nil
	g.confirmed = false
}
