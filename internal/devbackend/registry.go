package devbackend

import (
	"maps"
	"sync"
	"time"

	"verifyflow/internal/conversation"
	"verifyflow/internal/submission"
	"verifyflow/pkg/domain"
	"verifyflow/pkg/platform/sentinel"
)

// Upload records one accepted multipart submission.
type Upload struct {
	Fields     []string
	Bytes      int64
	ReceivedAt time.Time
}

// Record is everything the backend knows about one session.
type Record struct {
	SessionID domain.SessionID
	Step      conversation.Step
	UserData  map[string]string
	Uploads   map[submission.Endpoint]Upload
	Link      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r *Record) clone() *Record {
	out := *r
	out.UserData = maps.Clone(r.UserData)
	out.Uploads = maps.Clone(r.Uploads)
	return &out
}

// Registry keeps session records in memory.
type Registry struct {
	mu      sync.RWMutex
	records map[domain.SessionID]*Record
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[domain.SessionID]*Record)}
}

// Get returns a copy of the record for id, or sentinel.ErrNotFound.
func (r *Registry) Get(id domain.SessionID) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return rec.clone(), nil
}

// Update applies fn to the record for id, creating it at StepAskName when
// missing, and returns a copy of the result.
func (r *Registry) Update(id domain.SessionID, now time.Time, fn func(*Record)) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		rec = &Record{
			SessionID: id,
			Step:      conversation.StepAskName,
			UserData:  map[string]string{},
			Uploads:   map[submission.Endpoint]Upload{},
			CreatedAt: now,
		}
		r.records[id] = rec
	}
	fn(rec)
	rec.UpdatedAt = now
	return rec.clone()
}

// Len returns the number of known sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
