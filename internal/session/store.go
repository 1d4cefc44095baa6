// Package session persists the onboarding session id per profile so a
// restarted client resumes the same backend session until reset.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"verifyflow/pkg/domain"
	"verifyflow/pkg/platform/sentinel"
)

// Store maps a profile name to its current session id.
// Load returns sentinel.ErrNotFound when nothing has been saved.
type Store interface {
	Load(ctx context.Context, profile string) (domain.SessionID, error)
	Save(ctx context.Context, profile string, id domain.SessionID) error
	Delete(ctx context.Context, profile string) error
}

// MemoryStore keeps ids in process memory.
type MemoryStore struct {
	mu  sync.RWMutex
	ids map[string]domain.SessionID
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: make(map[string]domain.SessionID)}
}

func (s *MemoryStore) Load(_ context.Context, profile string) (domain.SessionID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.ids[profile]
	if !ok {
		return domain.SessionID{}, sentinel.ErrNotFound
	}
	return id, nil
}

func (s *MemoryStore) Save(_ context.Context, profile string, id domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[profile] = id
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, profile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, profile)
	return nil
}

// FileStore keeps one file per profile under a directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates a FileStore rooted at dir. The directory is created
// on first save.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("session directory is required")
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(profile string) string {
	return filepath.Join(s.dir, profileKey(profile)+".session")
}

func (s *FileStore) Load(_ context.Context, profile string) (domain.SessionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := os.ReadFile(s.path(profile))
	if errors.Is(err, os.ErrNotExist) {
		return domain.SessionID{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.SessionID{}, fmt.Errorf("read session file: %w", err)
	}
	id, err := domain.ParseSessionID(string(raw))
	if err != nil {
		// A corrupt file is treated as absent so the caller issues a new id.
		return domain.SessionID{}, fmt.Errorf("%w: %v", sentinel.ErrNotFound, err)
	}
	return id, nil
}

// Save writes through a temp file and rename so a crash never leaves a
// truncated id behind.
func (s *FileStore) Save(_ context.Context, profile string, id domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".session-*")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(id.String() + "\n"); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(profile)); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, profile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(profile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

const redisKeyPrefix = "verifyflow:session:"

// RedisStore keeps ids in Redis so several terminals can share a profile.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a RedisStore. The client lifecycle is managed by
// the caller.
func NewRedisStore(client *redis.Client) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Load(ctx context.Context, profile string) (domain.SessionID, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+profileKey(profile)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.SessionID{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.SessionID{}, fmt.Errorf("%w: redis get: %v", sentinel.ErrUnavailable, err)
	}
	id, err := domain.ParseSessionID(raw)
	if err != nil {
		return domain.SessionID{}, fmt.Errorf("%w: %v", sentinel.ErrNotFound, err)
	}
	return id, nil
}

func (s *RedisStore) Save(ctx context.Context, profile string, id domain.SessionID) error {
	if err := s.client.Set(ctx, redisKeyPrefix+profileKey(profile), id.String(), 0).Err(); err != nil {
		return fmt.Errorf("%w: redis set: %v", sentinel.ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, profile string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+profileKey(profile)).Err(); err != nil {
		return fmt.Errorf("%w: redis del: %v", sentinel.ErrUnavailable, err)
	}
	return nil
}

// profileKey keeps profile names safe for use as file names and keys.
func profileKey(profile string) string {
	profile = strings.TrimSpace(profile)
	if profile == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, profile)
}
