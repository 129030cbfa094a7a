// Package tokenstore persists the last authentication cookies issued by a
// login, together with the username that obtained them.
package tokenstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"cadbridge/internal/onshape"
)

// Record is one saved login.
type Record struct {
	Username string            `json:"username"`
	Token    onshape.AuthToken `json:"token"`
	SavedAt  time.Time         `json:"saved_at"`
}

// Store keeps at most one Record. Current and Token never block on I/O.
type Store interface {
	Current() (Record, bool)
	Token() onshape.AuthToken
	Save(ctx context.Context, rec Record) error
	Clear(ctx context.Context) error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// Config selects and configures a backend.
type Config struct {
	Backend       string
	File          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string
}

// Open builds the configured store and loads any saved record.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendFile:
		return NewFile(cfg.File)
	case BackendMemory:
		return NewMemory(), nil
	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedis(ctx, client, cfg.RedisKey)
	default:
		return nil, fmt.Errorf("unknown token store backend %q", cfg.Backend)
	}
}

// snapshot is the in-process copy every backend serves reads from.
type snapshot struct {
	mu  sync.RWMutex
	rec Record
	ok  bool
	now func() time.Time
}

func (s *snapshot) Current() (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec, s.ok
}

func (s *snapshot) Token() onshape.AuthToken {
	rec, _ := s.Current()
	return rec.Token
}

func (s *snapshot) set(rec Record) {
	s.mu.Lock()
	s.rec, s.ok = rec, true
	s.mu.Unlock()
}

func (s *snapshot) clear() {
	s.mu.Lock()
	s.rec, s.ok = Record{}, false
	s.mu.Unlock()
}

func (s *snapshot) stamp(rec Record) (Record, error) {
	if rec.Token.IsZero() {
		return Record{}, fmt.Errorf("token record without session cookie")
	}
	if rec.SavedAt.IsZero() {
		now := time.Now
		if s.now != nil {
			now = s.now
		}
		rec.SavedAt = now().UTC()
	}
	return rec, nil
}

// Memory keeps the record in process memory only.
type Memory struct {
	snapshot
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Save(ctx context.Context, rec Record) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	rec, err := m.stamp(rec)
	if err != nil {
		return err
	}
	m.set(rec)
	return nil
}

func (m *Memory) Clear(ctx context.Context) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	m.clear()
	return nil
}

var _ Store = (*Memory)(nil)
