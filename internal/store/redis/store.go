package redis

import (
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Store handles Redis operations for bookmark records, their change feed
// and device sessions.
type Store struct {
	client *redis.Client
	now    func() time.Time
	newID  func() string
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the clock used for created_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides record ID generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// NewStore creates a new Redis store
func NewStore(client *redis.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Client exposes the underlying connection for health checks.
func (s *Store) Client() *redis.Client {
	return s.client
}
