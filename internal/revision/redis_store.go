// Package revision keeps per-project change counters so clients can tell
// whether a project moved since they last looked without loading it.
package revision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Stream names one independently counted kind of change.
type Stream string

const (
	StreamDocument Stream = "document"
	StreamChat     Stream = "chat"
)

// Revisions is the pair of counters reported for a project.
type Revisions struct {
	Document int64 `json:"document"`
	Chat     int64 `json:"chat"`
}

type Counter interface {
	Bump(ctx context.Context, projectID string, stream Stream) (int64, error)
	Current(ctx context.Context, projectID string) (Revisions, error)
}

// RedisStore keeps counters in Redis under revision:<project>:<stream>.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "revision:"}
}

func (s *RedisStore) key(projectID string, stream Stream) string {
	return s.prefix + projectID + ":" + string(stream)
}

// Bump increments the stream counter and returns the new value.
func (s *RedisStore) Bump(ctx context.Context, projectID string, stream Stream) (int64, error) {
	n, err := s.client.Incr(ctx, s.key(projectID, stream)).Result()
	if err != nil {
		return 0, fmt.Errorf("bump %s revision: %w", stream, err)
	}
	return n, nil
}

// Current reads both counters; a project never bumped is at zero.
func (s *RedisStore) Current(ctx context.Context, projectID string) (Revisions, error) {
	values, err := s.client.MGet(ctx, s.key(projectID, StreamDocument), s.key(projectID, StreamChat)).Result()
	if err != nil {
		return Revisions{}, fmt.Errorf("read revisions: %w", err)
	}
	var out Revisions
	for i, target := range []*int64{&out.Document, &out.Chat} {
		if values[i] == nil {
			continue
		}
		raw, ok := values[i].(string)
		if !ok {
			return Revisions{}, fmt.Errorf("read revisions: unexpected %T", values[i])
		}
		if _, err := fmt.Sscan(raw, target); err != nil {
			return Revisions{}, fmt.Errorf("parse revision %q: %w", raw, err)
		}
	}
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// MemoryCounter is the single-process Counter used when Redis is not
// configured.
type MemoryCounter struct {
	mu     sync.Mutex
	values map[string]Revisions
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{values: map[string]Revisions{}}
}

func (m *MemoryCounter) Bump(_ context.Context, projectID string, stream Stream) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.values[projectID]
	var n int64
	switch stream {
	case StreamDocument:
		current.Document++
		n = current.Document
	case StreamChat:
		current.Chat++
		n = current.Chat
	default:
		return 0, errors.New("unknown revision stream " + string(stream))
	}
	m.values[projectID] = current
	return n, nil
}

func (m *MemoryCounter) Current(_ context.Context, projectID string) (Revisions, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[projectID], nil
}
