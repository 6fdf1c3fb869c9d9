package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store against Redis for deployments that want
// sessions to survive a process restart. The rest of the pipeline is
// agnostic to the storage medium.
//
// Each session is a JSON blob under <prefix><id>. A sorted set under
// <prefix>index, scored by UpdatedAt in milliseconds, orders sessions for
// garbage collection. The one-shot persistence latch is a SETNX key so the
// test-and-set stays atomic across processes.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration

	mu     sync.Mutex
	closed bool

	now func() time.Time
}

// RedisConfig holds Redis connection settings for the session store.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix (default "pathwise:session:").
	Prefix string
	// TTL is a hard expiry on session keys (0 = rely on Cleanup only).
	TTL time.Duration
}

// NewRedisStore connects to Redis and returns a session store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisStoreFromClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewRedisStoreFromClient wraps an existing client. Used by tests.
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "pathwise:session:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *RedisStore) key(id string) string      { return r.prefix + id }
func (r *RedisStore) latchKey(id string) string { return r.prefix + id + ":persisted" }
func (r *RedisStore) indexKey() string          { return r.prefix + "index" }

// Create returns a fresh session in the queued state.
func (r *RedisStore) Create(ctx context.Context) (*ChatSession, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	now := r.now()
	sess := &ChatSession{
		ID:        uuid.New().String(),
		StartedAt: now,
		UpdatedAt: now,
		Status:    StatusQueued,
	}
	if err := r.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get retrieves a session by ID.
func (r *RedisStore) Get(ctx context.Context, sessionID string) (*ChatSession, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	return r.load(ctx, sessionID)
}

// SetRunning marks generation as started.
func (r *RedisStore) SetRunning(ctx context.Context, sessionID string) error {
	return r.mutate(ctx, sessionID, func(s *ChatSession) {
		s.Status = StatusRunning
	})
}

// AppendPartial concatenates a chunk and flips the status to partial.
func (r *RedisStore) AppendPartial(ctx context.Context, sessionID, chunk string) error {
	return r.mutate(ctx, sessionID, func(s *ChatSession) {
		s.Text += chunk
		s.Status = StatusPartial
	})
}

// SetDone finalizes the session successfully.
func (r *RedisStore) SetDone(ctx context.Context, sessionID string) error {
	return r.mutate(ctx, sessionID, func(s *ChatSession) {
		s.Status = StatusDone
	})
}

// SetError finalizes the session with a diagnostic message.
func (r *RedisStore) SetError(ctx context.Context, sessionID, message string) error {
	return r.mutate(ctx, sessionID, func(s *ChatSession) {
		s.Status = StatusError
		s.Error = message
	})
}

// MarkPersisted wins the latch via SETNX, then mirrors the flag into the blob.
func (r *RedisStore) MarkPersisted(ctx context.Context, sessionID string) (bool, error) {
	if err := r.checkOpen(); err != nil {
		return false, err
	}

	if _, err := r.load(ctx, sessionID); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}

	won, err := r.client.SetNX(ctx, r.latchKey(sessionID), "1", r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire persistence latch: %w", err)
	}
	if !won {
		return false, nil
	}

	// Best-effort mirror; the latch key is authoritative.
	_ = r.mutate(ctx, sessionID, func(s *ChatSession) {
		s.AssessmentPersisted = true
	})
	return true, nil
}

// Cleanup removes stale sessions via the UpdatedAt index, then trims to maxEntries.
func (r *RedisStore) Cleanup(ctx context.Context, maxAge time.Duration, maxEntries int) (int, error) {
	if err := r.checkOpen(); err != nil {
		return 0, err
	}

	removed := 0
	cutoff := r.now().Add(-maxAge).UnixMilli()

	stale, err := r.client.ZRangeByScore(ctx, r.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan stale sessions: %w", err)
	}
	for _, id := range stale {
		if err := r.remove(ctx, id); err != nil {
			return removed, err
		}
		removed++
	}

	if maxEntries > 0 {
		total, err := r.client.ZCard(ctx, r.indexKey()).Result()
		if err != nil {
			return removed, fmt.Errorf("count sessions: %w", err)
		}
		if excess := total - int64(maxEntries); excess > 0 {
			oldest, err := r.client.ZRange(ctx, r.indexKey(), 0, excess-1).Result()
			if err != nil {
				return removed, fmt.Errorf("scan oldest sessions: %w", err)
			}
			for _, id := range oldest {
				if err := r.remove(ctx, id); err != nil {
					return removed, err
				}
				removed++
			}
		}
	}

	return removed, nil
}

// Len reports the number of indexed sessions.
func (r *RedisStore) Len(ctx context.Context) (int, error) {
	if err := r.checkOpen(); err != nil {
		return 0, err
	}
	n, err := r.client.ZCard(ctx, r.indexKey()).Result()
	return int(n), err
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.client.Close()
}

func (r *RedisStore) checkOpen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrStoreClosed
	}
	return nil
}

func (r *RedisStore) load(ctx context.Context, sessionID string) (*ChatSession, error) {
	data, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var sess ChatSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (r *RedisStore) save(ctx context.Context, sess *ChatSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.client.Set(ctx, r.key(sess.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	err = r.client.ZAdd(ctx, r.indexKey(), redis.Z{
		Score:  float64(sess.UpdatedAt.UnixMilli()),
		Member: sess.ID,
	}).Err()
	if err != nil {
		return fmt.Errorf("index session: %w", err)
	}
	return nil
}

func (r *RedisStore) remove(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.key(sessionID), r.latchKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := r.client.ZRem(ctx, r.indexKey(), sessionID).Err(); err != nil {
		return fmt.Errorf("unindex session: %w", err)
	}
	return nil
}

// mutate is read-modify-write. Only one generation task ever targets a given
// session id, so the lack of optimistic locking here matches the memory store.
func (r *RedisStore) mutate(ctx context.Context, sessionID string, fn func(*ChatSession)) error {
	if err := r.checkOpen(); err != nil {
		return err
	}

	sess, err := r.load(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		return nil
	}

	fn(sess)
	now := r.now()
	if now.After(sess.UpdatedAt) {
		sess.UpdatedAt = now
	}
	return r.save(ctx, sess)
}
