package credential

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	sessionKey = "evdash:session"

	defaultDialTimeout  = 5 * time.Second
	defaultReadTimeout  = 3 * time.Second
	defaultWriteTimeout = 3 * time.Second
	defaultOpTimeout    = 3 * time.Second
)

// RedisStore keeps the credential under a single Redis key whose TTL tracks
// the token expiry.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewRedisStore connects to Redis, validates the connection with PING, and
// returns a redis-backed store.
func NewRedisStore(addr, password string, logger *zap.Logger) (*RedisStore, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("credential: redis addr is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  defaultDialTimeout,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{client: client, logger: logger, now: time.Now}, nil
}

// Load reads and validates the persisted credential.
func (s *RedisStore) Load() (Credential, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, sessionKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("failed to read session from redis", zap.Error(err))
		}
		return Credential{}, false
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("discarding malformed redis session record", zap.Error(err))
		s.Clear()
		return Credential{}, false
	}

	cred, err := rec.credential()
	if err != nil {
		s.logger.Warn("discarding invalid redis session record", zap.Error(err))
		s.Clear()
		return Credential{}, false
	}

	if !cred.Valid(s.now()) {
		s.Clear()
		return Credential{}, false
	}

	return cred, true
}

// Save writes the credential with a TTL matching the token expiry.
func (s *RedisStore) Save(cred Credential) {
	data, err := json.Marshal(cred)
	if err != nil {
		s.logger.Warn("failed to encode session record", zap.Error(err))
		return
	}

	ttl := time.Until(cred.ExpiresAt)
	if ttl <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()

	if err := s.client.Set(ctx, sessionKey, data, ttl).Err(); err != nil {
		s.logger.Warn("failed to persist session to redis", zap.Error(err))
	}
}

// Clear removes the persisted record.
func (s *RedisStore) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()

	if err := s.client.Del(ctx, sessionKey).Err(); err != nil {
		s.logger.Warn("failed to clear redis session", zap.Error(err))
	}
}

// Close releases the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
