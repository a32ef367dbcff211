package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/ronitlabs/talktime/internal/session/domain"
)

const (
	keySlot = "session:%s"
	keyLock = "lock:%s"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisStore keeps heartbeat slots in Redis under a sliding TTL.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) domain.Store {
	return &RedisStore{client: client}
}

func slotKey(email string) string { return fmt.Sprintf(keySlot, email) }

func (s *RedisStore) PutSlot(ctx context.Context, email string, slot domain.Slot, ttl time.Duration) error {
	payload, err := json.Marshal(slot)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, slotKey(email), payload, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) GetSlot(ctx context.Context, email string) (*domain.Slot, error) {
	raw, err := s.client.Get(ctx, slotKey(email)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	var slot domain.Slot
	if err := json.Unmarshal(raw, &slot); err != nil {
		// A corrupt slot is unrecoverable; treat it as absent so the
		// client re-checks-in.
		return nil, nil
	}
	return &slot, nil
}

func (s *RedisStore) DeleteSlot(ctx context.Context, email string) error {
	if err := s.client.Del(ctx, slotKey(email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) RefreshTTL(ctx context.Context, email string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, slotKey(email), ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// RedisLocker is the per-user advisory lock around heartbeat processing.
// Release only deletes the key when the token still matches, so an expired
// lock taken over by another request is never released out from under it.
type RedisLocker struct {
	client *redis.Client
	script *redis.Script
}

func NewRedisLocker(client *redis.Client) domain.Locker {
	return &RedisLocker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

func (l *RedisLocker) TryLock(ctx context.Context, email string, ttl time.Duration) (string, bool, error) {
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, fmt.Sprintf(keyLock, email), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return token, ok, nil
}

func (l *RedisLocker) Release(ctx context.Context, email, token string) error {
	if token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{fmt.Sprintf(keyLock, email)}, token).Err()
}
