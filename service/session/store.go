package session

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Store 会话归属存储：按手机号或授权标识查某个用户当前归属的后端 id。
// 存储是最终一致的，结果可能过期；地址是否可达由调用方负责。
type Store interface {
	LookupPhone(ctx context.Context, phone string) (backendID string, ok bool, err error)
	LookupAuth(ctx context.Context, authID string) (backendID string, ok bool, err error)
}

// session key: relay:sess:phone:<phone> / relay:sess:auth:<auth_id>
// Value: backend id, TTL controls how long the claim is honored.
func phoneKey(phone string) string { return "relay:sess:phone:" + phone }
func authKey(authID string) string { return "relay:sess:auth:" + authID }

// RedisStore Redis 实现。
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) lookup(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "session lookup %s", key)
	}
	return val, true, nil
}

func (s *RedisStore) LookupPhone(ctx context.Context, phone string) (string, bool, error) {
	return s.lookup(ctx, phoneKey(phone))
}

func (s *RedisStore) LookupAuth(ctx context.Context, authID string) (string, bool, error) {
	return s.lookup(ctx, authKey(authID))
}

// BindPhone 后端认领某手机号的会话归属，续 TTL。
func (s *RedisStore) BindPhone(ctx context.Context, phone, backendID string) error {
	return s.rdb.Set(ctx, phoneKey(phone), backendID, s.ttl).Err()
}

// BindAuth 后端认领某授权标识的会话归属，续 TTL。
func (s *RedisStore) BindAuth(ctx context.Context, authID, backendID string) error {
	return s.rdb.Set(ctx, authKey(authID), backendID, s.ttl).Err()
}
