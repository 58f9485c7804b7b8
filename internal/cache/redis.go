package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nexevent/participation-backend/internal/pkg/logger"
)

type redisStore struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string
}

// NewRedisStore connects to REDIS_ADDR and returns the production cache
// store. CACHE_PREFIX namespaces the key hierarchy when several deployments
// share one Redis.
func NewRedisStore(log *logger.Logger) (Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	prefix := strings.TrimSpace(os.Getenv("CACHE_PREFIX"))

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisStore{
		log:    log.With("component", "RedisCacheStore"),
		rdb:    rdb,
		prefix: prefix,
	}, nil
}

// NewRedisStoreWithClient wraps an existing client, used by tests.
func NewRedisStoreWithClient(log *logger.Logger, rdb *goredis.Client, prefix string) Store {
	return &redisStore{log: log, rdb: rdb, prefix: prefix}
}

func (s *redisStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + "/" + k
}

func (s *redisStore) stripPrefix(k string) string {
	if s.prefix == "" {
		return k
	}
	return strings.TrimPrefix(k, s.prefix+"/")
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrMiss
	}
	return raw, err
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte) error {
	return s.rdb.Set(ctx, s.key(key), value, 0).Err()
}

func (s *redisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, s.key(k))
	}
	return s.rdb.Del(ctx, full...).Err()
}

func (s *redisStore) Update(ctx context.Context, key string, fn func(old []byte) ([]byte, error)) error {
	full := s.key(key)
	err := s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		old, err := tx.Get(ctx, full).Bytes()
		if errors.Is(err, goredis.Nil) {
			old = nil
		} else if err != nil {
			return err
		}
		next, err := fn(old)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, full, next, 0)
			return nil
		})
		return err
	}, full)
	if errors.Is(err, goredis.TxFailedErr) {
		return ErrConflict
	}
	return err
}

func (s *redisStore) AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	info, err := json.Marshal(LockInfo{Owner: owner, AcquiredAt: time.Now().UTC()})
	if err != nil {
		return false, err
	}
	return s.rdb.SetNX(ctx, s.key(key), info, ttl).Result()
}

// releaseScript deletes the lock only when the stored owner matches.
var releaseScript = goredis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then return 0 end
local ok, info = pcall(cjson.decode, raw)
if ok and info.owner == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (s *redisStore) ReleaseLock(ctx context.Context, key, owner string) error {
	return releaseScript.Run(ctx, s.rdb, []string{s.key(key)}, owner).Err()
}

func (s *redisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	iter := s.rdb.Scan(ctx, 0, s.key(prefix)+"*", 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, s.stripPrefix(iter.Val()))
	}
	return out, iter.Err()
}
