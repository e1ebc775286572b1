package oauth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serialises token refreshes per user.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// LocalLocker is an in-process keyed mutex.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocalLocker returns a keyed mutex for a single process.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}
	return slot
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	slot := l.slot(key)
	select {
	case slot <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-slot }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

const (
	defaultRedisLockTTL   = 30 * time.Second
	defaultRedisLockRetry = 100 * time.Millisecond
	redisLockPrefix       = "study-buddy:lock:"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var errMissingRedisClient = errors.New("oauth: redis client required")

// RedisLocker serialises refreshes across processes sharing one Redis.
type RedisLocker struct {
	client redis.Cmdable
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLocker builds a SET NX PX based lock. Zero durations use defaults.
func NewRedisLocker(client redis.Cmdable, ttl, retry time.Duration) (*RedisLocker, error) {
	if client == nil {
		return nil, errMissingRedisClient
	}
	if ttl <= 0 {
		ttl = defaultRedisLockTTL
	}
	if retry <= 0 {
		retry = defaultRedisLockRetry
	}
	return &RedisLocker{client: client, ttl: ttl, retry: retry}, nil
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := redisLockPrefix + key
	token := uuid.NewString()
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		acquired, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if acquired {
			var once sync.Once
			return func() {
				once.Do(func() {
					releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
					defer cancel()
					_ = releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err()
				})
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
