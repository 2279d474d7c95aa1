package tasklock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const defaultKeyPrefix = "factorflow:tasklock:"

// Release and extend only touch a key still holding our token
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisLocker is a Locker shared by every process using the same Redis
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisLocker creates a locker whose leases expire after ttl unless the
// holder is still alive to extend them
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, prefix: defaultKeyPrefix}
}

// TryAcquire implements Locker
func (l *RedisLocker) TryAcquire(ctx context.Context, key string) (Lease, error) {
	token := uuid.New().String()
	redisKey := l.prefix + key

	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	lease := &redisLease{
		locker: l,
		key:    redisKey,
		token:  token,
		stop:   make(chan struct{}),
	}
	go lease.keepAlive()
	return lease, nil
}

type redisLease struct {
	locker *RedisLocker
	key    string
	token  string
	stop   chan struct{}
	once   sync.Once
}

// keepAlive extends the TTL at a third of its length until released
func (l *redisLease) keepAlive() {
	ticker := time.NewTicker(l.locker.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.locker.ttl/3)
			n, err := extendScript.Run(ctx, l.locker.client, []string{l.key}, l.token, l.locker.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil {
				log.WithField("key", l.key).WithError(err).Warn("Failed to extend task lock")
				continue
			}
			if n == 0 {
				log.WithField("key", l.key).Warn("Task lock lost")
				return
			}
		}
	}
}

func (l *redisLease) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		close(l.stop)
		if runErr := releaseScript.Run(ctx, l.locker.client, []string{l.key}, l.token).Err(); runErr != nil {
			err = fmt.Errorf("failed to release lock: %w", runErr)
		}
	})
	return err
}
