package lock

import (
	"context"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/agentstation/mirrorsync/pkg/errors"
	"github.com/agentstation/mirrorsync/pkg/logging"
)

// Redis lock defaults.
const (
	DefaultTTL        = 30 * time.Second
	DefaultRetryEvery = 100 * time.Millisecond
	DefaultPrefix     = "mirrorsync:lock:"
)

// ErrNotObtained is returned when a lock stays taken until the wait ends.
var ErrNotObtained = redislock.ErrNotObtained

// Redis is a Locker backed by Redis.
type Redis struct {
	client *redislock.Client
	ttl    time.Duration
	retry  time.Duration
	prefix string
}

var _ Locker = (*Redis)(nil)

// RedisOption configures a Redis locker.
type RedisOption func(*Redis)

// WithTTL sets how long a lock outlives its holder. A held lock is
// refreshed every half TTL until released.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithRetryEvery sets the polling interval while waiting for a taken lock.
func WithRetryEvery(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.retry = d
		}
	}
}

// WithPrefix sets the key namespace.
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// NewRedis creates a locker on an existing Redis client.
func NewRedis(rdb redislock.RedisClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client: redislock.New(rdb),
		ttl:    DefaultTTL,
		retry:  DefaultRetryEvery,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dial connects to the Redis server at url (redis://host:port/db) and
// returns a locker plus a function closing the connection.
func Dial(ctx context.Context, url string, opts ...RedisOption) (*Redis, func() error, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, errors.NewConfigurationError("lock", "invalid redis url", err)
	}
	rdb := redis.NewClient(ropts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, errors.NewTransportError("ping", ropts.Addr, err)
	}
	return NewRedis(rdb, opts...), rdb.Close, nil
}

// Obtain implements Locker. It polls until the lock is free, ctx ends or the
// TTL elapses. The lock is kept alive until the returned Release is called.
func (r *Redis) Obtain(ctx context.Context, key string) (Release, error) {
	l, err := r.client.Obtain(ctx, r.prefix+key, r.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(r.retry),
	})
	if err != nil {
		return nil, err
	}
	logging.Ctx(ctx).Debug().Str("key", key).Msg("Obtained distributed lock")

	stop, done := make(chan struct{}), make(chan struct{})
	go r.keepAlive(context.WithoutCancel(ctx), l, key, stop, done)

	var once sync.Once
	return func(ctx context.Context) error {
		once.Do(func() {
			close(stop)
			<-done
		})
		if err := l.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return err
		}
		return nil
	}, nil
}

// keepAlive extends the lock's TTL every half TTL until stop closes or the
// lock is lost.
func (r *Redis) keepAlive(ctx context.Context, l *redislock.Lock, key string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			err := l.Refresh(ctx, r.ttl, nil)
			if err == nil {
				continue
			}
			log := logging.Ctx(ctx).Warn().Err(err).Str("key", key)
			if errors.Is(err, redislock.ErrNotObtained) {
				log.Msg("Distributed lock lost before release")
				return
			}
			log.Msg("Failed to refresh distributed lock")
		}
	}
}
