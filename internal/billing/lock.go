package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"tunnel-billing/internal/apperr"
)

// Locker serializes work on a key across processes.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type RedisLocker struct {
	rs  *redsync.Redsync
	ttl time.Duration
	log logrus.FieldLogger
}

func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration, log logrus.FieldLogger) *RedisLocker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RedisLocker{
		rs:  redsync.New(goredis.NewPool(rdb)),
		ttl: ttl,
		log: log,
	}
}

// Lock makes a single attempt. A held lock is reported as a Conflict.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	mutex := l.rs.NewMutex(
		key,
		redsync.WithExpiry(l.ttl),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		var redisErr *redsync.RedisError
		if errors.As(err, &redisErr) || ctx.Err() != nil {
			return nil, apperr.Storage("Error while acquiring lock", err)
		}
		return nil, apperr.Conflict("user", "Another plan change is in progress")
	}

	return func() {
		if _, err := mutex.UnlockContext(context.WithoutCancel(ctx)); err != nil {
			l.log.WithError(err).WithField("key", key).Warn("failed to release lock")
		}
	}, nil
}

func assignPlanLockKey(userID uint) string {
	return fmt.Sprintf("assign-plan:user:%d", userID)
}
