package convstore

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// InstanceLock refuses a second Store on the same base directory, per
// spec.md §9's "Global State" note: the original never implemented this.
type InstanceLock interface {
	Acquire(ctx context.Context) error
	Release() error
}

// fileInstanceLock is the default backend: an advisory lock file under the
// store's base directory, held for the process lifetime.
type fileInstanceLock struct {
	flock *flock.Flock
}

// NewFileInstanceLock builds a lock file at baseDir/.lock.
func NewFileInstanceLock(baseDir string) InstanceLock {
	return &fileInstanceLock{flock: flock.New(filepath.Join(baseDir, ".lock"))}
}

func (l *fileInstanceLock) Acquire(ctx context.Context) error {
	locked, err := l.flock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquire store lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("conversation store directory already locked by another instance")
	}
	return nil
}

func (l *fileInstanceLock) Release() error {
	return l.flock.Unlock()
}

// redisInstanceLock is the distributed alternative for stores shared across
// hosts: a single SETNX key scoped to the base directory, with a TTL so a
// crashed holder does not wedge the directory forever.
type redisInstanceLock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// NewRedisInstanceLock builds a distributed lock keyed by baseDir.
func NewRedisInstanceLock(client *redis.Client, baseDir string, ttl time.Duration) InstanceLock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &redisInstanceLock{
		client: client,
		key:    "toolmind:convstore:lock:" + baseDir,
		token:  uuid.New().String(),
		ttl:    ttl,
	}
}

func (l *redisInstanceLock) Acquire(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire redis store lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("conversation store directory already locked by another instance")
	}
	return nil
}

func (l *redisInstanceLock) Release() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`)
	return script.Run(ctx, l.client, []string{l.key}, l.token).Err()
}
