// Package lock 提供发票级单写锁：Redis 分布式锁与进程内按键互斥锁。
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/feeengine/internal/feeengine/domain"
	"github.com/wyfcoding/feeengine/pkg/logger"
)

const keyPrefix = "feeengine:lock:invoice:"

// unlockScript 仅删除自己持有的锁
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker 基于 SET NX PX 的分布式锁，TTL 到期自动释放以防持有者崩溃
type RedisLocker struct {
	client redis.Cmdable
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

// NewRedisLocker 创建分布式锁；wait 为获取锁的最长等待时间
func NewRedisLocker(client redis.Cmdable, ttl, wait time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, wait: wait, retry: 20 * time.Millisecond}
}

// Lock 获取发票锁，超时返回 ErrLockNotAcquired
func (l *RedisLocker) Lock(ctx context.Context, invoiceID string) (func(), error) {
	key := keyPrefix + invoiceID
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire invoice lock %s: %w", invoiceID, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: invoice %s", domain.ErrLockNotAcquired, invoiceID)
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(domain.ErrLockNotAcquired, ctx.Err())
		case <-time.After(l.retry):
		}
	}

	return func() {
		// 调用方的 ctx 可能已取消，释放锁不应因此失败
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := unlockScript.Run(relCtx, l.client, []string{key}, token).Err(); err != nil {
			logger.Warn(ctx, "release invoice lock failed", "invoice_id", invoiceID, "error", err)
		}
	}, nil
}

// LocalLocker 进程内按发票 ID 的互斥锁，用于单实例部署与测试
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker 创建进程内锁
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*entry)}
}

// Lock 获取发票锁，ctx 结束时返回 ErrLockNotAcquired
func (l *LocalLocker) Lock(ctx context.Context, invoiceID string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[invoiceID]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[invoiceID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(invoiceID, e, false)
		return nil, errors.Join(domain.ErrLockNotAcquired, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(invoiceID, e, true) })
	}, nil
}

func (l *LocalLocker) release(invoiceID string, e *entry, held bool) {
	if held {
		<-e.ch
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, invoiceID)
	}
}
