package service

import (
	"context"
	"exam_eval_backend/internal/model"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RunLease 每个集合同一时刻只允许一个评阅任务
type RunLease interface {
	Acquire(ctx context.Context, collectionID string) (bool, error)
	// Extend 续租，租约已不属于本实例时返回 false
	Extend(ctx context.Context, collectionID string) (bool, error)
	Release(ctx context.Context, collectionID string) error
}

// MemoryLease 单进程部署使用
type MemoryLease struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryLease() *MemoryLease {
	return &MemoryLease{held: make(map[string]struct{})}
}

func (l *MemoryLease) Acquire(ctx context.Context, collectionID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[collectionID]; ok {
		return false, nil
	}
	l.held[collectionID] = struct{}{}
	return true, nil
}

// Extend 内存租约没有过期时间，只确认仍被持有
func (l *MemoryLease) Extend(ctx context.Context, collectionID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[collectionID]
	return ok, nil
}

func (l *MemoryLease) Release(ctx context.Context, collectionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, collectionID)
	return nil
}

// 仅当值仍为本实例写入的令牌时才删除，避免误删 TTL 过期后他人获得的租约
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisLease 多实例部署使用，TTL 兜底进程崩溃后遗留的租约
type RedisLease struct {
	Client *redis.Client
	TTL    time.Duration

	mu     sync.Mutex
	tokens map[string]string
}

func NewRedisLease(client *redis.Client, ttl time.Duration) *RedisLease {
	return &RedisLease{Client: client, TTL: ttl, tokens: make(map[string]string)}
}

func leaseKey(collectionID string) string {
	return "exam_eval:run_lease:" + collectionID
}

func (l *RedisLease) Acquire(ctx context.Context, collectionID string) (bool, error) {
	token := model.GenerateUUID()
	ok, err := l.Client.SetNX(ctx, leaseKey(collectionID), token, l.TTL).Result()
	if err != nil || !ok {
		return false, err
	}
	l.mu.Lock()
	l.tokens[collectionID] = token
	l.mu.Unlock()
	return true, nil
}

func (l *RedisLease) Extend(ctx context.Context, collectionID string) (bool, error) {
	l.mu.Lock()
	token, ok := l.tokens[collectionID]
	l.mu.Unlock()
	if !ok {
		return false, nil
	}
	n, err := extendScript.Run(ctx, l.Client, []string{leaseKey(collectionID)}, token, l.TTL.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RenewInterval 运行期间按 TTL 的三分之一续租
func (l *RedisLease) RenewInterval() time.Duration {
	return l.TTL / 3
}

func (l *RedisLease) Release(ctx context.Context, collectionID string) error {
	l.mu.Lock()
	token, ok := l.tokens[collectionID]
	delete(l.tokens, collectionID)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	return releaseScript.Run(ctx, l.Client, []string{leaseKey(collectionID)}, token).Err()
}
