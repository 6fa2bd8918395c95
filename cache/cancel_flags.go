package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// CancelRegistry 按任务ID存放协作式取消标记
type CancelRegistry interface {
	Set(ctx context.Context, taskID string) error
	IsSet(ctx context.Context, taskID string) (bool, error)
	Clear(ctx context.Context, taskID string) error
}

// memoryCancelRegistry 进程内实现
type memoryCancelRegistry struct {
	mu    sync.RWMutex
	flags map[string]struct{}
}

// NewMemoryCancelRegistry 创建内存取消标记表
func NewMemoryCancelRegistry() CancelRegistry {
	return &memoryCancelRegistry{flags: make(map[string]struct{})}
}

func (r *memoryCancelRegistry) Set(_ context.Context, taskID string) error {
	r.mu.Lock()
	r.flags[taskID] = struct{}{}
	r.mu.Unlock()
	return nil
}

func (r *memoryCancelRegistry) IsSet(_ context.Context, taskID string) (bool, error) {
	r.mu.RLock()
	_, ok := r.flags[taskID]
	r.mu.RUnlock()
	return ok, nil
}

func (r *memoryCancelRegistry) Clear(_ context.Context, taskID string) error {
	r.mu.Lock()
	delete(r.flags, taskID)
	r.mu.Unlock()
	return nil
}

// cancelFlagTTL 标记的最长保留时间，防止任务异常退出后遗留
const cancelFlagTTL = 24 * time.Hour

// redisCancelRegistry Redis 实现，多实例部署时共享取消标记
type redisCancelRegistry struct {
	client *redis.Client
}

// NewRedisCancelRegistry 创建 Redis 取消标记表
func NewRedisCancelRegistry(client *redis.Client) CancelRegistry {
	return &redisCancelRegistry{client: client}
}

// GetCancelKey 生成取消标记的 Redis 键
func GetCancelKey(taskID string) string {
	return fmt.Sprintf("vksaver:cancel:%s", taskID)
}

func (r *redisCancelRegistry) Set(ctx context.Context, taskID string) error {
	if err := r.client.Set(ctx, GetCancelKey(taskID), "1", cancelFlagTTL).Err(); err != nil {
		return fmt.Errorf("failed to set cancel flag: %w", err)
	}
	return nil
}

func (r *redisCancelRegistry) IsSet(ctx context.Context, taskID string) (bool, error) {
	n, err := r.client.Exists(ctx, GetCancelKey(taskID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read cancel flag: %w", err)
	}
	return n > 0, nil
}

func (r *redisCancelRegistry) Clear(ctx context.Context, taskID string) error {
	if err := r.client.Del(ctx, GetCancelKey(taskID)).Err(); err != nil {
		return fmt.Errorf("failed to clear cancel flag: %w", err)
	}
	return nil
}
