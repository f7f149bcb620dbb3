// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// StreamLockRepository 定义了每会话流式互斥锁的操作接口。
// 同一会话同一时刻只允许一次流式应答：历史读取到助手消息落库
// 之间持有锁，避免并发发送交错读写。
type StreamLockRepository interface {
	// Acquire 尝试获取会话的流式锁，返回是否获取成功。
	Acquire(ctx context.Context, chatID string) (bool, error)
	// Release 释放会话的流式锁。
	Release(ctx context.Context, chatID string) error
}

type redisStreamLockRepository struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewStreamLockRepository 创建一个新的 StreamLockRepository 实例。
// ttl 限定锁的最长持有时间，进程崩溃后锁不会永久泄漏。
func NewStreamLockRepository(redisClient *redis.Client, ttl time.Duration) StreamLockRepository {
	return &redisStreamLockRepository{redisClient: redisClient, ttl: ttl}
}

func lockKey(chatID string) string {
	return fmt.Sprintf("chat:%s:stream_lock", chatID)
}

// Acquire 通过 SETNX 获取锁；键已存在说明该会话有在途的流式应答。
func (r *redisStreamLockRepository) Acquire(ctx context.Context, chatID string) (bool, error) {
	ok, err := r.redisClient.SetNX(ctx, lockKey(chatID), 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire stream lock: %w", err)
	}
	return ok, nil
}

// Release 删除锁键。键不存在时不视为错误。
func (r *redisStreamLockRepository) Release(ctx context.Context, chatID string) error {
	if err := r.redisClient.Del(ctx, lockKey(chatID)).Err(); err != nil {
		return fmt.Errorf("failed to release stream lock: %w", err)
	}
	return nil
}
