package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"VKSaver/model"

	"github.com/go-redis/redis/v8"
)

// SessionStore 会话ID -> VK token
type SessionStore interface {
	Save(ctx context.Context, s *model.Session) error
	// Get 不存在时返回 nil, nil
	Get(ctx context.Context, id string) (*model.Session, error)
	Delete(ctx context.Context, id string) error
}

type memorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]model.Session
}

// NewMemorySessionStore 创建内存会话存储
func NewMemorySessionStore() SessionStore {
	return &memorySessionStore{sessions: make(map[string]model.Session)}
}

func (s *memorySessionStore) Save(_ context.Context, sess *model.Session) error {
	s.mu.Lock()
	s.sessions[sess.ID] = *sess
	s.mu.Unlock()
	return nil
}

func (s *memorySessionStore) Get(_ context.Context, id string) (*model.Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (s *memorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

// redisSessionStore Redis 实现，会话以 JSON 存储并带过期时间
type redisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionStore 创建 Redis 会话存储
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) SessionStore {
	return &redisSessionStore{client: client, ttl: ttl}
}

// GetSessionKey 生成会话的 Redis 键
func GetSessionKey(id string) string {
	return fmt.Sprintf("vksaver:session:%s", id)
}

func (s *redisSessionStore) Save(ctx context.Context, sess *model.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, GetSessionKey(sess.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *redisSessionStore) Get(ctx context.Context, id string) (*model.Session, error) {
	data, err := s.client.Get(ctx, GetSessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	var sess model.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

func (s *redisSessionStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, GetSessionKey(id)).Err()
}
