// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"legal-rag-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// ConversationRepository 定义了按会话隔离的对话记忆操作接口。
type ConversationRepository interface {
	GetTurns(ctx context.Context, sessionID string) ([]model.Turn, error)
	AppendTurn(ctx context.Context, sessionID string, turn model.Turn) error
	Clear(ctx context.Context, sessionID string) error
}

type redisConversationRepository struct {
	redisClient *redis.Client
	maxTurns    int
	ttl         time.Duration
}

// NewConversationRepository 创建一个基于 Redis 的 ConversationRepository 实例。
func NewConversationRepository(redisClient *redis.Client, maxTurns int, ttl time.Duration) ConversationRepository {
	return &redisConversationRepository{redisClient: redisClient, maxTurns: maxTurns, ttl: ttl}
}

func conversationKey(sessionID string) string {
	return fmt.Sprintf("conversation:%s", sessionID)
}

// GetTurns 从 Redis 获取会话的全部问答。
func (r *redisConversationRepository) GetTurns(ctx context.Context, sessionID string) ([]model.Turn, error) {
	items, err := r.redisClient.LRange(ctx, conversationKey(sessionID), 0, -1).Result()
	if err == redis.Nil {
		return []model.Turn{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation turns: %w", err)
	}
	turns := make([]model.Turn, 0, len(items))
	for _, item := range items {
		var t model.Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conversation turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// AppendTurn 追加一轮问答，只保留最近 maxTurns 轮并刷新过期时间。
func (r *redisConversationRepository) AppendTurn(ctx context.Context, sessionID string, turn model.Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation turn: %w", err)
	}
	key := conversationKey(sessionID)
	_, err = r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		if r.maxTurns > 0 {
			pipe.LTrim(ctx, key, int64(-r.maxTurns), -1)
		}
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append conversation turn: %w", err)
	}
	return nil
}

// Clear 删除会话的全部记忆。
func (r *redisConversationRepository) Clear(ctx context.Context, sessionID string) error {
	if err := r.redisClient.Del(ctx, conversationKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear conversation: %w", err)
	}
	return nil
}

// memorySession 是单个会话的记忆容器，有自己的锁。
// removed 表示容器已从 map 中移除，持有旧指针的写入需要重新获取容器。
type memorySession struct {
	mu        sync.Mutex
	turns     []model.Turn
	expiresAt time.Time
	removed   bool
}

func (s *memorySession) expired(now time.Time) bool {
	return !s.expiresAt.IsZero() && now.After(s.expiresAt)
}

// 过期会话的最长清理间隔。
const maxSweepInterval = time.Minute

// 锁顺序：先 r.mu 后 s.mu。
type memoryConversationRepository struct {
	mu        sync.Mutex
	sessions  map[string]*memorySession
	maxTurns  int
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
}

// NewMemoryConversationRepository 创建一个进程内的 ConversationRepository，适合单实例部署和测试。
// ttl > 0 时过期会话会在读取时或定期清理时从内存中删除。
func NewMemoryConversationRepository(maxTurns int, ttl time.Duration) ConversationRepository {
	return &memoryConversationRepository{
		sessions: make(map[string]*memorySession),
		maxTurns: maxTurns,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (r *memoryConversationRepository) sweepInterval() time.Duration {
	if r.ttl < maxSweepInterval {
		return r.ttl
	}
	return maxSweepInterval
}

func (r *memoryConversationRepository) session(sessionID string, create bool) *memorySession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if create && r.ttl > 0 {
		if now := r.now(); now.Sub(r.lastSweep) >= r.sweepInterval() {
			r.sweepLocked(now)
			r.lastSweep = now
		}
	}
	s, ok := r.sessions[sessionID]
	if !ok && create {
		s = &memorySession{}
		r.sessions[sessionID] = s
	}
	return s
}

// sweepLocked 删除所有已过期的会话，调用方持有 r.mu。
func (r *memoryConversationRepository) sweepLocked(now time.Time) {
	for id, s := range r.sessions {
		s.mu.Lock()
		if s.expired(now) {
			s.removed = true
			delete(r.sessions, id)
		}
		s.mu.Unlock()
	}
}

// removeIfExpired 在 s 仍是 sessionID 对应的容器且已过期时删除它。
func (r *memoryConversationRepository) removeIfExpired(sessionID string, s *memorySession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[sessionID] != s {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(r.now()) {
		s.removed = true
		delete(r.sessions, sessionID)
	}
}

func (r *memoryConversationRepository) GetTurns(_ context.Context, sessionID string) ([]model.Turn, error) {
	s := r.session(sessionID, false)
	if s == nil {
		return []model.Turn{}, nil
	}
	s.mu.Lock()
	if r.ttl > 0 && s.expired(r.now()) {
		s.mu.Unlock()
		r.removeIfExpired(sessionID, s)
		return []model.Turn{}, nil
	}
	out := make([]model.Turn, len(s.turns))
	copy(out, s.turns)
	s.mu.Unlock()
	return out, nil
}

func (r *memoryConversationRepository) AppendTurn(_ context.Context, sessionID string, turn model.Turn) error {
	for {
		s := r.session(sessionID, true)
		s.mu.Lock()
		if s.removed {
			// 获取后被清理掉了，重新取一个容器
			s.mu.Unlock()
			continue
		}
		if r.ttl > 0 && s.expired(r.now()) {
			s.turns = nil
		}
		s.turns = append(s.turns, turn)
		if r.maxTurns > 0 && len(s.turns) > r.maxTurns {
			s.turns = s.turns[len(s.turns)-r.maxTurns:]
		}
		if r.ttl > 0 {
			s.expiresAt = r.now().Add(r.ttl)
		}
		s.mu.Unlock()
		return nil
	}
}

func (r *memoryConversationRepository) Clear(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.mu.Lock()
		s.removed = true
		s.mu.Unlock()
		delete(r.sessions, sessionID)
	}
	return nil
}

// size 返回当前保留在内存中的会话数。
func (r *memoryConversationRepository) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
