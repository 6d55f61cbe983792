package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fraud-call/server/internal/config"
	"fraud-call/server/internal/model"
)

const (
	conversationPrefix = "conversation:"
	conversationTTL    = 7 * 24 * time.Hour
)

// RedisConversations 把通话记录放进 Redis list，多实例部署时共享审计记录。
// 其余存储仍走内存实现；transcript 是唯一需要跨实例读的数据。
type RedisConversations struct {
	rdb *redis.Client
}

// NewRedisConversations 创建 Redis 通话记录存储。
func NewRedisConversations(cfg config.RedisConfig) *RedisConversations {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisConversations{rdb: rdb}
}

// Ping 探活，启动时确认 Redis 可达。
func (r *RedisConversations) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func conversationKey(alertID int64) string {
	return fmt.Sprintf("%s%d", conversationPrefix, alertID)
}

// Append 把一条发言 RPUSH 到告警对应的 list，保持落库顺序即发生顺序。
func (r *RedisConversations) Append(ctx context.Context, alertID int64, msg model.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := conversationKey(alertID)
	pipe := r.rdb.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, conversationTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append conversation: %w", err)
	}
	return nil
}

// List 返回某条告警的完整通话记录。
func (r *RedisConversations) List(ctx context.Context, alertID int64) ([]model.Message, error) {
	items, err := r.rdb.LRange(ctx, conversationKey(alertID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	out := make([]model.Message, 0, len(items))
	for _, item := range items {
		var msg model.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		out = append(out, msg)
	}
	return out, nil
}
