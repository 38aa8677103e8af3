package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "ChainPilot/internal/errors"
)

// RedisStoreConfig 描述 Redis 会话存储的连接参数。
type RedisStoreConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	// TTL 为会话键的过期时间，通常与闲置超时一致。
	TTL time.Duration
}

// RedisStore 将会话状态序列化为 JSON 存入 Redis，并用键过期兜底清理。
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore 创建 Redis 会话存储。
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "chainpilot:conversation:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisStore{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

// Get 读取并反序列化会话状态。
func (s *RedisStore) Get(ctx context.Context, id string) (*State, error) {
	payload, err := s.client.Get(ctx, s.prefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrConversationNotFound
		}
		return nil, xerrors.Wrap(CodeConversationStorage, err, "Redis 读取会话失败")
	}
	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, xerrors.Wrap(CodeConversationStorage, err, "会话数据反序列化失败")
	}
	return &state, nil
}

// Put 序列化并写入会话状态，同时刷新过期时间。
func (s *RedisStore) Put(ctx context.Context, state *State) error {
	if state == nil || state.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}
	now := time.Now().Unix()
	if state.CreatedAt == 0 {
		state.CreatedAt = now
	}
	state.UpdatedAt = now
	payload, err := json.Marshal(state)
	if err != nil {
		return xerrors.Wrap(CodeConversationStorage, err, "会话数据序列化失败")
	}
	if err := s.client.Set(ctx, s.prefix+state.ID, payload, s.ttl).Err(); err != nil {
		return xerrors.Wrap(CodeConversationStorage, err, "Redis 写入会话失败")
	}
	return nil
}

// Delete 删除会话。
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.prefix+id).Err(); err != nil {
		return xerrors.Wrap(CodeConversationStorage, err, "Redis 删除会话失败")
	}
	return nil
}

// Sweep 扫描键空间删除闲置会话。键过期已经覆盖大部分场景，
// 这里兜底处理 TTL 被配置为 0 的部署。
func (s *RedisStore) Sweep(ctx context.Context, idleBefore time.Time) (int, error) {
	cutoff := idleBefore.Unix()
	removed := 0
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		payload, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return removed, xerrors.Wrap(CodeConversationStorage, err, "Redis 扫描会话失败")
		}
		var state State
		if err := json.Unmarshal(payload, &state); err != nil {
			continue
		}
		if state.UpdatedAt < cutoff {
			if err := s.client.Del(ctx, key).Err(); err == nil {
				removed++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, xerrors.Wrap(CodeConversationStorage, err, "Redis 扫描会话失败")
	}
	return removed, nil
}

// Close 关闭 Redis 连接。
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
