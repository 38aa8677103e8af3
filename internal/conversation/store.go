package conversation

import (
	"context"
	"time"
)

// Store 抽象了会话状态的持久化接口。
type Store interface {
	Get(ctx context.Context, id string) (*State, error)
	Put(ctx context.Context, state *State) error
	Delete(ctx context.Context, id string) error
	// Sweep 删除在 idleBefore 之前最后一次更新的会话，返回删除数量。
	Sweep(ctx context.Context, idleBefore time.Time) (int, error)
	Close() error
}
