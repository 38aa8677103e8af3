package conversation

import (
	"context"
	"time"

	"ChainPilot/pkg/logger"
)

// Reaper 周期性清理闲置超时的会话。
type Reaper struct {
	store       Store
	idleTimeout time.Duration
	interval    time.Duration
}

// NewReaper 创建会话清理器。
func NewReaper(store Store, idleTimeout, interval time.Duration) *Reaper {
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Minute
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Reaper{store: store, idleTimeout: idleTimeout, interval: interval}
}

// Run 启动清理循环，直到 ctx 取消。清扫失败只记录日志，不中断循环。
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepOnce(ctx)
		}
	}
}

// SweepOnce 执行一次清扫。
func (r *Reaper) SweepOnce(ctx context.Context) {
	cutoff := time.Now().Add(-r.idleTimeout)
	removed, err := r.store.Sweep(ctx, cutoff)
	if err != nil {
		logger.L().Warn("会话清扫失败", "error", err)
		return
	}
	if removed > 0 {
		logger.L().Info("已清理闲置会话", "removed", removed, "idle_timeout", r.idleTimeout.String())
	}
}
