// Package deploy 负责把就绪的自动化配置移交给部署侧。
// 对话核心在 READY 之后不再负责，投递即完成移交。
package deploy

import (
	"context"
	"sync"

	"ChainPilot/internal/dialogue"
	"ChainPilot/pkg/logger"
)

// LogPublisher 只把配置写入审计日志，适合未接入部署队列的部署形态。
type LogPublisher struct{}

// NewLogPublisher 创建日志投递器。
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

// Publish 实现 dialogue.Publisher。
func (p *LogPublisher) Publish(_ context.Context, config *dialogue.DeploymentConfig) error {
	logger.Audit().Info("部署配置已移交",
		"kind", config.Kind,
		"network", config.Network,
		"account", config.Account,
	)
	return nil
}

// Close 对日志投递器无需操作。
func (p *LogPublisher) Close() error {
	return nil
}

// MemoryPublisher 在内存里累积配置，主要用于测试。
type MemoryPublisher struct {
	mu      sync.Mutex
	configs []*dialogue.DeploymentConfig
}

// NewMemoryPublisher 创建内存投递器。
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish 实现 dialogue.Publisher。
func (p *MemoryPublisher) Publish(_ context.Context, config *dialogue.DeploymentConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configs = append(p.configs, config)
	return nil
}

// Published 返回已投递的配置快照。
func (p *MemoryPublisher) Published() []*dialogue.DeploymentConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*dialogue.DeploymentConfig(nil), p.configs...)
}

// Close 对内存投递器无需操作。
func (p *MemoryPublisher) Close() error {
	return nil
}

var (
	_ dialogue.Publisher = (*LogPublisher)(nil)
	_ dialogue.Publisher = (*MemoryPublisher)(nil)
)
