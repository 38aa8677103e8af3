package deploy

import (
	"context"
	"time"

	"ChainPilot/internal/dialogue"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/observability/alerting"
	"ChainPilot/internal/observability/metrics"
	"ChainPilot/pkg/logger"
)

// InstrumentedPublisher 包装任意投递器：成功时累计部署指标，
// 失败时在返回错误之前广播告警事件。
type InstrumentedPublisher struct {
	inner      dialogue.Publisher
	dispatcher alerting.Dispatcher
}

// NewInstrumentedPublisher 创建带指标与告警的投递器。dispatcher 可以为 nil。
func NewInstrumentedPublisher(inner dialogue.Publisher, dispatcher alerting.Dispatcher) *InstrumentedPublisher {
	return &InstrumentedPublisher{inner: inner, dispatcher: dispatcher}
}

// Publish 实现 dialogue.Publisher。
func (p *InstrumentedPublisher) Publish(ctx context.Context, config *dialogue.DeploymentConfig) error {
	err := p.inner.Publish(ctx, config)
	if err == nil {
		metrics.ObserveDeployment(config.Kind)
		return nil
	}
	if p.dispatcher != nil {
		event := alerting.Event{
			Code:     xerrors.CodePublishFailure,
			Message:  "deployment hand-off failed: " + err.Error(),
			Severity: xerrors.SeverityOf(err),
			Metadata: map[string]string{
				"kind":    config.Kind,
				"network": config.Network,
				"account": config.Account,
			},
			OccurredAt: time.Now(),
		}
		if notifyErr := p.dispatcher.Notify(ctx, event); notifyErr != nil {
			logger.L().Warn("部署失败告警发送未成功", "error", notifyErr)
		}
	}
	return err
}

// Close 关闭内层投递器。
func (p *InstrumentedPublisher) Close() error {
	if closer, ok := p.inner.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

var _ dialogue.Publisher = (*InstrumentedPublisher)(nil)
