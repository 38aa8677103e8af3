package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"ChainPilot/internal/api"
	"ChainPilot/internal/config"
	"ChainPilot/internal/conversation"
	"ChainPilot/internal/deploy"
	"ChainPilot/internal/dialogue"
	"ChainPilot/internal/knowledge"
	"ChainPilot/internal/ledger"
	"ChainPilot/internal/ledger/ethereum"
	"ChainPilot/internal/llm"
	"ChainPilot/internal/llm/openai"
	"ChainPilot/internal/observability/alerting"
	"ChainPilot/internal/observability/metrics"
	"ChainPilot/internal/validation"
	"ChainPilot/pkg/logger"
)

// main 是 ChainPilot 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("chainpilotd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("CHAINPILOT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "chainpilot.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// 会话存储。
	store, err := createConversationStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	// 账本注册表：每个配置的网络一个客户端。
	registry, err := ledger.NewRegistry(ctx, cfg.Ledger.NetworkConfig, cfg.Ledger.DefaultNetwork,
		func(ctx context.Context, name string, def ledger.NetworkDefinition) (ledger.Client, error) {
			return ethereum.NewClient(ctx, ethereum.Config{
				Name:           name,
				RPCURL:         def.RPCURL,
				FactoryAddress: def.FactoryAddress,
				Notes:          def.Description,
			})
		})
	if err != nil {
		return err
	}
	defer registry.Close()

	// 大模型客户端，仅用于开放问答，可以缺省。
	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	knowledgeProvider, err := createKnowledgeProvider(cfg)
	if err != nil {
		return err
	}

	publisher, err := createPublisher(cfg)
	if err != nil {
		return err
	}
	instrumented := deploy.NewInstrumentedPublisher(publisher, createAlertDispatcher(cfg))
	defer instrumented.Close()

	answererOpts := []dialogue.AnswererOption{}
	if cfg.LLM.Provider == "openai" {
		answererOpts = append(answererOpts, dialogue.WithLLMTimeout(cfg.LLM.OpenAI.Timeout()))
	}

	manager := dialogue.NewManager(
		store,
		registry,
		validation.NewPipeline(registry),
		dialogue.NewAnswerer(llmClient, knowledgeProvider, answererOpts...),
		dialogue.WithPublisher(instrumented),
		dialogue.WithHistoryLimit(cfg.Dialogue.HistoryLimit),
	)

	// 闲置会话清理协程。
	reaper := conversation.NewReaper(store, cfg.Dialogue.IdleTimeout(), cfg.Dialogue.SweepInterval())
	go reaper.Run(ctx)

	// 独立的 /metrics 服务。
	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("metrics 服务异常退出", "error", err)
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, manager, resolveAPIToken(cfg))

	logger.L().Info("chainpilotd 已启动",
		"address", cfg.Server.Address,
		"store", cfg.Storage.ConversationStore.Driver,
		"deploy", cfg.Deploy.Driver,
	)
	return server.Start(ctx)
}

// createConversationStore 根据配置选择会话存储后端。
func createConversationStore(cfg *config.Config) (conversation.Store, error) {
	storeCfg := cfg.Storage.ConversationStore
	switch storeCfg.Driver {
	case "", "memory":
		return conversation.NewMemoryStore(), nil
	case "redis":
		ttl := time.Duration(storeCfg.Redis.TTLMinutes) * time.Minute
		if ttl <= 0 {
			ttl = cfg.Dialogue.IdleTimeout()
		}
		return conversation.NewRedisStore(conversation.RedisStoreConfig{
			Address:   storeCfg.Redis.Address,
			Password:  storeCfg.Redis.Password,
			DB:        storeCfg.Redis.DB,
			KeyPrefix: storeCfg.Redis.KeyPrefix,
			TTL:       ttl,
		})
	case "mysql":
		return conversation.NewMySQLStore(storeCfg.DSN)
	default:
		return nil, fmt.Errorf("未知的会话存储驱动: %s", storeCfg.Driver)
	}
}

// createPublisher 根据配置选择部署配置的投递通道。
func createPublisher(cfg *config.Config) (dialogue.Publisher, error) {
	switch cfg.Deploy.Driver {
	case "", "log":
		return deploy.NewLogPublisher(), nil
	case "rabbitmq":
		return deploy.NewRabbitMQPublisher(deploy.RabbitMQConfig{
			URL:        cfg.Deploy.RabbitMQ.URL,
			Queue:      cfg.Deploy.RabbitMQ.Queue,
			Durable:    cfg.Deploy.RabbitMQ.Durable,
			AutoDelete: cfg.Deploy.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的部署投递驱动: %s", cfg.Deploy.Driver)
	}
}

// createLLMClient 构建开放问答用的大模型客户端，none 表示只用知识库。
func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "none":
		return nil, nil
	case "", "openai":
		apiKey := strings.TrimSpace(cfg.LLM.OpenAI.APIKey)
		if apiKey == "" && cfg.LLM.OpenAI.APIKeyEnv != "" {
			apiKey = strings.TrimSpace(os.Getenv(cfg.LLM.OpenAI.APIKeyEnv))
		}
		if apiKey == "" {
			// 未配置 key 时退化为纯知识库问答，而不是拒绝启动。
			logger.L().Warn("未配置 OpenAI API key，开放问答退回知识库")
			return nil, nil
		}
		return openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: cfg.LLM.OpenAI.Timeout(),
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

// createKnowledgeProvider 加载平台知识库，未配置时使用内置条目。
func createKnowledgeProvider(cfg *config.Config) (knowledge.Provider, error) {
	if cfg.Knowledge.Source == "" {
		return knowledge.NewBuiltinProvider(cfg.Knowledge.MaxResults), nil
	}
	return knowledge.LoadStaticProvider(cfg.Knowledge.Source, cfg.Knowledge.MaxResults)
}

// createAlertDispatcher 组装告警通道，未配置时返回 nil。
func createAlertDispatcher(cfg *config.Config) alerting.Dispatcher {
	if cfg.Alerting.Slack.WebhookURL == "" {
		return nil
	}
	return alerting.NewFanout(&alerting.SlackNotifier{
		Sender:    &alerting.SlackWebhookSender{WebhookURL: cfg.Alerting.Slack.WebhookURL},
		ChannelID: cfg.Alerting.Slack.Channel,
	})
}

// resolveAPIToken 解析静态 API Token，优先使用环境变量。
func resolveAPIToken(cfg *config.Config) string {
	if cfg.Server.APITokenEnv != "" {
		if token := strings.TrimSpace(os.Getenv(cfg.Server.APITokenEnv)); token != "" {
			return token
		}
	}
	return strings.TrimSpace(cfg.Server.APIToken)
}
