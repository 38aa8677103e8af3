package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述了 ChainPilot 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Storage   StorageConfig   `json:"storage"`
	LLM       LLMConfig       `json:"llm"`
	Ledger    LedgerConfig    `json:"ledger"`
	Knowledge KnowledgeConfig `json:"knowledge"`
	Dialogue  DialogueConfig  `json:"dialogue"`
	Deploy    DeployConfig    `json:"deploy"`
	Alerting  AlertingConfig  `json:"alerting"`
	Logging   LoggingConfig   `json:"logging"`
}

// AlertingConfig 控制运行期告警通知渠道。
type AlertingConfig struct {
	Slack SlackAlertConfig `json:"slack"`
}

// SlackAlertConfig 描述 Slack Incoming Webhook 告警渠道。
type SlackAlertConfig struct {
	WebhookURL string `json:"webhook_url"`
	Channel    string `json:"channel"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
	APIToken       string `json:"api_token"`
	APITokenEnv    string `json:"api_token_env"`
}

// StorageConfig 统一描述会话存储后端的连接信息。
type StorageConfig struct {
	ConversationStore ConversationStoreConfig `json:"conversation_store"`
}

// ConversationStoreConfig 支持 memory、redis、mysql 三种驱动。
type ConversationStoreConfig struct {
	Driver string      `json:"driver"`
	DSN    string      `json:"dsn"`
	Redis  RedisConfig `json:"redis"`
}

// RedisConfig 描述 Redis 会话存储的连接参数。
type RedisConfig struct {
	Address    string `json:"address"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	KeyPrefix  string `json:"key_prefix"`
	TTLMinutes int    `json:"ttl_minutes"`
}

// LLMConfig 用于配置开放问答所使用的大模型。
type LLMConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
}

// OpenAIConfig 描述调用 OpenAI 兼容接口所需的信息。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回以 time.Duration 表示的超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LedgerConfig 包含访问链上数据所需的网络定义。
type LedgerConfig struct {
	NetworkConfig  string `json:"network_config"`
	DefaultNetwork string `json:"default_network"`
	RPCURL         string `json:"rpc_url"`
}

// KnowledgeConfig 控制平台知识库的加载方式。
type KnowledgeConfig struct {
	Source     string `json:"source"`
	MaxResults int    `json:"max_results"`
}

// DialogueConfig 控制会话生命周期参数。
type DialogueConfig struct {
	IdleTimeoutMinutes   int `json:"idle_timeout_minutes"`
	SweepIntervalSeconds int `json:"sweep_interval_seconds"`
	HistoryLimit         int `json:"history_limit"`
}

// IdleTimeout 返回会话闲置阈值。
func (c DialogueConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMinutes) * time.Minute
}

// SweepInterval 返回清理协程的运行间隔。
func (c DialogueConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// DeployConfig 描述部署载荷的投递方式。
type DeployConfig struct {
	Driver   string         `json:"driver"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 投递通道的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// LoggingConfig 映射到 pkg/logger 的初始化参数。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	Audit       struct {
		Enabled    bool   `json:"enabled"`
		Path       string `json:"path"`
		MaxSizeMB  int    `json:"max_size_mb"`
		MaxBackups int    `json:"max_backups"`
		MaxAgeDays int    `json:"max_age_days"`
	} `json:"audit"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.ConversationStore.Driver == "" {
		c.Storage.ConversationStore.Driver = "memory"
	}
	if c.Storage.ConversationStore.Redis.KeyPrefix == "" {
		c.Storage.ConversationStore.Redis.KeyPrefix = "chainpilot:conv:"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}

	if c.Ledger.NetworkConfig == "" {
		c.Ledger.NetworkConfig = filepath.Join(baseDir, "networks.yaml")
	} else if !filepath.IsAbs(c.Ledger.NetworkConfig) {
		c.Ledger.NetworkConfig = filepath.Join(baseDir, c.Ledger.NetworkConfig)
	}

	if c.Knowledge.MaxResults <= 0 {
		c.Knowledge.MaxResults = 3
	}

	if c.Dialogue.IdleTimeoutMinutes <= 0 {
		c.Dialogue.IdleTimeoutMinutes = 30
	}
	if c.Dialogue.SweepIntervalSeconds <= 0 {
		c.Dialogue.SweepIntervalSeconds = 300
	}
	if c.Dialogue.HistoryLimit <= 0 {
		c.Dialogue.HistoryLimit = 20
	}

	if c.Deploy.Driver == "" {
		c.Deploy.Driver = "log"
	}
}
