package dialogue

import (
	"context"
	stdErrors "errors"
	"strings"
	"time"

	"ChainPilot/internal/conversation"
	"ChainPilot/internal/knowledge"
	"ChainPilot/internal/llm"
	"ChainPilot/pkg/logger"
)

// defaultAnswerDepth 是大模型调用时可参考的历史消息数量的默认值。
const defaultAnswerDepth = 5

// Answerer 回答平台与概念类开放问题：先检索知识库，再交给大模型
// 组织语言。大模型不可用或失败时退回知识库原文，绝不让失败冒泡
// 成流水线错误。
type Answerer struct {
	llmClient  llm.Client
	knowledge  knowledge.Provider
	depth      int
	llmTimeout time.Duration
}

// AnswererOption 定义可选的 Answerer 配置。
type AnswererOption func(*Answerer)

// WithAnswerDepth 设置大模型调用时可参考的历史消息数量。
func WithAnswerDepth(depth int) AnswererOption {
	return func(a *Answerer) {
		a.depth = depth
	}
}

// WithLLMTimeout 设置调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) AnswererOption {
	return func(a *Answerer) {
		if timeout <= 0 {
			a.llmTimeout = 0
			return
		}
		a.llmTimeout = timeout
	}
}

// NewAnswerer 创建开放问答组件。llmClient 可以为 nil，此时只用知识库。
func NewAnswerer(llmClient llm.Client, provider knowledge.Provider, opts ...AnswererOption) *Answerer {
	answerer := &Answerer{
		llmClient: llmClient,
		knowledge: provider,
		depth:     defaultAnswerDepth,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(answerer)
		}
	}
	if answerer.depth <= 0 {
		answerer.depth = defaultAnswerDepth
	}
	return answerer
}

// Answer 生成针对开放问题的回复文本。
func (a *Answerer) Answer(ctx context.Context, question string, history []conversation.Turn) string {
	var snippets []knowledge.Snippet
	if a.knowledge != nil {
		snippets = a.knowledge.Query(question)
	}

	if a.llmClient == nil {
		return a.cannedAnswer(snippets)
	}

	llmCtx := ctx
	if a.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, a.llmTimeout)
		defer cancel()
	}

	response, err := a.llmClient.Generate(llmCtx, llm.Request{
		Question:  question,
		History:   a.recentHistory(history),
		Knowledge: toKnowledgeCards(snippets),
	})
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			logger.L().Warn("大模型问答超时，退回知识库", "error", err)
		} else {
			logger.L().Warn("大模型问答失败，退回知识库", "error", err)
		}
		return a.cannedAnswer(snippets)
	}
	reply := strings.TrimSpace(response.Reply)
	if reply == "" {
		return a.cannedAnswer(snippets)
	}
	return reply
}

func (a *Answerer) recentHistory(history []conversation.Turn) []llm.HistoryEntry {
	if len(history) > a.depth {
		history = history[len(history)-a.depth:]
	}
	entries := make([]llm.HistoryEntry, 0, len(history))
	for _, turn := range history {
		entries = append(entries, llm.HistoryEntry{
			Role:    turn.Role,
			Content: turn.Content,
			At:      turn.At,
		})
	}
	return entries
}

func (a *Answerer) cannedAnswer(snippets []knowledge.Snippet) string {
	if len(snippets) > 0 {
		return snippets[0].Content
	}
	return "I can help you set up on-chain automations: stop orders that sell a token when its " +
		"price drops, and liquidation guards that protect a lending position. Ask me about " +
		"either, or just tell me what you'd like to set up."
}

func toKnowledgeCards(snippets []knowledge.Snippet) []llm.KnowledgeCard {
	cards := make([]llm.KnowledgeCard, 0, len(snippets))
	for _, snippet := range snippets {
		cards = append(cards, llm.KnowledgeCard{
			Title:   snippet.Title,
			Content: snippet.Content,
		})
	}
	return cards
}
