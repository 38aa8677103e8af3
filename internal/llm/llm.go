package llm

import "context"

// Request 描述发送给大模型的问答上下文。
type Request struct {
	Question  string
	History   []HistoryEntry
	Knowledge []KnowledgeCard
}

// Response 是大模型推理得到的结构化输出。
type Response struct {
	Thought string
	Reply   string
}

// KnowledgeCard 表示提供给大模型的知识切片，帮助生成更加准确的回复。
type KnowledgeCard struct {
	Title   string
	Content string
}

// HistoryEntry 描述会话中的一条历史消息。
type HistoryEntry struct {
	Role    string
	Content string
	At      int64
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
