package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Provider 定义平台知识检索的通用接口。
type Provider interface {
	Query(question string) []Snippet
}

// Snippet 描述可供回答引用的一段知识。
type Snippet struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
	Tags     []string `json:"tags"`
}

// StaticProvider 通过内置条目或 JSON 文件提供静态知识检索能力。
type StaticProvider struct {
	items      []Snippet
	maxResults int
}

// NewStaticProvider 创建静态知识库实例。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{
		items:      items,
		maxResults: maxResults,
	}
}

// NewBuiltinProvider 返回带平台内置条目的知识库。
func NewBuiltinProvider(maxResults int) *StaticProvider {
	return NewStaticProvider(builtinEntries, maxResults)
}

// LoadStaticProvider 从 JSON 文件加载知识条目，并叠加内置条目。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("知识库文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析知识库路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}
	defer file.Close()

	var entries []Snippet
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}

	return NewStaticProvider(append(entries, builtinEntries...), maxResults), nil
}

// Query 对问题做关键词匹配，返回最多 maxResults 条。
func (p *StaticProvider) Query(question string) []Snippet {
	if p == nil {
		return nil
	}

	question = strings.ToLower(strings.TrimSpace(question))

	results := make([]Snippet, 0, p.maxResults)
	for _, item := range p.items {
		if matches(item, question) {
			results = append(results, item)
			if len(results) >= p.maxResults {
				break
			}
		}
	}
	return results
}

func matches(snippet Snippet, question string) bool {
	for _, keyword := range snippet.Keywords {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized == "" {
			continue
		}
		if strings.Contains(question, normalized) {
			return true
		}
	}
	for _, tag := range snippet.Tags {
		normalized := strings.ToLower(strings.TrimSpace(tag))
		if normalized == "" {
			continue
		}
		if strings.Contains(question, normalized) {
			return true
		}
	}
	return false
}

// builtinEntries 覆盖平台最常见的开放问题。
var builtinEntries = []Snippet{
	{
		Title: "What the platform does",
		Content: "The platform turns plain-language requests into on-chain automations. " +
			"You describe what you want to happen, the assistant collects the details, " +
			"verifies them against live network data, and hands off a ready-to-deploy configuration.",
		Keywords: []string{"platform", "what is this", "what can you do", "how does this work", "automation"},
	},
	{
		Title: "Stop orders",
		Content: "A stop order automatically sells one token for another when the price drops " +
			"by a percentage you choose. The trigger price is computed from the current market " +
			"price at setup time.",
		Keywords: []string{"stop order", "stop-loss", "stop loss", "trigger price", "sell"},
	},
	{
		Title: "Liquidation guards",
		Content: "A liquidation guard watches the health factor of a lending position and " +
			"automatically repays part of the debt when the health factor falls below your " +
			"trigger, restoring it toward your target.",
		Keywords: []string{"liquidation", "health factor", "guard", "lending", "collateral", "repay"},
	},
	{
		Title: "Health factor",
		Content: "The health factor measures how close a lending position is to liquidation. " +
			"Values above 1.0 are safe; at 1.0 the position can be liquidated. " +
			"Most users trigger protection between 1.1 and 1.5.",
		Keywords: []string{"health factor", "liquidation threshold", "safe"},
	},
	{
		Title: "Supported networks",
		Content: "Automations run on EVM networks configured by the operator, typically " +
			"Ethereum mainnet and the Sepolia test network. Each network has its own token catalog.",
		Keywords: []string{"network", "chain", "sepolia", "mainnet", "ethereum"},
	},
	{
		Title: "Custom tokens",
		Content: "If a token isn't in the built-in catalog you can paste its contract address. " +
			"The platform verifies the contract on the active network before using it.",
		Keywords: []string{"custom token", "contract address", "address", "token not listed"},
	},
}

var _ Provider = (*StaticProvider)(nil)
