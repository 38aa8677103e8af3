package dialogue

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"ChainPilot/internal/conversation"
	"ChainPilot/internal/ledger"
	"ChainPilot/internal/nlu"
)

// slot 描述任务模式中的一个待收集字段。
// 槽位按声明顺序询问，绝不跳前；apply 尝试从整句中抽取本槽位的值。
type slot struct {
	step   conversation.Step
	filled func(data *conversation.CollectedData) bool
	// apply 尝试从整句中抽取本槽位的值。asked 表示该槽位正是当前
	// 提问的槽位：数字类槽位只有被点名提问或命中专属句式时才收值，
	// 防止一句话里的裸数字同时喂给多个槽位。
	apply  func(text string, state *conversation.State, asked bool) bool
	prompt func(state *conversation.State) (string, []conversation.Option)
}

// 各数字槽位的专属句式，用于未被点名提问时的安全抽取。
var (
	dropPattern   = regexp.MustCompile(`(?i)(?:drops?|falls?|declines?|down)\s*(?:by\s*)?(\d+(?:\.\d+)?)\s*(?:%|percent|pct)?`)
	sellAmount    = regexp.MustCompile(`(?i)\bsell(?:ing)?\s+(?:my\s+)?(all|everything|half|\d+(?:\.\d+)?\s*%?)`)
	triggerHF     = regexp.MustCompile(`(?i)(?:health\s*factor|hf)\s*(?:of|at|is|below|under|reaches|hits)?\s*(\d+(?:\.\d+)?)|below\s+(\d+(?:\.\d+)?)`)
	targetHF      = regexp.MustCompile(`(?i)(?:restore|back|target|bring)\D{0,12}?(\d+(?:\.\d+)?)`)
	repayAmount   = regexp.MustCompile(`(?i)repay(?:ing)?\s*(\d+(?:\.\d+)?)\s*(?:%|percent|pct)?`)
)

// schemaFor 返回任务对应的槽位列表，顺序即优先级。
func schemaFor(task conversation.TaskKind, resolver ledger.Resolver) []slot {
	switch task {
	case conversation.TaskStopOrder:
		return stopOrderSchema(resolver)
	case conversation.TaskLiquidationGuard:
		return liquidationGuardSchema(resolver)
	default:
		return nil
	}
}

func stopOrderSchema(resolver ledger.Resolver) []slot {
	return []slot{
		networkSlot(resolver),
		{
			step:   conversation.StepAwaitSellToken,
			filled: func(data *conversation.CollectedData) bool { return data.SellToken != "" },
			apply: func(text string, state *conversation.State, asked bool) bool {
				if sell, receive, ok := nlu.ExtractTokenPair(text); ok {
					state.Data.SellToken = sell
					if receive != "" && receive != sell && state.Data.ReceiveToken == "" {
						state.Data.ReceiveToken = receive
					}
					return true
				}
				if symbol, ok := customTokenSymbol(text, state); ok {
					state.Data.SellToken = symbol
					return true
				}
				return false
			},
			prompt: func(state *conversation.State) (string, []conversation.Option) {
				return "Which token do you want to sell?", tokenOptions(resolver, state, "")
			},
		},
		{
			step:   conversation.StepAwaitReceiveToken,
			filled: func(data *conversation.CollectedData) bool { return data.ReceiveToken != "" },
			apply: func(text string, state *conversation.State, asked bool) bool {
				for _, symbol := range nlu.ExtractTokens(text) {
					if symbol != state.Data.SellToken {
						state.Data.ReceiveToken = symbol
						return true
					}
				}
				if symbol, ok := customTokenSymbol(text, state); ok && symbol != state.Data.SellToken {
					state.Data.ReceiveToken = symbol
					return true
				}
				return false
			},
			prompt: func(state *conversation.State) (string, []conversation.Option) {
				message := fmt.Sprintf("Which token should you receive when the %s is sold?", state.Data.SellToken)
				return message, tokenOptions(resolver, state, state.Data.SellToken)
			},
		},
		{
			step:   conversation.StepAwaitAmount,
			filled: func(data *conversation.CollectedData) bool { return data.Amount != nil },
			apply: func(text string, state *conversation.State, asked bool) bool {
				// 下跌句式里的数字属于跌幅槽位，先剔除再抽取数量。
				cleaned := dropPattern.ReplaceAllString(text, "")
				if !asked {
					match := sellAmount.FindStringSubmatch(cleaned)
					if match == nil {
						return false
					}
					cleaned = match[1]
				}
				if amount, ok := nlu.ExtractAmount(cleaned); ok {
					state.Data.Amount = &amount
					return true
				}
				return false
			},
			prompt: func(state *conversation.State) (string, []conversation.Option) {
				message := fmt.Sprintf("How much %s should the order sell?", state.Data.SellToken)
				return message, []conversation.Option{
					{Value: "all", Label: "All of it"},
					{Value: "half", Label: "Half"},
					{Value: "25%", Label: "A quarter"},
				}
			},
		},
		{
			step:   conversation.StepAwaitDropPercent,
			filled: func(data *conversation.CollectedData) bool { return data.DropPercent != nil },
			apply: func(text string, state *conversation.State, asked bool) bool {
				if match := dropPattern.FindStringSubmatch(text); match != nil {
					if value, ok := nlu.ExtractPercent(match[1] + "%"); ok {
						state.Data.DropPercent = conversation.Float(value)
						return true
					}
				}
				if !asked {
					return false
				}
				if value, ok := nlu.ExtractPercent(text); ok {
					state.Data.DropPercent = conversation.Float(value)
					return true
				}
				return false
			},
			prompt: func(state *conversation.State) (string, []conversation.Option) {
				return "At what price drop should the order trigger?", []conversation.Option{
					{Value: "5%", Label: "5%"},
					{Value: "10%", Label: "10%"},
					{Value: "20%", Label: "20%"},
				}
			},
		},
	}
}

func liquidationGuardSchema(resolver ledger.Resolver) []slot {
	return []slot{
		networkSlot(resolver),
		{
			step:   conversation.StepAwaitProtocol,
			filled: func(data *conversation.CollectedData) bool { return data.Protocol != "" },
			apply: func(text string, state *conversation.State, asked bool) bool {
				if protocol, ok := nlu.ExtractProtocol(text); ok {
					state.Data.Protocol = protocol
					return true
				}
				return false
			},
			prompt: func(state *conversation.State) (string, []conversation.Option) {
				return "Which lending protocol holds your position?", []conversation.Option{
					{Value: "aave", Label: "Aave"},
					{Value: "compound", Label: "Compound"},
					{Value: "spark", Label: "Spark"},
				}
			},
		},
		{
			step:   conversation.StepAwaitHealthFactor,
			filled: func(data *conversation.CollectedData) bool { return data.HealthFactorTrigger != nil },
			apply: func(text string, state *conversation.State, asked bool) bool {
				scope := text
				if !asked {
					match := triggerHF.FindStringSubmatch(text)
					if match == nil {
						return false
					}
					scope = match[1]
					if scope == "" {
						scope = match[2]
					}
				}
				if value, ok := nlu.ExtractHealthFactor(scope); ok {
					state.Data.HealthFactorTrigger = conversation.Float(value)
					return true
				}
				return false
			},
			prompt: func(state *conversation.State) (string, []conversation.Option) {
				return "Below what health factor should the guard step in? " +
						"(1.0 means liquidation; most users pick between 1.1 and 1.5)",
					[]conversation.Option{
						{Value: "1.1", Label: "1.1 (aggressive)"},
						{Value: "1.2", Label: "1.2 (balanced)"},
						{Value: "1.5", Label: "1.5 (conservative)"},
					}
			},
		},
		{
			step:   conversation.StepAwaitTargetHealthFactor,
			filled: func(data *conversation.CollectedData) bool { return data.TargetHealthFactor != nil },
			apply: func(text string, state *conversation.State, asked bool) bool {
				scope := text
				if !asked {
					match := targetHF.FindStringSubmatch(text)
					if match == nil {
						return false
					}
					scope = match[1]
				}
				value, ok := nlu.ExtractHealthFactor(scope)
				if !ok {
					return false
				}
				// 目标必须高于触发值，否则守护毫无意义。
				if state.Data.HealthFactorTrigger != nil && value <= *state.Data.HealthFactorTrigger {
					return false
				}
				state.Data.TargetHealthFactor = conversation.Float(value)
				return true
			},
			prompt: func(state *conversation.State) (string, []conversation.Option) {
				trigger := floatOf(state.Data.HealthFactorTrigger)
				message := fmt.Sprintf(
					"After repaying, what health factor should the position be restored to? "+
						"(must be above your trigger of %g)", trigger)
				return message, []conversation.Option{
					{Value: "1.5", Label: "1.5"},
					{Value: "1.8", Label: "1.8"},
					{Value: "2.0", Label: "2.0"},
				}
			},
		},
		{
			step:   conversation.StepAwaitRepayPercent,
			filled: func(data *conversation.CollectedData) bool { return data.RepayPercent != nil },
			apply: func(text string, state *conversation.State, asked bool) bool {
				scope := text
				if !asked {
					match := repayAmount.FindStringSubmatch(text)
					if match == nil {
						return false
					}
					scope = match[1] + "%"
				}
				if value, ok := nlu.ExtractPercent(scope); ok {
					state.Data.RepayPercent = conversation.Float(value)
					return true
				}
				return false
			},
			prompt: func(state *conversation.State) (string, []conversation.Option) {
				return "What share of the debt should be repaid when the guard triggers?",
					[]conversation.Option{
						{Value: "25%", Label: "25%"},
						{Value: "50%", Label: "50%"},
						{Value: "75%", Label: "75%"},
					}
			},
		},
	}
}

func networkSlot(resolver ledger.Resolver) slot {
	return slot{
		step:   conversation.StepAwaitNetwork,
		filled: func(data *conversation.CollectedData) bool { return data.Network != "" },
		apply: func(text string, state *conversation.State, asked bool) bool {
			if network, ok := nlu.ExtractNetwork(text, resolver.Networks()); ok {
				state.Data.Network = network
				return true
			}
			return false
		},
		prompt: func(state *conversation.State) (string, []conversation.Option) {
			options := make([]conversation.Option, 0, 4)
			for _, name := range resolver.Networks() {
				options = append(options, conversation.Option{Value: name, Label: name})
			}
			return "Which network should this run on?", options
		},
	}
}

// customTokenSymbol 检查会话中已登记的自定义代币是否被文本提到。
// 地址本身的登记由管理器在槽位匹配前处理。
func customTokenSymbol(text string, state *conversation.State) (string, bool) {
	upper := strings.ToUpper(text)
	for symbol := range state.Data.CustomTokens {
		if strings.Contains(upper, symbol) {
			return symbol, true
		}
	}
	return "", false
}

// tokenOptions 从网络目录给出建议项，排除 exclude 指定的符号。
// 建议项从不限制用户的实际输入。
func tokenOptions(resolver ledger.Resolver, state *conversation.State, exclude string) []conversation.Option {
	network := state.Data.Network
	symbols := make([]string, 0, 8)
	for _, candidate := range []string{"ETH", "USDC", "USDT", "DAI", "WBTC", "LINK", "UNI"} {
		if candidate == exclude {
			continue
		}
		if _, ok := resolver.ResolveToken(network, candidate); ok {
			symbols = append(symbols, candidate)
		}
	}
	for symbol := range state.Data.CustomTokens {
		if symbol != exclude {
			symbols = append(symbols, symbol)
		}
	}
	sort.Strings(symbols)
	if len(symbols) > 5 {
		symbols = symbols[:5]
	}
	options := make([]conversation.Option, 0, len(symbols))
	for _, symbol := range symbols {
		options = append(options, conversation.Option{Value: symbol, Label: symbol})
	}
	return options
}

// missingSlots 返回尚未填充的槽位，保持声明顺序。
func missingSlots(schema []slot, data *conversation.CollectedData) []slot {
	missing := make([]slot, 0, len(schema))
	for _, s := range schema {
		if !s.filled(data) {
			missing = append(missing, s)
		}
	}
	return missing
}
