package nlu

import "strings"

// ActiveTask 告知分类器当前会话中已激活的任务。
type ActiveTask int

const (
	ActiveNone ActiveTask = iota
	ActiveStopOrder
	ActiveLiquidationGuard
)

// Intent 是一次用户输入的分类结果。
type Intent string

const (
	// IntentDeclinedQuery 表示明确不支持的查询类别，直接短路。
	IntentDeclinedQuery Intent = "declined_query"
	// IntentSwitchToStopOrder 表示在守护任务进行中切换到止损单。
	IntentSwitchToStopOrder Intent = "switch_to_stop_order"
	// IntentSwitchToLiquidationGuard 表示在止损单进行中切换到清算守护。
	IntentSwitchToLiquidationGuard Intent = "switch_to_liquidation_guard"
	// IntentCreateStopOrder 表示新建止损单任务。
	IntentCreateStopOrder Intent = "create_stop_order"
	// IntentCreateLiquidationGuard 表示新建清算守护任务。
	IntentCreateLiquidationGuard Intent = "create_liquidation_guard"
	// IntentOpenQuestion 表示平台或概念类开放问题。
	IntentOpenQuestion Intent = "open_question"
	// IntentContinue 表示继续当前任务的槽位补全。
	IntentContinue Intent = "continue"
	// IntentUnknown 表示无法识别，交由帮助响应兜底。
	IntentUnknown Intent = "unknown"
)

// declinedPhrases 列举明确拒答的查询类别（余额查询、行情预测、转账）。
var declinedPhrases = []string{
	"my balance",
	"check balance",
	"check my balance",
	"how much do i have",
	"how much eth do i",
	"my portfolio",
	"portfolio value",
	"price prediction",
	"predict the price",
	"will the price",
	"should i buy",
	"should i sell",
	"send money",
	"transfer funds",
	"make a transfer",
}

// setupVerbs 表示新建意图所需的动词信号，任一命中即可。
var setupVerbs = []string{
	"create", "set up", "setup", "make", "build", "add", "start",
	"configure", "open", "place", "new",
	"i want", "i need", "i'd like", "can you", "could you", "please",
	"protect",
}

// stopOrderPhrases 是止损单任务的触发词组。
var stopOrderPhrases = []string{
	"stop order",
	"stop-loss",
	"stop loss",
	"sell order",
	"protective sell",
	"limit my losses",
	"sell my",
	"sell when",
	"price drops",
}

// guardPhrases 是清算守护任务的触发词组。
var guardPhrases = []string{
	"liquidation guard",
	"liquidation protection",
	"protect my loan",
	"protect my position",
	"lending position",
	"liquidation",
	"health factor",
	"collateral",
	"borrow position",
}

// questionPrefixes 用于识别开放问题。
var questionPrefixes = []string{
	"what is", "what are", "what's", "how does", "how do", "how can",
	"why", "explain", "tell me about", "can i learn", "help me understand",
}

// Classify 按固定优先级对输入分类，先命中者胜出。
func Classify(text string, active ActiveTask) Intent {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		if active != ActiveNone {
			return IntentContinue
		}
		return IntentUnknown
	}

	// 1. 拒答类查询永远最先判断，跳过所有任务逻辑。
	if MatchesDeclinedQuery(lower) {
		return IntentDeclinedQuery
	}

	stopOrder := MatchesStopOrderCreation(lower)
	guard := MatchesGuardCreation(lower)

	// 2. 任务切换：激活任务与另一任务的创建词组同时存在。
	if active == ActiveStopOrder && guard && !stopOrder {
		return IntentSwitchToLiquidationGuard
	}
	if active == ActiveLiquidationGuard && stopOrder && !guard {
		return IntentSwitchToStopOrder
	}

	// 3. 新建任务，止损单优先于清算守护。
	if active != ActiveStopOrder && stopOrder {
		return IntentCreateStopOrder
	}
	if active != ActiveLiquidationGuard && guard {
		return IntentCreateLiquidationGuard
	}

	// 4. 开放问题。
	if matchesOpenQuestion(lower) {
		return IntentOpenQuestion
	}

	// 5. 兜底：有任务则继续，否则未知。
	if active != ActiveNone {
		return IntentContinue
	}
	return IntentUnknown
}

// MatchesDeclinedQuery 判断输入是否落在拒答类别中。
func MatchesDeclinedQuery(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range declinedPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// MatchesStopOrderCreation 判断输入是否为止损单创建话术。
// 需要动词信号与任务词组同时出现，避免把普通槽位回答当成新建。
func MatchesStopOrderCreation(text string) bool {
	lower := strings.ToLower(text)
	return hasSetupVerb(lower) && matchesAny(lower, stopOrderPhrases)
}

// MatchesGuardCreation 判断输入是否为清算守护创建话术。
func MatchesGuardCreation(text string) bool {
	lower := strings.ToLower(text)
	return hasSetupVerb(lower) && matchesAny(lower, guardPhrases)
}

// MatchesTaskCreation 判断输入是否命中任一任务的创建话术。
// 供确认/拒绝解析器做二次校验使用。
func MatchesTaskCreation(text string) bool {
	return MatchesStopOrderCreation(text) || MatchesGuardCreation(text)
}

func hasSetupVerb(lower string) bool {
	for _, verb := range setupVerbs {
		if strings.Contains(lower, verb) {
			return true
		}
	}
	return false
}

func matchesAny(lower string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func matchesOpenQuestion(lower string) bool {
	for _, prefix := range questionPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return strings.HasSuffix(lower, "?") && matchesAny(lower, []string{
		"platform", "automation", "work", "mean", "smart contract", "deploy",
	})
}
