package dialogue

import (
	"context"
	stdErrors "errors"
	"strings"

	"ChainPilot/internal/conversation"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/ledger"
	"ChainPilot/internal/nlu"
	"ChainPilot/internal/validation"
	"ChainPilot/pkg/logger"
)

// defaultHistoryLimit 是会话历史的默认保留条数。
const defaultHistoryLimit = 20

// Publisher 在任务就绪时接收部署配置。实现方通常把配置投递到
// 部署队列，核心在 READY 之后不再负责。
type Publisher interface {
	Publish(ctx context.Context, config *DeploymentConfig) error
}

// Manager 驱动对话状态机：守卫链按固定优先级求值，
// 每个守卫要么给出终局响应，要么声明不适用并放行。
type Manager struct {
	store        conversation.Store
	resolver     ledger.Resolver
	pipeline     *validation.Pipeline
	answerer     *Answerer
	publisher    Publisher
	historyLimit int
}

// ManagerOption 定义可选的 Manager 配置。
type ManagerOption func(*Manager)

// WithPublisher 配置部署配置的接收方。
func WithPublisher(publisher Publisher) ManagerOption {
	return func(m *Manager) {
		m.publisher = publisher
	}
}

// WithHistoryLimit 设置会话历史保留条数。
func WithHistoryLimit(limit int) ManagerOption {
	return func(m *Manager) {
		if limit > 0 {
			m.historyLimit = limit
		}
	}
}

// NewManager 创建对话管理器。
func NewManager(store conversation.Store, resolver ledger.Resolver, pipeline *validation.Pipeline, answerer *Answerer, opts ...ManagerOption) *Manager {
	manager := &Manager{
		store:        store,
		resolver:     resolver,
		pipeline:     pipeline,
		answerer:     answerer,
		historyLimit: defaultHistoryLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(manager)
		}
	}
	return manager
}

// Handle 处理一轮用户输入并返回外发响应。network 为可选的预选网络，
// 仅在注册表认识它时写入共享上下文。
func (m *Manager) Handle(ctx context.Context, conversationID, account, network, message string) (*Response, error) {
	state, err := m.store.Get(ctx, conversationID)
	if err != nil {
		if !stdErrors.Is(err, conversation.ErrConversationNotFound) {
			return nil, err
		}
		state = conversation.NewState(conversationID)
	}
	if account != "" {
		state.Data.Account = account
	}
	if network != "" && state.Data.Network == "" {
		lowered := strings.ToLower(strings.TrimSpace(network))
		if _, ok := m.resolver.Client(lowered); ok {
			state.Data.Network = lowered
		}
	}
	state.AppendTurn("user", message, m.historyLimit)

	response := m.dispatch(ctx, state, message)
	response.Task = string(state.Task)

	state.AppendTurn("assistant", response.Message, m.historyLimit)
	if err := m.store.Put(ctx, state); err != nil {
		return nil, xerrors.Wrap(conversation.CodeConversationStorage, err, "保存会话状态失败")
	}
	return response, nil
}

// Delete 结束并删除一个会话。
func (m *Manager) Delete(ctx context.Context, conversationID string) error {
	return m.store.Delete(ctx, conversationID)
}

// dispatch 是守卫链本体，顺序固定。
func (m *Manager) dispatch(ctx context.Context, state *conversation.State, message string) *Response {
	// 1. 拒答类查询无条件短路，当前会话状态不受影响。
	if nlu.MatchesDeclinedQuery(message) {
		return helpResponse(state,
			"I can't check balances, predict prices, or move funds for you.")
	}

	// 2. 确认类状态只咨询确认/拒绝解析器，普通槽位抽取挂起。
	if m.inConfirmState(state) && !nlu.MatchesTaskCreation(message) {
		if nlu.DetectConfirmation(message) {
			return m.handleConfirmYes(ctx, state)
		}
		if nlu.DetectRejection(message) {
			return m.handleConfirmNo(state)
		}
		return m.reaskConfirmation(ctx, state, message)
	}

	// 3. 显式放弃当前任务。
	if state.Task != conversation.TaskNone && nlu.DetectCancel(message) {
		state.ResetTask()
		state.Step = conversation.StepCancelled
		return helpResponse(state, "Okay, I've cancelled that. Nothing was deployed.")
	}

	// 4. 意图分类。
	switch nlu.Classify(message, activeOf(state.Task)) {
	case nlu.IntentSwitchToStopOrder, nlu.IntentCreateStopOrder:
		return m.startTask(ctx, state, conversation.TaskStopOrder, message)
	case nlu.IntentSwitchToLiquidationGuard, nlu.IntentCreateLiquidationGuard:
		return m.startTask(ctx, state, conversation.TaskLiquidationGuard, message)
	case nlu.IntentOpenQuestion:
		return m.answerQuestion(ctx, state, message)
	case nlu.IntentContinue:
		return m.continueTask(ctx, state, message)
	default:
		return helpResponse(state, "I'm not sure I follow.")
	}
}

func (m *Manager) inConfirmState(state *conversation.State) bool {
	switch state.Step {
	case conversation.StepConfirmInsufficientBalance,
		conversation.StepConfirmLowLiquidity,
		conversation.StepFinalConfirmation:
		return true
	default:
		return false
	}
}

// startTask 开启或切换任务：清空任务槽位，保留账户、网络与自定义代币。
func (m *Manager) startTask(ctx context.Context, state *conversation.State, task conversation.TaskKind, message string) *Response {
	state.ResetTask()
	state.Task = task
	state.Step = conversation.StepInitial
	logger.L().Info("任务开始", "conversation_id", state.ID, "task", string(task))
	return m.continueTask(ctx, state, message)
}

// continueTask 推进槽位收集；全部就绪后进入校验。
func (m *Manager) continueTask(ctx context.Context, state *conversation.State, message string) *Response {
	// 校验阶段的任何输入都视作重试请求。
	if state.Step == conversation.StepValidating {
		return m.validate(ctx, state)
	}

	schema := schemaFor(state.Task, m.resolver)
	if len(schema) == 0 {
		return helpResponse(state, "")
	}

	// 用户给出合约地址时先登记自定义代币，再把符号交给槽位。
	slotInput := message
	if address, ok := nlu.ExtractAddress(message); ok && m.awaitingToken(state, schema) {
		symbol, outcome := m.pipeline.RegisterCustomToken(ctx, state, address)
		if outcome.Kind != validation.KindOK {
			logger.L().Warn("自定义代币登记失败",
				"conversation_id", state.ID, "kind", string(outcome.Kind), "error", outcome.Err)
			return askResponse(state, outcome.Message, outcome.Options)
		}
		slotInput = symbol
	}

	applied := false
	for _, s := range missingSlots(schema, &state.Data) {
		asked := s.step == state.Step
		if s.apply(slotInput, state, asked) {
			applied = true
		}
	}

	missing := missingSlots(schema, &state.Data)
	if len(missing) == 0 {
		return m.validate(ctx, state)
	}

	next := missing[0]
	prompt, options := next.prompt(state)
	if !applied && state.Step == next.step {
		prompt = "Sorry, I didn't catch that. " + prompt
	}
	state.Step = next.step
	return askResponse(state, prompt, options)
}

// awaitingToken 判断 schema 里是否还有未填的代币槽位。
func (m *Manager) awaitingToken(state *conversation.State, schema []slot) bool {
	for _, s := range schema {
		switch s.step {
		case conversation.StepAwaitSellToken, conversation.StepAwaitReceiveToken:
			if !s.filled(&state.Data) {
				return true
			}
		}
	}
	return false
}

// validate 运行外部校验流水线并把结果翻译成状态迁移。
func (m *Manager) validate(ctx context.Context, state *conversation.State) *Response {
	state.Step = conversation.StepValidating
	outcome := m.pipeline.Run(ctx, state)
	if outcome.Err != nil {
		logger.L().Warn("校验未通过",
			"conversation_id", state.ID, "kind", string(outcome.Kind), "error", outcome.Err)
	}

	switch outcome.Kind {
	case validation.KindOK:
		state.Step = conversation.StepFinalConfirmation
		return confirmResponse(state, summarize(state), nil)

	case validation.KindWarnInsufficientBalance:
		state.Step = conversation.StepConfirmInsufficientBalance
		return confirmResponse(state, outcome.Message, outcome.Options)

	case validation.KindWarnLowLiquidity:
		state.Step = conversation.StepConfirmLowLiquidity
		return confirmResponse(state, outcome.Message, outcome.Options)

	case validation.KindPairNotFound:
		state.Data.ReceiveToken = ""
		state.ClearDerived()
		state.Step = conversation.StepAwaitReceiveToken
		return askResponse(state, outcome.Message, outcome.Options)

	case validation.KindTokenInvalid:
		m.clearInvalidToken(state)
		state.ClearDerived()
		return askResponse(state, outcome.Message, outcome.Options)

	default:
		// 瞬态失败：槽位保留，停在校验节点，下一轮输入即重试。
		return askResponse(state, outcome.Message, outcome.Options)
	}
}

// clearInvalidToken 清掉无法解析的代币槽位并回到对应的收集节点。
func (m *Manager) clearInvalidToken(state *conversation.State) {
	data := &state.Data
	if data.SellToken != "" && !m.tokenResolvable(state, data.SellToken) {
		data.SellToken = ""
		state.Step = conversation.StepAwaitSellToken
		return
	}
	data.ReceiveToken = ""
	state.Step = conversation.StepAwaitReceiveToken
}

func (m *Manager) tokenResolvable(state *conversation.State, symbol string) bool {
	if _, ok := m.resolver.ResolveToken(state.Data.Network, symbol); ok {
		return true
	}
	_, ok := state.Data.CustomTokens[symbol]
	return ok
}

func (m *Manager) handleConfirmYes(ctx context.Context, state *conversation.State) *Response {
	switch state.Step {
	case conversation.StepConfirmInsufficientBalance:
		state.Data.AcceptedInsufficientBalance = true
		return m.validate(ctx, state)

	case conversation.StepConfirmLowLiquidity:
		state.Data.AcceptedLowLiquidity = true
		return m.validate(ctx, state)

	default: // StepFinalConfirmation
		config := buildDeploymentConfig(state)
		if m.publisher != nil {
			if err := m.publisher.Publish(ctx, config); err != nil {
				// 部署投递失败要让用户知道，配置保留在响应中可手动重试。
				logger.L().Error("部署配置投递失败", "conversation_id", state.ID, "error", err)
			}
		}
		logger.Audit().Info("自动化配置就绪",
			"conversation_id", state.ID,
			"task", config.Kind,
			"network", config.Network,
			"account", config.Account,
		)
		state.Step = conversation.StepReady
		state.ResetTask()
		return &Response{
			ConversationID: state.ID,
			Message: "All set! Your automation is ready and has been handed off for deployment. " +
				"Is there anything else you'd like to set up?",
			RequiresInput: false,
			InputType:     InputNone,
			Config:        config,
			Step:          state.Step,
		}
	}
}

func (m *Manager) handleConfirmNo(state *conversation.State) *Response {
	switch state.Step {
	case conversation.StepConfirmInsufficientBalance:
		// 拒绝风险：清掉引发警告的数量槽位，回到收集节点。
		state.Data.Amount = nil
		state.Data.AcceptedInsufficientBalance = false
		state.Step = conversation.StepAwaitAmount
		return askResponse(state,
			"No problem. How much "+state.Data.SellToken+" should the order sell instead?",
			[]conversation.Option{
				{Value: "all", Label: "All of it"},
				{Value: "half", Label: "Half"},
				{Value: "25%", Label: "A quarter"},
			})

	case conversation.StepConfirmLowLiquidity:
		// 深度不足出在交易对上：换收币方向，连同派生缓存一起作废。
		state.Data.ReceiveToken = ""
		state.Data.AcceptedLowLiquidity = false
		state.ClearDerived()
		state.Step = conversation.StepAwaitReceiveToken
		return askResponse(state,
			"No problem. Which token should you receive instead when the "+
				state.Data.SellToken+" is sold?",
			tokenOptions(m.resolver, state, state.Data.SellToken))

	default: // StepFinalConfirmation：拒绝等价于任务取消，上下文保留。
		state.ResetTask()
		state.Step = conversation.StepCancelled
		return helpResponse(state, "Okay, I've cancelled that. Nothing was deployed.")
	}
}

// reaskConfirmation 在确认状态下收到含糊输入时重新提问；
// 开放问题先回答再追问。
func (m *Manager) reaskConfirmation(ctx context.Context, state *conversation.State, message string) *Response {
	lead := ""
	if nlu.Classify(message, activeOf(state.Task)) == nlu.IntentOpenQuestion {
		lead = m.answerer.Answer(ctx, message, state.History) + "\n\n"
	}
	switch state.Step {
	case conversation.StepFinalConfirmation:
		return confirmResponse(state, lead+summarize(state), nil)
	default:
		return confirmResponse(state,
			lead+"Just to confirm: do you want to proceed despite the warning?", nil)
	}
}

// answerQuestion 处理开放问题；任务进行中时回答后追问当前槽位。
func (m *Manager) answerQuestion(ctx context.Context, state *conversation.State, message string) *Response {
	answer := m.answerer.Answer(ctx, message, state.History)

	if state.Task == conversation.TaskNone {
		response := helpResponse(state, "")
		response.Message = answer + "\n\n" + response.Message
		return response
	}

	schema := schemaFor(state.Task, m.resolver)
	missing := missingSlots(schema, &state.Data)
	if len(missing) == 0 {
		return askResponse(state, answer, nil)
	}
	next := missing[0]
	prompt, options := next.prompt(state)
	state.Step = next.step
	return askResponse(state, answer+"\n\nBack to your setup: "+prompt, options)
}

func activeOf(task conversation.TaskKind) nlu.ActiveTask {
	switch task {
	case conversation.TaskStopOrder:
		return nlu.ActiveStopOrder
	case conversation.TaskLiquidationGuard:
		return nlu.ActiveLiquidationGuard
	default:
		return nlu.ActiveNone
	}
}
