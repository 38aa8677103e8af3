package conversation

import (
	"time"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/nlu"
)

// TaskKind 表示会话当前承载的自动化任务类型。
type TaskKind string

const (
	TaskNone             TaskKind = ""
	TaskStopOrder        TaskKind = "stop_order"
	TaskLiquidationGuard TaskKind = "liquidation_guard"
)

// Step 表示对话状态机中的节点。
type Step string

const (
	StepInitial Step = "initial"

	// 止损单槽位收集。
	StepAwaitNetwork      Step = "await_network"
	StepAwaitSellToken    Step = "await_sell_token"
	StepAwaitReceiveToken Step = "await_receive_token"
	StepAwaitAmount       Step = "await_amount"
	StepAwaitDropPercent  Step = "await_drop_percent"

	// 清算守护槽位收集。
	StepAwaitProtocol           Step = "await_protocol"
	StepAwaitHealthFactor       Step = "await_health_factor"
	StepAwaitTargetHealthFactor Step = "await_target_health_factor"
	StepAwaitRepayPercent       Step = "await_repay_percent"

	// 校验与确认阶段。
	StepValidating                 Step = "validating"
	StepConfirmInsufficientBalance Step = "confirm_insufficient_balance"
	StepConfirmLowLiquidity        Step = "confirm_low_liquidity"
	StepFinalConfirmation          Step = "final_confirmation"
	StepReady                      Step = "ready"
	StepCancelled                  Step = "cancelled"
)

// Derived 保存外部校验流水线算出的派生数据。
// Known 标记区分"未查询"与"查询结果恰好为零"。
type Derived struct {
	PairAddress    string  `json:"pair_address,omitempty"`
	CurrentPrice   float64 `json:"current_price,omitempty"`
	TriggerPrice   float64 `json:"trigger_price,omitempty"`
	Balance        float64 `json:"balance,omitempty"`
	BalanceKnown   bool    `json:"balance_known,omitempty"`
	Liquidity      float64 `json:"liquidity,omitempty"`
	LiquidityKnown bool    `json:"liquidity_known,omitempty"`
}

// CollectedData 保存任务槽位与校验派生数据。
// 指针槽位区分"未填"与"填了零值"。
type CollectedData struct {
	Account string `json:"account,omitempty"`
	Network string `json:"network,omitempty"`

	// 止损单槽位。
	SellToken    string      `json:"sell_token,omitempty"`
	ReceiveToken string      `json:"receive_token,omitempty"`
	Amount       *nlu.Amount `json:"amount,omitempty"`
	DropPercent  *float64    `json:"drop_percent,omitempty"`

	// 清算守护槽位。
	Protocol            string   `json:"protocol,omitempty"`
	HealthFactorTrigger *float64 `json:"health_factor_trigger,omitempty"`
	TargetHealthFactor  *float64 `json:"target_health_factor,omitempty"`
	RepayPercent        *float64 `json:"repay_percent,omitempty"`

	// 用户注册的自定义代币：符号 -> 合约地址。跨任务保留。
	CustomTokens map[string]string `json:"custom_tokens,omitempty"`

	// 风险确认标记，避免重复提示同一个警告。
	AcceptedInsufficientBalance bool `json:"accepted_insufficient_balance,omitempty"`
	AcceptedLowLiquidity        bool `json:"accepted_low_liquidity,omitempty"`

	Derived *Derived `json:"derived,omitempty"`
}

// Turn 是一条历史消息。
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	At      int64  `json:"at"`
}

// Option 是响应中向用户展示的可点选项。
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// State 描述一个会话的完整状态。
type State struct {
	ID        string        `json:"id"`
	Task      TaskKind      `json:"task"`
	Step      Step          `json:"step"`
	Data      CollectedData `json:"data"`
	History   []Turn        `json:"history,omitempty"`
	CreatedAt int64         `json:"created_at"`
	UpdatedAt int64         `json:"updated_at"`
}

// ErrConversationNotFound 表示指定的会话不存在。
var ErrConversationNotFound = xerrors.New(CodeConversationNotFound, "conversation not found")

const (
	CodeConversationNotFound xerrors.Code = "CONVERSATION_NOT_FOUND"
	CodeConversationStorage  xerrors.Code = "CONVERSATION_STORAGE_FAILED"
)

func init() {
	xerrors.Register(CodeConversationNotFound, xerrors.Attributes{
		Message:   "conversation not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeConversationStorage, xerrors.Attributes{
		Message:   "conversation storage failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// NewState 创建处于初始节点的会话。
func NewState(id string) *State {
	now := time.Now().Unix()
	return &State{
		ID:        id,
		Task:      TaskNone,
		Step:      StepInitial,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ResetTask 清空任务槽位与派生数据，保留账户、网络与自定义代币。
// Step 由调用方决定，这里不改动。
func (s *State) ResetTask() {
	s.Task = TaskNone
	s.Data = CollectedData{
		Account:      s.Data.Account,
		Network:      s.Data.Network,
		CustomTokens: s.Data.CustomTokens,
	}
}

// ClearDerived 丢弃校验派生数据，下一轮流水线重新计算。
func (s *State) ClearDerived() {
	s.Data.Derived = nil
	s.Data.AcceptedInsufficientBalance = false
	s.Data.AcceptedLowLiquidity = false
}

// AppendTurn 追加一条历史消息并按 limit 截断最旧的记录。
func (s *State) AppendTurn(role, content string, limit int) {
	s.History = append(s.History, Turn{Role: role, Content: content, At: time.Now().Unix()})
	if limit > 0 && len(s.History) > limit {
		s.History = s.History[len(s.History)-limit:]
	}
}

// RegisterCustomToken 记录一个用户提供的代币合约地址。
func (s *State) RegisterCustomToken(symbol, address string) {
	if s.Data.CustomTokens == nil {
		s.Data.CustomTokens = make(map[string]string)
	}
	s.Data.CustomTokens[symbol] = address
}

// Clone 返回状态的深拷贝，存储实现用它避免共享可变数据。
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	clone := *s
	if s.Data.Amount != nil {
		amount := *s.Data.Amount
		clone.Data.Amount = &amount
	}
	clone.Data.DropPercent = cloneFloat(s.Data.DropPercent)
	clone.Data.HealthFactorTrigger = cloneFloat(s.Data.HealthFactorTrigger)
	clone.Data.TargetHealthFactor = cloneFloat(s.Data.TargetHealthFactor)
	clone.Data.RepayPercent = cloneFloat(s.Data.RepayPercent)
	if s.Data.Derived != nil {
		derived := *s.Data.Derived
		clone.Data.Derived = &derived
	}
	if s.Data.CustomTokens != nil {
		tokens := make(map[string]string, len(s.Data.CustomTokens))
		for symbol, address := range s.Data.CustomTokens {
			tokens[symbol] = address
		}
		clone.Data.CustomTokens = tokens
	}
	if s.History != nil {
		clone.History = append([]Turn(nil), s.History...)
	}
	return &clone
}

func cloneFloat(value *float64) *float64 {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

// Float 返回一个 float64 指针，槽位赋值时使用。
func Float(value float64) *float64 {
	return &value
}
