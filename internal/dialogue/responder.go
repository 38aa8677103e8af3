package dialogue

import (
	"fmt"

	"github.com/google/uuid"

	"ChainPilot/internal/conversation"
	"ChainPilot/internal/nlu"
)

// 输入形态提示，前端据此渲染输入控件。
const (
	InputText         = "text"
	InputChoice       = "choice"
	InputConfirmation = "confirmation"
	InputAmount       = "amount"
	InputToken        = "token"
	InputNetwork      = "network"
	InputNumber       = "number"
	InputNone         = "none"
)

// Response 是一次对话轮次的外发结果。
type Response struct {
	ConversationID string                `json:"conversation_id"`
	Message        string                `json:"message"`
	RequiresInput  bool                  `json:"requires_input"`
	InputType      string                `json:"input_type,omitempty"`
	Options        []conversation.Option `json:"options,omitempty"`
	Config         *DeploymentConfig     `json:"config,omitempty"`
	Task           string                `json:"task,omitempty"`
	Step           conversation.Step     `json:"step"`
}

// DeploymentConfig 是任务就绪后交给部署组件的完整配置。
type DeploymentConfig struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Network string `json:"network"`
	Account string `json:"account"`

	SellToken    string      `json:"sell_token,omitempty"`
	ReceiveToken string      `json:"receive_token,omitempty"`
	Amount       *nlu.Amount `json:"amount,omitempty"`
	DropPercent  float64     `json:"drop_percent,omitempty"`
	CurrentPrice float64     `json:"current_price,omitempty"`
	TriggerPrice float64     `json:"trigger_price,omitempty"`
	PairAddress  string      `json:"pair_address,omitempty"`

	Protocol            string  `json:"protocol,omitempty"`
	HealthFactorTrigger float64 `json:"health_factor_trigger,omitempty"`
	TargetHealthFactor  float64 `json:"target_health_factor,omitempty"`
	RepayPercent        float64 `json:"repay_percent,omitempty"`

	DeploymentReady bool `json:"deployment_ready"`
}

func askResponse(state *conversation.State, message string, options []conversation.Option) *Response {
	inputType := inputShapeFor(state.Step)
	if inputType == InputText && len(options) > 0 {
		inputType = InputChoice
	}
	return &Response{
		ConversationID: state.ID,
		Message:        message,
		RequiresInput:  true,
		InputType:      inputType,
		Options:        options,
		Step:           state.Step,
	}
}

// inputShapeFor 把当前步骤映射为输入形态提示。
func inputShapeFor(step conversation.Step) string {
	switch step {
	case conversation.StepAwaitNetwork:
		return InputNetwork
	case conversation.StepAwaitSellToken, conversation.StepAwaitReceiveToken:
		return InputToken
	case conversation.StepAwaitAmount:
		return InputAmount
	case conversation.StepAwaitDropPercent, conversation.StepAwaitHealthFactor,
		conversation.StepAwaitTargetHealthFactor, conversation.StepAwaitRepayPercent:
		return InputNumber
	default:
		return InputText
	}
}

func confirmResponse(state *conversation.State, message string, options []conversation.Option) *Response {
	if len(options) == 0 {
		options = []conversation.Option{
			{Value: "yes", Label: "Yes"},
			{Value: "no", Label: "No"},
		}
	}
	return &Response{
		ConversationID: state.ID,
		Message:        message,
		RequiresInput:  true,
		InputType:      InputConfirmation,
		Options:        options,
		Step:           state.Step,
	}
}

// helpResponse 是兜底回复：永远给出两个任务入口和学习入口，
// 对话绝不在没有下一步动作的情况下结束。
func helpResponse(state *conversation.State, lead string) *Response {
	message := lead
	if message != "" {
		message += " "
	}
	message += "Here's what I can help you with:"
	return &Response{
		ConversationID: state.ID,
		Message:        message,
		RequiresInput:  true,
		InputType:      InputChoice,
		Options: []conversation.Option{
			{Value: "create a stop order", Label: "Set up a stop order"},
			{Value: "create a liquidation guard", Label: "Protect a lending position"},
			{Value: "what is this platform", Label: "Learn about the platform"},
		},
		Step: state.Step,
	}
}

// buildDeploymentConfig 从会话状态组装部署配置。
func buildDeploymentConfig(state *conversation.State) *DeploymentConfig {
	data := state.Data
	config := &DeploymentConfig{
		ID:              uuid.NewString(),
		Kind:            string(state.Task),
		Network:         data.Network,
		Account:         data.Account,
		DeploymentReady: true,
	}
	switch state.Task {
	case conversation.TaskStopOrder:
		config.SellToken = data.SellToken
		config.ReceiveToken = data.ReceiveToken
		config.Amount = data.Amount
		if data.DropPercent != nil {
			config.DropPercent = *data.DropPercent
		}
		if data.Derived != nil {
			config.CurrentPrice = data.Derived.CurrentPrice
			config.TriggerPrice = data.Derived.TriggerPrice
			config.PairAddress = data.Derived.PairAddress
		}
	case conversation.TaskLiquidationGuard:
		config.Protocol = data.Protocol
		if data.HealthFactorTrigger != nil {
			config.HealthFactorTrigger = *data.HealthFactorTrigger
		}
		if data.TargetHealthFactor != nil {
			config.TargetHealthFactor = *data.TargetHealthFactor
		}
		if data.RepayPercent != nil {
			config.RepayPercent = *data.RepayPercent
		}
	}
	return config
}

// summarize 生成最终确认前的配置摘要。
func summarize(state *conversation.State) string {
	data := state.Data
	switch state.Task {
	case conversation.TaskStopOrder:
		amount := describeAmount(data.Amount)
		summary := fmt.Sprintf(
			"Here's your stop order: sell %s %s for %s on %s when the price drops by %g%%.",
			amount, data.SellToken, data.ReceiveToken, data.Network, floatOf(data.DropPercent))
		if data.Derived != nil && data.Derived.CurrentPrice > 0 {
			summary += fmt.Sprintf(" Current price is %g %s, so the trigger price is %g %s.",
				data.Derived.CurrentPrice, data.ReceiveToken,
				data.Derived.TriggerPrice, data.ReceiveToken)
		}
		return summary + " Shall I deploy it?"
	case conversation.TaskLiquidationGuard:
		return fmt.Sprintf(
			"Here's your liquidation guard: watch your %s position on %s, and when the health "+
				"factor falls below %g, repay %g%% of the debt to bring it back toward %g. "+
				"Shall I deploy it?",
			data.Protocol, data.Network,
			floatOf(data.HealthFactorTrigger), floatOf(data.RepayPercent),
			floatOf(data.TargetHealthFactor))
	default:
		return "Shall I deploy it?"
	}
}

func describeAmount(amount *nlu.Amount) string {
	if amount == nil {
		return ""
	}
	switch amount.Mode {
	case nlu.AmountAll:
		return "all of your"
	case nlu.AmountPercent:
		return fmt.Sprintf("%g%% of your", amount.Value)
	default:
		return fmt.Sprintf("%g", amount.Value)
	}
}

func floatOf(value *float64) float64 {
	if value == nil {
		return 0
	}
	return *value
}
