package validation

import (
	"fmt"

	"ChainPilot/internal/conversation"
	xerrors "ChainPilot/internal/errors"
)

// Kind 是校验流水线结果的封闭分类。
type Kind string

const (
	// KindOK 表示全部校验通过。
	KindOK Kind = "OK"

	// 软警告：流程暂停等待用户明确承担风险。
	KindWarnInsufficientBalance Kind = "WARN_INSUFFICIENT_BALANCE"
	KindWarnLowLiquidity        Kind = "WARN_LOW_LIQUIDITY"

	// 硬失败：每种都对应一条定制的恢复提示。
	KindBalanceFetchFailed Kind = "BALANCE_FETCH_FAILED"
	KindPairNotFound       Kind = "PAIR_NOT_FOUND"
	KindPriceFetchFailed   Kind = "PRICE_FETCH_FAILED"
	KindNetworkError       Kind = "NETWORK_ERROR"
	KindTokenInvalid       Kind = "TOKEN_INVALID"
)

const (
	CodeBalanceFetchFailed xerrors.Code = "BALANCE_FETCH_FAILED"
	CodePairNotFound       xerrors.Code = "PAIR_NOT_FOUND"
	CodePriceFetchFailed   xerrors.Code = "PRICE_FETCH_FAILED"
	CodeNetworkError       xerrors.Code = "NETWORK_ERROR"
	CodeTokenInvalid       xerrors.Code = "TOKEN_INVALID"
)

func init() {
	xerrors.Register(CodeBalanceFetchFailed, xerrors.Attributes{
		Message:   "balance lookup failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
	xerrors.Register(CodePairNotFound, xerrors.Attributes{
		Message:   "trading pair not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodePriceFetchFailed, xerrors.Attributes{
		Message:   "price lookup failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
	xerrors.Register(CodeNetworkError, xerrors.Attributes{
		Message:   "ledger network error",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeTokenInvalid, xerrors.Attributes{
		Message:   "token contract invalid",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// Outcome 是一次流水线运行的结果。
// Message 与 Options 已经是面向用户的恢复提示，调用方直接透传，
// 绝不把底层技术错误串展示给用户。
type Outcome struct {
	Kind    Kind
	Message string
	Options []conversation.Option
	Err     error
}

// OK 返回通过结果。
func OK() Outcome {
	return Outcome{Kind: KindOK}
}

func yesNoOptions() []conversation.Option {
	return []conversation.Option{
		{Value: "yes", Label: "Yes, proceed anyway"},
		{Value: "no", Label: "No, let me change it"},
	}
}

func retryOptions() []conversation.Option {
	return []conversation.Option{
		{Value: "retry", Label: "Try again"},
		{Value: "different tokens", Label: "Choose different tokens"},
		{Value: "switch task", Label: "Set up a different automation"},
		{Value: "ask a question", Label: "Ask a question"},
	}
}

// WarnInsufficientBalance 构造余额不足软警告。
func WarnInsufficientBalance(balance, requested float64, symbol string) Outcome {
	return Outcome{
		Kind: KindWarnInsufficientBalance,
		Message: fmt.Sprintf(
			"Heads up: your %s balance is %g but the order asks for %g. "+
				"The automation will only execute what your balance covers. Continue anyway?",
			symbol, balance, requested),
		Options: yesNoOptions(),
	}
}

// WarnLowLiquidity 构造流动性不足软警告。
func WarnLowLiquidity(symbol string) Outcome {
	return Outcome{
		Kind: KindWarnLowLiquidity,
		Message: "Heads up: the " + symbol + " pool is shallow relative to your order size, " +
			"so the swap may suffer significant slippage. Continue anyway?",
		Options: yesNoOptions(),
	}
}

// BalanceFetchFailed 构造余额查询失败结果。
func BalanceFetchFailed(err error) Outcome {
	return Outcome{
		Kind: KindBalanceFetchFailed,
		Message: "I couldn't fetch your balance just now. This is usually temporary, " +
			"you can retry, or we can set things up differently.",
		Options: retryOptions(),
		Err:     xerrors.Wrap(CodeBalanceFetchFailed, err, "余额查询失败"),
	}
}

// PairNotFound 构造交易对不存在结果。
func PairNotFound(sell, receive string, err error) Outcome {
	return Outcome{
		Kind: KindPairNotFound,
		Message: "There is no liquid trading pair between " + sell + " and " + receive +
			" on this network. Would you like to choose different tokens?",
		Options: []conversation.Option{
			{Value: "different tokens", Label: "Choose different tokens"},
			{Value: "switch task", Label: "Set up a different automation"},
			{Value: "ask a question", Label: "Ask a question"},
		},
		Err: xerrors.Wrap(CodePairNotFound, err, "交易对不存在"),
	}
}

// PriceFetchFailed 构造价格查询失败结果。
func PriceFetchFailed(err error) Outcome {
	return Outcome{
		Kind: KindPriceFetchFailed,
		Message: "I couldn't fetch the current price for that pair. This is usually temporary, " +
			"you can retry, or choose different tokens.",
		Options: retryOptions(),
		Err:     xerrors.Wrap(CodePriceFetchFailed, err, "价格查询失败"),
	}
}

// NetworkError 构造网络访问失败结果。
func NetworkError(err error) Outcome {
	return Outcome{
		Kind: KindNetworkError,
		Message: "I'm having trouble reaching the network right now. " +
			"You can retry in a moment, or switch to a different network.",
		Options: retryOptions(),
		Err:     xerrors.Wrap(CodeNetworkError, err, "网络访问失败"),
	}
}

// TokenInvalid 构造代币地址无效结果。
func TokenInvalid(address string, err error) Outcome {
	return Outcome{
		Kind: KindTokenInvalid,
		Message: "The address " + address + " doesn't look like a valid token contract on this network. " +
			"Please double-check the address, or pick one of the known tokens.",
		Options: []conversation.Option{
			{Value: "different tokens", Label: "Choose a known token"},
			{Value: "ask a question", Label: "Ask a question"},
		},
		Err: xerrors.Wrap(CodeTokenInvalid, err, "代币地址无效"),
	}
}
