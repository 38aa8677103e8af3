package validation

import (
	"context"
	"errors"
	"strings"

	"ChainPilot/internal/conversation"
	"ChainPilot/internal/ledger"
	"ChainPilot/internal/nlu"
	"ChainPilot/pkg/logger"
)

// liquidityShareLimit 为单笔订单占池子深度的上限比例，超过即触发滑点警告。
const liquidityShareLimit = 0.10

// Pipeline 按固定顺序执行外部校验：余额、交易对、价格、流动性。
// 每一步的结果缓存在会话的 Derived 字段里，重跑不会重复请求；
// 任何一步失败立即返回对应的 Outcome，流水线内部不做重试。
type Pipeline struct {
	resolver ledger.Resolver
}

// NewPipeline 创建校验流水线。
func NewPipeline(resolver ledger.Resolver) *Pipeline {
	return &Pipeline{resolver: resolver}
}

// Run 对当前会话状态执行校验，返回首个未处理的结果。
func (p *Pipeline) Run(ctx context.Context, state *conversation.State) Outcome {
	client, ok := p.resolver.Client(state.Data.Network)
	if !ok {
		return NetworkError(errors.New("unknown network " + state.Data.Network))
	}

	switch state.Task {
	case conversation.TaskStopOrder:
		return p.runStopOrder(ctx, client, state)
	case conversation.TaskLiquidationGuard:
		return p.runLiquidationGuard(ctx, client, state)
	default:
		return OK()
	}
}

func (p *Pipeline) runStopOrder(ctx context.Context, client ledger.Client, state *conversation.State) Outcome {
	data := &state.Data

	sellToken, outcome := p.resolveToken(ctx, client, state, data.SellToken)
	if outcome != nil {
		return *outcome
	}
	receiveToken, outcome := p.resolveToken(ctx, client, state, data.ReceiveToken)
	if outcome != nil {
		return *outcome
	}

	if data.Derived == nil {
		data.Derived = &conversation.Derived{}
	}
	derived := data.Derived

	// 同一轮内交易对只解析一次。
	var cachedPair *ledger.Pair
	loadPair := func() (*ledger.Pair, Outcome) {
		if cachedPair != nil {
			return cachedPair, OK()
		}
		pair, err := client.FindPair(ctx, sellToken, receiveToken)
		if err != nil {
			if errors.Is(err, ledger.ErrPairNotFound) {
				return nil, PairNotFound(data.SellToken, data.ReceiveToken, err)
			}
			return nil, NetworkError(err)
		}
		cachedPair = pair
		derived.PairAddress = pair.Address
		return pair, OK()
	}

	// 第一步：余额。
	if !derived.BalanceKnown {
		balance, err := client.GetBalance(ctx, data.Account, sellToken)
		if err != nil {
			return BalanceFetchFailed(err)
		}
		derived.Balance = balance
		derived.BalanceKnown = true
	}
	if data.Amount != nil && data.Amount.Mode == nlu.AmountExact &&
		data.Amount.Value > derived.Balance && !data.AcceptedInsufficientBalance {
		return WarnInsufficientBalance(derived.Balance, data.Amount.Value, data.SellToken)
	}

	// 第二步：交易对。
	if derived.PairAddress == "" {
		if _, outcome := loadPair(); outcome.Kind != KindOK {
			return outcome
		}
	}

	// 第三步：现价与触发价。
	if derived.CurrentPrice == 0 {
		pair, outcome := loadPair()
		if outcome.Kind != KindOK {
			return outcome
		}
		price, err := client.GetPrice(ctx, pair)
		if err != nil {
			return PriceFetchFailed(err)
		}
		derived.CurrentPrice = price
		if data.DropPercent != nil {
			derived.TriggerPrice = price * (1 - *data.DropPercent/100)
		}
	}

	// 第四步：流动性深度。
	if !derived.LiquidityKnown {
		pair, outcome := loadPair()
		if outcome.Kind != KindOK {
			return outcome
		}
		liquidity, err := client.CheckLiquidity(ctx, pair)
		if err != nil {
			return NetworkError(err)
		}
		derived.Liquidity = liquidity
		derived.LiquidityKnown = true
	}
	if !data.AcceptedLowLiquidity {
		orderSize := p.orderSizeInQuote(data, derived)
		if derived.Liquidity > 0 && orderSize > derived.Liquidity*liquidityShareLimit {
			return WarnLowLiquidity(data.SellToken + "/" + data.ReceiveToken)
		}
	}

	logger.L().Info("校验流水线通过",
		"conversation_id", state.ID,
		"pair", derived.PairAddress,
		"price", derived.CurrentPrice,
		"trigger", derived.TriggerPrice,
	)
	return OK()
}

// runLiquidationGuard 校验守护任务：确认账户在目标网络上真实存在。
// 借贷仓位数据由部署后的链上合约读取，这里只验证账户可达，
// 零余额不触发警告。
func (p *Pipeline) runLiquidationGuard(ctx context.Context, client ledger.Client, state *conversation.State) Outcome {
	data := &state.Data
	if data.Derived == nil {
		data.Derived = &conversation.Derived{}
	}
	derived := data.Derived

	if !derived.BalanceKnown {
		native := ledger.Token{Symbol: "ETH", Native: true}
		balance, err := client.GetBalance(ctx, data.Account, native)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return NetworkError(err)
			}
			return BalanceFetchFailed(err)
		}
		derived.Balance = balance
		derived.BalanceKnown = true
	}

	logger.L().Info("校验流水线通过",
		"conversation_id", state.ID,
		"protocol", data.Protocol,
	)
	return OK()
}

// resolveToken 将符号解析为具体代币：先查网络目录，再查会话里
// 注册过的自定义代币。自定义地址每次重新验证以取得精度信息。
func (p *Pipeline) resolveToken(ctx context.Context, client ledger.Client, state *conversation.State, symbol string) (ledger.Token, *Outcome) {
	if token, ok := p.resolver.ResolveToken(state.Data.Network, symbol); ok {
		return token, nil
	}
	if address, ok := state.Data.CustomTokens[strings.ToUpper(symbol)]; ok {
		token, err := client.ValidateTokenContract(ctx, address)
		if err != nil {
			var outcome Outcome
			if errors.Is(err, ledger.ErrTokenInvalid) {
				outcome = TokenInvalid(address, err)
			} else {
				outcome = NetworkError(err)
			}
			return ledger.Token{}, &outcome
		}
		return *token, nil
	}
	outcome := TokenInvalid(symbol, ledger.ErrTokenInvalid)
	return ledger.Token{}, &outcome
}

// RegisterCustomToken 验证用户提供的合约地址并登记到会话中。
// 返回解析出的代币符号。
func (p *Pipeline) RegisterCustomToken(ctx context.Context, state *conversation.State, address string) (string, Outcome) {
	client, ok := p.resolver.Client(state.Data.Network)
	if !ok {
		return "", NetworkError(errors.New("unknown network " + state.Data.Network))
	}
	token, err := client.ValidateTokenContract(ctx, address)
	if err != nil {
		if errors.Is(err, ledger.ErrTokenInvalid) {
			return "", TokenInvalid(address, err)
		}
		return "", NetworkError(err)
	}
	symbol := strings.ToUpper(token.Symbol)
	state.RegisterCustomToken(symbol, address)
	logger.L().Info("已登记自定义代币",
		"conversation_id", state.ID,
		"symbol", symbol,
		"address", address,
	)
	return symbol, OK()
}

func (p *Pipeline) orderSizeInQuote(data *conversation.CollectedData, derived *conversation.Derived) float64 {
	if data.Amount == nil || derived.CurrentPrice == 0 {
		return 0
	}
	switch data.Amount.Mode {
	case nlu.AmountAll:
		return derived.Balance * derived.CurrentPrice
	case nlu.AmountPercent:
		return derived.Balance * data.Amount.Value / 100 * derived.CurrentPrice
	default:
		return data.Amount.Value * derived.CurrentPrice
	}
}
