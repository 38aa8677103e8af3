package ledger

import (
	"context"
	"errors"
)

// Token 描述某个网络上的一种资产。
type Token struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Native   bool   `json:"native,omitempty"`
}

// Pair 描述两种资产之间的交易对及其储备量。
type Pair struct {
	Address      string  `json:"address"`
	Base         Token   `json:"base"`
	Quote        Token   `json:"quote"`
	ReserveBase  float64 `json:"reserve_base"`
	ReserveQuote float64 `json:"reserve_quote"`
}

var (
	// ErrPairNotFound 表示两种资产之间不存在有流动性的交易对。
	ErrPairNotFound = errors.New("trading pair not found")
	// ErrTokenInvalid 表示给定地址不是一个合法的代币合约。
	ErrTokenInvalid = errors.New("token contract invalid")
)

// Client 定义了核心对账本数据服务的全部依赖。
// 每个实现都绑定到一个具体网络。
type Client interface {
	// GetBalance 查询账户持有的某种资产数量（按十进制单位换算）。
	GetBalance(ctx context.Context, account string, token Token) (float64, error)
	// FindPair 解析两种资产之间的交易对；无流动性时返回 ErrPairNotFound。
	FindPair(ctx context.Context, base, quote Token) (*Pair, error)
	// GetPrice 返回交易对的现价（每单位 base 对应的 quote 数量）。
	GetPrice(ctx context.Context, pair *Pair) (float64, error)
	// CheckLiquidity 返回交易对 quote 侧的可用深度。
	CheckLiquidity(ctx context.Context, pair *Pair) (float64, error)
	// ValidateTokenContract 验证地址是否为格式良好的代币合约，
	// 成功时返回解析出的符号与精度；否则返回 ErrTokenInvalid。
	ValidateTokenContract(ctx context.Context, address string) (*Token, error)
	// Close 释放底层连接。
	Close()
}

// Resolver 是拨号器对外暴露的查询面：按网络取客户端、解析符号。
// Registry 是生产实现，测试可以提供内存版本。
type Resolver interface {
	Client(network string) (Client, bool)
	ResolveToken(network, symbol string) (Token, bool)
	Networks() []string
	DefaultNetwork() string
}
