package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"ChainPilot/internal/ledger"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM backed ledger client.
type Config struct {
	Name           string
	RPCURL         string
	FactoryAddress string
	Notes          string
}

// backend mirrors the subset of ethclient methods the ledger layer needs,
// allowing tests to substitute an in-memory implementation.
type backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// Client implements the ledger.Client interface for EVM compatible networks
// whose on-chain liquidity follows the UniswapV2 factory/pair layout.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	eth       backend
	factory   common.Address
}

const (
	erc20ABIJSON = `[
		{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
		{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
		{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
	]`
	factoryABIJSON = `[
		{"constant":true,"inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"}],"name":"getPair","outputs":[{"name":"pair","type":"address"}],"type":"function"}
	]`
	pairABIJSON = `[
		{"constant":true,"inputs":[],"name":"token0","outputs":[{"name":"","type":"address"}],"type":"function"},
		{"constant":true,"inputs":[],"name":"getReserves","outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}],"type":"function"}
	]`
)

var (
	erc20ABI   abi.ABI
	factoryABI abi.ABI
	pairABI    abi.ABI
)

func init() {
	erc20ABI = mustParseABI(erc20ABIJSON)
	factoryABI = mustParseABI(factoryABIJSON)
	pairABI = mustParseABI(pairABIJSON)
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("解析内置 ABI 失败: %v", err))
	}
	return parsed
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置账本 RPC 地址")
	}
	factoryAddr := strings.TrimSpace(cfg.FactoryAddress)
	if factoryAddr != "" && !common.IsHexAddress(factoryAddr) {
		return nil, fmt.Errorf("工厂合约地址 %s 不合法", factoryAddr)
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接节点失败: %w", err)
	}

	return &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		eth:       ethclient.NewClient(rpcClient),
		factory:   common.HexToAddress(factoryAddr),
	}, nil
}

// NewBackendClient wraps an arbitrary backend, primarily for testing.
func NewBackendClient(name string, eth backend, factoryAddress string) *Client {
	return &Client{
		name:    name,
		eth:     eth,
		factory: common.HexToAddress(factoryAddress),
		notes:   "injected backend",
	}
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	if c == nil || c.rpcClient == nil {
		return
	}
	c.rpcClient.Close()
	c.rpcClient = nil
}

// GetBalance implements ledger.Client.
func (c *Client) GetBalance(ctx context.Context, account string, token ledger.Token) (float64, error) {
	if c == nil || c.eth == nil {
		return 0, errors.New("未初始化的账本客户端")
	}
	if !common.IsHexAddress(account) {
		return 0, fmt.Errorf("账户地址 %s 不合法", account)
	}
	owner := common.HexToAddress(account)

	if token.Native {
		raw, err := c.eth.BalanceAt(ctx, owner, nil)
		if err != nil {
			return 0, fmt.Errorf("查询原生资产余额失败: %w", err)
		}
		return scaleAmount(raw, token.Decimals), nil
	}

	if !common.IsHexAddress(token.Address) {
		return 0, fmt.Errorf("代币地址 %s 不合法", token.Address)
	}
	input, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return 0, fmt.Errorf("构建 balanceOf 调用失败: %w", err)
	}
	contract := common.HexToAddress(token.Address)
	output, err := c.eth.CallContract(ctx, gethcore.CallMsg{To: &contract, Data: input}, nil)
	if err != nil {
		return 0, fmt.Errorf("查询 %s 余额失败: %w", token.Symbol, err)
	}
	values, err := erc20ABI.Unpack("balanceOf", output)
	if err != nil || len(values) == 0 {
		return 0, fmt.Errorf("解析 %s 余额失败: %w", token.Symbol, err)
	}
	raw, ok := values[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("解析 %s 余额失败: 非法返回类型", token.Symbol)
	}
	return scaleAmount(raw, token.Decimals), nil
}

// FindPair implements ledger.Client by querying the configured factory.
func (c *Client) FindPair(ctx context.Context, base, quote ledger.Token) (*ledger.Pair, error) {
	if c == nil || c.eth == nil {
		return nil, errors.New("未初始化的账本客户端")
	}
	if c.factory == (common.Address{}) {
		return nil, errors.New("当前网络未配置交易对工厂")
	}
	baseAddr, err := pairLegAddress(base)
	if err != nil {
		return nil, err
	}
	quoteAddr, err := pairLegAddress(quote)
	if err != nil {
		return nil, err
	}

	input, err := factoryABI.Pack("getPair", baseAddr, quoteAddr)
	if err != nil {
		return nil, fmt.Errorf("构建 getPair 调用失败: %w", err)
	}
	output, err := c.eth.CallContract(ctx, gethcore.CallMsg{To: &c.factory, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("查询交易对失败: %w", err)
	}
	values, err := factoryABI.Unpack("getPair", output)
	if err != nil || len(values) == 0 {
		return nil, fmt.Errorf("解析交易对地址失败: %w", err)
	}
	pairAddr, ok := values[0].(common.Address)
	if !ok || pairAddr == (common.Address{}) {
		return nil, ledger.ErrPairNotFound
	}

	reserveBase, reserveQuote, err := c.fetchReserves(ctx, pairAddr, baseAddr, base.Decimals, quote.Decimals)
	if err != nil {
		return nil, err
	}
	if reserveBase == 0 || reserveQuote == 0 {
		return nil, ledger.ErrPairNotFound
	}

	return &ledger.Pair{
		Address:      pairAddr.Hex(),
		Base:         base,
		Quote:        quote,
		ReserveBase:  reserveBase,
		ReserveQuote: reserveQuote,
	}, nil
}

// GetPrice implements ledger.Client. 现价以 quote/base 表示。
func (c *Client) GetPrice(ctx context.Context, pair *ledger.Pair) (float64, error) {
	if pair == nil {
		return 0, errors.New("交易对不能为空")
	}
	baseAddr, err := pairLegAddress(pair.Base)
	if err != nil {
		return 0, err
	}
	reserveBase, reserveQuote, err := c.fetchReserves(ctx, common.HexToAddress(pair.Address), baseAddr, pair.Base.Decimals, pair.Quote.Decimals)
	if err != nil {
		return 0, err
	}
	if reserveBase == 0 {
		return 0, fmt.Errorf("交易对 %s 储备为空", pair.Address)
	}
	return reserveQuote / reserveBase, nil
}

// CheckLiquidity implements ledger.Client, returning the quote-side depth.
func (c *Client) CheckLiquidity(ctx context.Context, pair *ledger.Pair) (float64, error) {
	if pair == nil {
		return 0, errors.New("交易对不能为空")
	}
	baseAddr, err := pairLegAddress(pair.Base)
	if err != nil {
		return 0, err
	}
	_, reserveQuote, err := c.fetchReserves(ctx, common.HexToAddress(pair.Address), baseAddr, pair.Base.Decimals, pair.Quote.Decimals)
	if err != nil {
		return 0, err
	}
	return reserveQuote, nil
}

// ValidateTokenContract implements ledger.Client.
func (c *Client) ValidateTokenContract(ctx context.Context, address string) (*ledger.Token, error) {
	if c == nil || c.eth == nil {
		return nil, errors.New("未初始化的账本客户端")
	}
	if !common.IsHexAddress(address) {
		return nil, ledger.ErrTokenInvalid
	}
	contract := common.HexToAddress(address)

	code, err := c.eth.CodeAt(ctx, contract, nil)
	if err != nil {
		return nil, fmt.Errorf("读取合约代码失败: %w", err)
	}
	if len(code) == 0 {
		return nil, ledger.ErrTokenInvalid
	}

	symbol, err := c.callString(ctx, contract, "symbol")
	if err != nil {
		return nil, ledger.ErrTokenInvalid
	}
	decimals, err := c.callUint8(ctx, contract, "decimals")
	if err != nil {
		return nil, ledger.ErrTokenInvalid
	}

	return &ledger.Token{
		Symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		Address:  contract.Hex(),
		Decimals: decimals,
	}, nil
}

func (c *Client) fetchReserves(ctx context.Context, pairAddr, baseAddr common.Address, baseDecimals, quoteDecimals uint8) (float64, float64, error) {
	token0Input, err := pairABI.Pack("token0")
	if err != nil {
		return 0, 0, fmt.Errorf("构建 token0 调用失败: %w", err)
	}
	token0Output, err := c.eth.CallContract(ctx, gethcore.CallMsg{To: &pairAddr, Data: token0Input}, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("查询交易对 token0 失败: %w", err)
	}
	token0Values, err := pairABI.Unpack("token0", token0Output)
	if err != nil || len(token0Values) == 0 {
		return 0, 0, fmt.Errorf("解析 token0 失败: %w", err)
	}
	token0, ok := token0Values[0].(common.Address)
	if !ok {
		return 0, 0, errors.New("解析 token0 失败: 非法返回类型")
	}

	reservesInput, err := pairABI.Pack("getReserves")
	if err != nil {
		return 0, 0, fmt.Errorf("构建 getReserves 调用失败: %w", err)
	}
	reservesOutput, err := c.eth.CallContract(ctx, gethcore.CallMsg{To: &pairAddr, Data: reservesInput}, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("查询储备失败: %w", err)
	}
	reserves, err := pairABI.Unpack("getReserves", reservesOutput)
	if err != nil || len(reserves) < 2 {
		return 0, 0, fmt.Errorf("解析储备失败: %w", err)
	}
	reserve0, ok0 := reserves[0].(*big.Int)
	reserve1, ok1 := reserves[1].(*big.Int)
	if !ok0 || !ok1 {
		return 0, 0, errors.New("解析储备失败: 非法返回类型")
	}

	// token0 排序决定哪侧储备属于 base。
	if token0 == baseAddr {
		return scaleAmount(reserve0, baseDecimals), scaleAmount(reserve1, quoteDecimals), nil
	}
	return scaleAmount(reserve1, baseDecimals), scaleAmount(reserve0, quoteDecimals), nil
}

func (c *Client) callString(ctx context.Context, contract common.Address, method string) (string, error) {
	input, err := erc20ABI.Pack(method)
	if err != nil {
		return "", err
	}
	output, err := c.eth.CallContract(ctx, gethcore.CallMsg{To: &contract, Data: input}, nil)
	if err != nil {
		return "", err
	}
	values, err := erc20ABI.Unpack(method, output)
	if err != nil || len(values) == 0 {
		return "", fmt.Errorf("empty %s result", method)
	}
	value, ok := values[0].(string)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("invalid %s result", method)
	}
	return value, nil
}

func (c *Client) callUint8(ctx context.Context, contract common.Address, method string) (uint8, error) {
	input, err := erc20ABI.Pack(method)
	if err != nil {
		return 0, err
	}
	output, err := c.eth.CallContract(ctx, gethcore.CallMsg{To: &contract, Data: input}, nil)
	if err != nil {
		return 0, err
	}
	values, err := erc20ABI.Unpack(method, output)
	if err != nil || len(values) == 0 {
		return 0, fmt.Errorf("empty %s result", method)
	}
	value, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("invalid %s result", method)
	}
	return value, nil
}

// pairLegAddress 返回用于撮合的合约地址；原生资产使用其包装代币地址。
func pairLegAddress(token ledger.Token) (common.Address, error) {
	if !common.IsHexAddress(token.Address) {
		return common.Address{}, fmt.Errorf("代币 %s 缺少合约地址", token.Symbol)
	}
	return common.HexToAddress(token.Address), nil
}

func scaleAmount(raw *big.Int, decimals uint8) float64 {
	if raw == nil || raw.Sign() == 0 {
		return 0
	}
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	value, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), scale).Float64()
	return value
}

var _ ledger.Client = (*Client)(nil)
