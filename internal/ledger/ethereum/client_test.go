package ethereum

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"ChainPilot/internal/ledger"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

const (
	factoryAddr = "0x00000000000000000000000000000000000000f1"
	wethAddr    = "0x00000000000000000000000000000000000000e1"
	usdcAddr    = "0x00000000000000000000000000000000000000e2"
	pairAddr    = "0x00000000000000000000000000000000000000aa"
	ownerAddr   = "0x00000000000000000000000000000000000000d1"
)

// fakeBackend 以方法选择器分发合约调用，储备与余额都来自内存表。
type fakeBackend struct {
	nativeBalance *big.Int
	tokenBalance  *big.Int
	pair          common.Address
	token0        common.Address
	reserve0      *big.Int
	reserve1      *big.Int
	code          []byte
	symbol        string
	decimals      uint8
	callErr       error
}

func (f *fakeBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return f.nativeBalance, nil
}

func (f *fakeBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return f.code, nil
}

func (f *fakeBackend) CallContract(_ context.Context, msg gethcore.CallMsg, _ *big.Int) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	selector := msg.Data[:4]
	switch {
	case bytes.Equal(selector, erc20ABI.Methods["balanceOf"].ID):
		return erc20ABI.Methods["balanceOf"].Outputs.Pack(f.tokenBalance)
	case bytes.Equal(selector, erc20ABI.Methods["symbol"].ID):
		return erc20ABI.Methods["symbol"].Outputs.Pack(f.symbol)
	case bytes.Equal(selector, erc20ABI.Methods["decimals"].ID):
		return erc20ABI.Methods["decimals"].Outputs.Pack(f.decimals)
	case bytes.Equal(selector, factoryABI.Methods["getPair"].ID):
		return factoryABI.Methods["getPair"].Outputs.Pack(f.pair)
	case bytes.Equal(selector, pairABI.Methods["token0"].ID):
		return pairABI.Methods["token0"].Outputs.Pack(f.token0)
	case bytes.Equal(selector, pairABI.Methods["getReserves"].ID):
		return pairABI.Methods["getReserves"].Outputs.Pack(f.reserve0, f.reserve1, uint32(0))
	default:
		return nil, errors.New("unexpected call")
	}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		nativeBalance: big.NewInt(2_500_000_000_000_000_000), // 2.5 ETH
		tokenBalance:  big.NewInt(1_250_000),                 // 1.25 USDC
		pair:          common.HexToAddress(pairAddr),
		token0:        common.HexToAddress(wethAddr),
		reserve0:      new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18)), // 100 WETH
		reserve1:      big.NewInt(300_000_000_000),                         // 300000 USDC
		code:          []byte{0x60, 0x80},
		symbol:        "UNI",
		decimals:      18,
	}
}

func wethToken() ledger.Token {
	return ledger.Token{Symbol: "WETH", Address: wethAddr, Decimals: 18}
}

func usdcToken() ledger.Token {
	return ledger.Token{Symbol: "USDC", Address: usdcAddr, Decimals: 6}
}

func TestGetBalance(t *testing.T) {
	client := NewBackendClient("testnet", newFakeBackend(), factoryAddr)

	native, err := client.GetBalance(context.Background(), ownerAddr, ledger.Token{Symbol: "ETH", Native: true, Decimals: 18})
	if err != nil {
		t.Fatalf("native balance: %v", err)
	}
	if native != 2.5 {
		t.Fatalf("unexpected native balance: got %v want 2.5", native)
	}

	erc20, err := client.GetBalance(context.Background(), ownerAddr, usdcToken())
	if err != nil {
		t.Fatalf("erc20 balance: %v", err)
	}
	if erc20 != 1.25 {
		t.Fatalf("unexpected erc20 balance: got %v want 1.25", erc20)
	}

	if _, err := client.GetBalance(context.Background(), "not-an-address", usdcToken()); err == nil {
		t.Fatal("expected an error for a malformed account address")
	}
}

func TestFindPairAndPrice(t *testing.T) {
	backend := newFakeBackend()
	client := NewBackendClient("testnet", backend, factoryAddr)

	pair, err := client.FindPair(context.Background(), wethToken(), usdcToken())
	if err != nil {
		t.Fatalf("find pair: %v", err)
	}
	if pair.Address != common.HexToAddress(pairAddr).Hex() {
		t.Fatalf("unexpected pair address: %s", pair.Address)
	}
	if pair.ReserveBase != 100 {
		t.Fatalf("unexpected base reserve: got %v want 100", pair.ReserveBase)
	}
	if pair.ReserveQuote != 300_000 {
		t.Fatalf("unexpected quote reserve: got %v want 300000", pair.ReserveQuote)
	}

	price, err := client.GetPrice(context.Background(), pair)
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if price != 3000 {
		t.Fatalf("unexpected price: got %v want 3000", price)
	}

	depth, err := client.CheckLiquidity(context.Background(), pair)
	if err != nil {
		t.Fatalf("check liquidity: %v", err)
	}
	if depth != 300_000 {
		t.Fatalf("unexpected quote depth: got %v want 300000", depth)
	}
}

func TestFindPairReversedTokenOrder(t *testing.T) {
	// token0 不是 base 时储备两侧需要互换。
	backend := newFakeBackend()
	backend.token0 = common.HexToAddress(usdcAddr)
	backend.reserve0 = big.NewInt(300_000_000_000)
	backend.reserve1 = new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))
	client := NewBackendClient("testnet", backend, factoryAddr)

	pair, err := client.FindPair(context.Background(), wethToken(), usdcToken())
	if err != nil {
		t.Fatalf("find pair: %v", err)
	}
	if pair.ReserveBase != 100 || pair.ReserveQuote != 300_000 {
		t.Fatalf("reserves 未按 token0 排序互换: base %v quote %v", pair.ReserveBase, pair.ReserveQuote)
	}
}

func TestFindPairNotFound(t *testing.T) {
	backend := newFakeBackend()
	backend.pair = common.Address{}
	client := NewBackendClient("testnet", backend, factoryAddr)

	_, err := client.FindPair(context.Background(), wethToken(), usdcToken())
	if !errors.Is(err, ledger.ErrPairNotFound) {
		t.Fatalf("expected ErrPairNotFound, got %v", err)
	}

	// 储备为零的交易对同样视为不存在。
	backend = newFakeBackend()
	backend.reserve0 = big.NewInt(0)
	backend.reserve1 = big.NewInt(0)
	client = NewBackendClient("testnet", backend, factoryAddr)
	_, err = client.FindPair(context.Background(), wethToken(), usdcToken())
	if !errors.Is(err, ledger.ErrPairNotFound) {
		t.Fatalf("expected ErrPairNotFound for empty reserves, got %v", err)
	}
}

func TestValidateTokenContract(t *testing.T) {
	backend := newFakeBackend()
	client := NewBackendClient("testnet", backend, factoryAddr)

	token, err := client.ValidateTokenContract(context.Background(), wethAddr)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if token.Symbol != "UNI" {
		t.Fatalf("unexpected symbol: %q", token.Symbol)
	}
	if token.Decimals != 18 {
		t.Fatalf("unexpected decimals: %d", token.Decimals)
	}

	t.Run("malformed address", func(t *testing.T) {
		if _, err := client.ValidateTokenContract(context.Background(), "0x123"); !errors.Is(err, ledger.ErrTokenInvalid) {
			t.Fatalf("expected ErrTokenInvalid, got %v", err)
		}
	})

	t.Run("no code at address", func(t *testing.T) {
		empty := newFakeBackend()
		empty.code = nil
		client := NewBackendClient("testnet", empty, factoryAddr)
		if _, err := client.ValidateTokenContract(context.Background(), wethAddr); !errors.Is(err, ledger.ErrTokenInvalid) {
			t.Fatalf("expected ErrTokenInvalid, got %v", err)
		}
	})
}
