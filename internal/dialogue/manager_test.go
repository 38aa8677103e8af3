package dialogue

import (
	"context"
	"strings"
	"testing"

	"ChainPilot/internal/conversation"
	"ChainPilot/internal/knowledge"
	"ChainPilot/internal/ledger"
	"ChainPilot/internal/validation"
)

type fakeLedger struct {
	balance      float64
	balanceErr   error
	pairErr      error
	priceErr     error
	price        float64
	liquidity    float64
	validated    *ledger.Token
	validateErr  error
}

func (f *fakeLedger) GetBalance(context.Context, string, ledger.Token) (float64, error) {
	return f.balance, f.balanceErr
}

func (f *fakeLedger) FindPair(context.Context, ledger.Token, ledger.Token) (*ledger.Pair, error) {
	if f.pairErr != nil {
		return nil, f.pairErr
	}
	return &ledger.Pair{Address: "0x00000000000000000000000000000000000000aa"}, nil
}

func (f *fakeLedger) GetPrice(context.Context, *ledger.Pair) (float64, error) {
	return f.price, f.priceErr
}

func (f *fakeLedger) CheckLiquidity(context.Context, *ledger.Pair) (float64, error) {
	return f.liquidity, nil
}

func (f *fakeLedger) ValidateTokenContract(context.Context, string) (*ledger.Token, error) {
	return f.validated, f.validateErr
}

func (f *fakeLedger) Close() {}

type fakePublisher struct {
	published []*DeploymentConfig
}

func (f *fakePublisher) Publish(_ context.Context, config *DeploymentConfig) error {
	f.published = append(f.published, config)
	return nil
}

func healthyLedger() *fakeLedger {
	return &fakeLedger{balance: 5, price: 3000, liquidity: 10_000_000}
}

func newTestManager(client ledger.Client) (*Manager, *fakePublisher) {
	catalog := map[string]ledger.Token{
		"ETH":  {Symbol: "ETH", Native: true, Decimals: 18},
		"USDC": {Symbol: "USDC", Address: "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238", Decimals: 6},
		"DAI":  {Symbol: "DAI", Address: "0x68194a729C2450ad26072b3D33ADaCbcef39D574", Decimals: 18},
	}
	resolver := ledger.NewStaticRegistry("sepolia",
		map[string]ledger.Client{"sepolia": client},
		map[string]map[string]ledger.Token{"sepolia": catalog},
	)
	publisher := &fakePublisher{}
	manager := NewManager(
		conversation.NewMemoryStore(),
		resolver,
		validation.NewPipeline(resolver),
		NewAnswerer(nil, knowledge.NewBuiltinProvider(3)),
		WithPublisher(publisher),
	)
	return manager, publisher
}

const testAccount = "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984"

func turn(t *testing.T, m *Manager, id, message string) *Response {
	t.Helper()
	response, err := m.Handle(context.Background(), id, testAccount, "", message)
	if err != nil {
		t.Fatalf("handle %q: %v", message, err)
	}
	return response
}

func TestStopOrderHappyPath(t *testing.T) {
	manager, publisher := newTestManager(healthyLedger())

	response := turn(t, manager, "c1", "I want to create a stop order")
	if response.Step != conversation.StepAwaitNetwork {
		t.Fatalf("expected network question first, got %v", response.Step)
	}

	response = turn(t, manager, "c1", "sepolia")
	if response.Step != conversation.StepAwaitSellToken {
		t.Fatalf("expected sell token question, got %v", response.Step)
	}

	response = turn(t, manager, "c1", "ETH")
	if response.Step != conversation.StepAwaitReceiveToken {
		t.Fatalf("expected receive token question, got %v", response.Step)
	}

	response = turn(t, manager, "c1", "USDC")
	if response.Step != conversation.StepAwaitAmount {
		t.Fatalf("expected amount question, got %v", response.Step)
	}

	response = turn(t, manager, "c1", "all")
	if response.Step != conversation.StepAwaitDropPercent {
		t.Fatalf("expected drop percent question, got %v", response.Step)
	}

	response = turn(t, manager, "c1", "10%")
	if response.Step != conversation.StepFinalConfirmation {
		t.Fatalf("expected final confirmation, got %v: %s", response.Step, response.Message)
	}
	if !strings.Contains(response.Message, "2700") {
		t.Fatalf("summary should contain trigger price 2700: %s", response.Message)
	}

	response = turn(t, manager, "c1", "yes")
	if response.Step != conversation.StepReady {
		t.Fatalf("expected ready, got %v", response.Step)
	}
	if response.Config == nil || !response.Config.DeploymentReady {
		t.Fatalf("expected deployment config in response: %+v", response.Config)
	}
	if response.Config.TriggerPrice != 2700 || response.Config.SellToken != "ETH" {
		t.Fatalf("unexpected config: %+v", response.Config)
	}
	if len(publisher.published) != 1 {
		t.Fatalf("expected one published config, got %d", len(publisher.published))
	}
}

func TestSlotPriorityOrder(t *testing.T) {
	manager, _ := newTestManager(healthyLedger())

	// 一句话带出两个代币，仍然先问优先级最高的网络槽位。
	response := turn(t, manager, "c2", "I want to create a stop order selling my ETH for USDC")
	if response.Step != conversation.StepAwaitNetwork {
		t.Fatalf("network must be asked first, got %v", response.Step)
	}

	// 网络补齐后跳过已填的代币槽位，直接问数量。
	response = turn(t, manager, "c2", "sepolia")
	if response.Step != conversation.StepAwaitAmount {
		t.Fatalf("filled slots must not be re-asked, got %v", response.Step)
	}
}

func TestTaskSwitchPreservesContext(t *testing.T) {
	manager, _ := newTestManager(healthyLedger())

	turn(t, manager, "c3", "create a stop order")
	turn(t, manager, "c3", "sepolia")
	turn(t, manager, "c3", "ETH")

	response := turn(t, manager, "c3", "actually, set up liquidation protection instead")
	if response.Step != conversation.StepAwaitProtocol {
		t.Fatalf("network should carry over so protocol is asked, got %v", response.Step)
	}

	state, err := manager.store.Get(context.Background(), "c3")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Task != conversation.TaskLiquidationGuard {
		t.Fatalf("task should switch, got %v", state.Task)
	}
	if state.Data.Network != "sepolia" || state.Data.Account == "" {
		t.Fatalf("shared context must survive the switch: %+v", state.Data)
	}
	if state.Data.SellToken != "" {
		t.Fatalf("task-specific slots must be cleared: %+v", state.Data)
	}
}

func TestFinalRejectionResetsTask(t *testing.T) {
	manager, publisher := newTestManager(healthyLedger())

	turn(t, manager, "c4", "create a stop order")
	turn(t, manager, "c4", "sepolia")
	turn(t, manager, "c4", "ETH")
	turn(t, manager, "c4", "USDC")
	turn(t, manager, "c4", "all")
	response := turn(t, manager, "c4", "10%")
	if response.Step != conversation.StepFinalConfirmation {
		t.Fatalf("expected final confirmation, got %v", response.Step)
	}

	response = turn(t, manager, "c4", "no")
	if response.Step != conversation.StepCancelled {
		t.Fatalf("expected cancelled, got %v", response.Step)
	}
	if len(publisher.published) != 0 {
		t.Fatal("nothing must be published after a rejection")
	}

	// 重新进入同一任务要重新收集全部任务槽位（网络属于共享上下文保留）。
	response = turn(t, manager, "c4", "create a stop order")
	if response.Step != conversation.StepAwaitSellToken {
		t.Fatalf("task slots must be re-asked after rejection, got %v", response.Step)
	}
}

func TestCreationPhraseIsNotRejection(t *testing.T) {
	manager, _ := newTestManager(healthyLedger())

	turn(t, manager, "c5", "create a stop order")
	turn(t, manager, "c5", "sepolia")
	turn(t, manager, "c5", "ETH")
	turn(t, manager, "c5", "USDC")
	turn(t, manager, "c5", "all")
	turn(t, manager, "c5", "10%")

	// "stop" 出现在创建话术里，不能被误判成拒绝而取消任务。
	response := turn(t, manager, "c5", "please set up a stop order")
	if response.Step == conversation.StepCancelled {
		t.Fatalf("creation phrase misclassified as rejection: %s", response.Message)
	}
}

func TestPairNotFoundRecovery(t *testing.T) {
	client := healthyLedger()
	client.pairErr = ledger.ErrPairNotFound
	manager, _ := newTestManager(client)

	turn(t, manager, "c6", "create a stop order")
	turn(t, manager, "c6", "sepolia")
	turn(t, manager, "c6", "ETH")
	turn(t, manager, "c6", "USDC")
	turn(t, manager, "c6", "all")
	response := turn(t, manager, "c6", "10%")

	if response.Step != conversation.StepAwaitReceiveToken {
		t.Fatalf("pair-not-found should re-ask the receive token, got %v", response.Step)
	}
	found := false
	for _, option := range response.Options {
		if option.Value == "different tokens" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a choose-different-tokens option: %+v", response.Options)
	}

	state, err := manager.store.Get(context.Background(), "c6")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Data.ReceiveToken != "" {
		t.Fatalf("receive token must be cleared: %+v", state.Data)
	}
}

func TestInsufficientBalanceConfirmFlow(t *testing.T) {
	client := healthyLedger()
	client.balance = 1
	manager, _ := newTestManager(client)

	turn(t, manager, "c7", "create a stop order")
	turn(t, manager, "c7", "sepolia")
	turn(t, manager, "c7", "ETH")
	turn(t, manager, "c7", "USDC")
	response := turn(t, manager, "c7", "2")
	if response.Step != conversation.StepAwaitDropPercent {
		t.Fatalf("expected drop percent question, got %v", response.Step)
	}

	response = turn(t, manager, "c7", "10%")
	if response.Step != conversation.StepConfirmInsufficientBalance {
		t.Fatalf("expected balance warning, got %v: %s", response.Step, response.Message)
	}

	// 拒绝风险：清掉数量槽位并重新询问。
	response = turn(t, manager, "c7", "no")
	if response.Step != conversation.StepAwaitAmount {
		t.Fatalf("declining must re-ask the amount, got %v", response.Step)
	}

	// 改成余额内的数量后一路通过。
	response = turn(t, manager, "c7", "0.5")
	if response.Step != conversation.StepFinalConfirmation {
		t.Fatalf("expected final confirmation, got %v: %s", response.Step, response.Message)
	}
}

func TestInsufficientBalanceAcceptedRisk(t *testing.T) {
	client := healthyLedger()
	client.balance = 1
	manager, _ := newTestManager(client)

	turn(t, manager, "c8", "create a stop order")
	turn(t, manager, "c8", "sepolia")
	turn(t, manager, "c8", "ETH")
	turn(t, manager, "c8", "USDC")
	turn(t, manager, "c8", "2")
	response := turn(t, manager, "c8", "10%")
	if response.Step != conversation.StepConfirmInsufficientBalance {
		t.Fatalf("expected balance warning, got %v", response.Step)
	}

	response = turn(t, manager, "c8", "yes")
	if response.Step != conversation.StepFinalConfirmation {
		t.Fatalf("accepting the risk must continue to final confirmation, got %v", response.Step)
	}
}

func TestLowLiquidityConfirmFlow(t *testing.T) {
	client := healthyLedger()
	client.liquidity = 10_000
	manager, _ := newTestManager(client)

	turn(t, manager, "c17", "create a stop order")
	turn(t, manager, "c17", "sepolia")
	turn(t, manager, "c17", "ETH")
	turn(t, manager, "c17", "USDC")
	turn(t, manager, "c17", "2")
	response := turn(t, manager, "c17", "10%")
	if response.Step != conversation.StepConfirmLowLiquidity {
		t.Fatalf("expected liquidity warning, got %v: %s", response.Step, response.Message)
	}

	// 拒绝风险：深度不足的是交易对，重新询问收币而不是数量。
	response = turn(t, manager, "c17", "no")
	if response.Step != conversation.StepAwaitReceiveToken {
		t.Fatalf("declining must re-ask the receive token, got %v", response.Step)
	}
	if !strings.Contains(response.Message, "receive") {
		t.Fatalf("expected a receive token prompt, got %q", response.Message)
	}

	// 换一个收币后重新校验，深度仍然不足则再次警告。
	response = turn(t, manager, "c17", "DAI")
	if response.Step != conversation.StepConfirmLowLiquidity {
		t.Fatalf("expected liquidity warning after re-validation, got %v: %s", response.Step, response.Message)
	}

	response = turn(t, manager, "c17", "yes")
	if response.Step != conversation.StepFinalConfirmation {
		t.Fatalf("accepting the risk must continue to final confirmation, got %v", response.Step)
	}
	if !strings.Contains(response.Message, "DAI") {
		t.Fatalf("summary must reflect the replacement receive token, got %q", response.Message)
	}
}

func TestLowLiquidityAcceptedRisk(t *testing.T) {
	client := healthyLedger()
	client.liquidity = 10_000
	manager, _ := newTestManager(client)

	turn(t, manager, "c18", "create a stop order")
	turn(t, manager, "c18", "sepolia")
	turn(t, manager, "c18", "ETH")
	turn(t, manager, "c18", "USDC")
	turn(t, manager, "c18", "2")
	response := turn(t, manager, "c18", "10%")
	if response.Step != conversation.StepConfirmLowLiquidity {
		t.Fatalf("expected liquidity warning, got %v", response.Step)
	}

	response = turn(t, manager, "c18", "yes")
	if response.Step != conversation.StepFinalConfirmation {
		t.Fatalf("accepting the risk must continue to final confirmation, got %v", response.Step)
	}
}

func TestDeclinedQueryShortCircuits(t *testing.T) {
	manager, _ := newTestManager(healthyLedger())

	turn(t, manager, "c9", "create a stop order")
	turn(t, manager, "c9", "sepolia")

	before, _ := manager.store.Get(context.Background(), "c9")
	response := turn(t, manager, "c9", "can you check my balance?")
	if len(response.Options) == 0 {
		t.Fatal("declined query must still offer next actions")
	}

	after, err := manager.store.Get(context.Background(), "c9")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if after.Step != before.Step || after.Task != before.Task {
		t.Fatalf("declined query must not disturb task state: %v -> %v", before.Step, after.Step)
	}
}

func TestOpenQuestionMidTaskReturnsToSlot(t *testing.T) {
	manager, _ := newTestManager(healthyLedger())

	turn(t, manager, "c10", "I want to protect my loan from liquidation")
	turn(t, manager, "c10", "sepolia")
	turn(t, manager, "c10", "aave")

	response := turn(t, manager, "c10", "what is a health factor?")
	if response.Step != conversation.StepAwaitHealthFactor {
		t.Fatalf("open question must return to the pending slot, got %v", response.Step)
	}
	if !strings.Contains(strings.ToLower(response.Message), "health factor") {
		t.Fatalf("expected an answer about health factors: %s", response.Message)
	}
}

func TestLiquidationGuardHappyPath(t *testing.T) {
	manager, publisher := newTestManager(healthyLedger())

	turn(t, manager, "c11", "I want to protect my loan from liquidation")
	turn(t, manager, "c11", "sepolia")
	turn(t, manager, "c11", "aave")
	response := turn(t, manager, "c11", "1.2")
	if response.Step != conversation.StepAwaitTargetHealthFactor {
		t.Fatalf("expected target question, got %v", response.Step)
	}

	response = turn(t, manager, "c11", "1.8")
	if response.Step != conversation.StepAwaitRepayPercent {
		t.Fatalf("expected repay percent question, got %v", response.Step)
	}

	response = turn(t, manager, "c11", "25%")
	if response.Step != conversation.StepFinalConfirmation {
		t.Fatalf("expected final confirmation, got %v: %s", response.Step, response.Message)
	}

	response = turn(t, manager, "c11", "deploy it")
	if response.Step != conversation.StepReady {
		t.Fatalf("expected ready, got %v", response.Step)
	}
	config := publisher.published[len(publisher.published)-1]
	if config.Protocol != "aave" || config.HealthFactorTrigger != 1.2 ||
		config.TargetHealthFactor != 1.8 || config.RepayPercent != 25 {
		t.Fatalf("unexpected guard config: %+v", config)
	}
}

func TestCancelMidTask(t *testing.T) {
	manager, _ := newTestManager(healthyLedger())

	turn(t, manager, "c12", "create a stop order")
	turn(t, manager, "c12", "sepolia")

	response := turn(t, manager, "c12", "cancel")
	if response.Step != conversation.StepCancelled {
		t.Fatalf("expected cancelled, got %v", response.Step)
	}

	state, err := manager.store.Get(context.Background(), "c12")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Task != conversation.TaskNone {
		t.Fatalf("task must be cleared on cancel, got %v", state.Task)
	}
	if state.Data.Network != "sepolia" {
		t.Fatalf("shared context must survive cancel: %+v", state.Data)
	}
}

func TestCustomTokenRegistration(t *testing.T) {
	client := healthyLedger()
	client.validated = &ledger.Token{Symbol: "FOO", Decimals: 18}
	manager, _ := newTestManager(client)

	turn(t, manager, "c13", "create a stop order")
	turn(t, manager, "c13", "sepolia")
	turn(t, manager, "c13", "ETH")

	response := turn(t, manager, "c13", "0x0000000000000000000000000000000000000001")
	if response.Step != conversation.StepAwaitAmount {
		t.Fatalf("custom token should fill the receive slot, got %v: %s", response.Step, response.Message)
	}

	state, err := manager.store.Get(context.Background(), "c13")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Data.ReceiveToken != "FOO" {
		t.Fatalf("expected custom symbol as receive token, got %q", state.Data.ReceiveToken)
	}
	if state.Data.CustomTokens["FOO"] == "" {
		t.Fatal("custom token must be remembered")
	}
}

func TestTransientFailureAllowsRetry(t *testing.T) {
	client := healthyLedger()
	client.priceErr = context.DeadlineExceeded
	manager, _ := newTestManager(client)

	turn(t, manager, "c14", "create a stop order")
	turn(t, manager, "c14", "sepolia")
	turn(t, manager, "c14", "ETH")
	turn(t, manager, "c14", "USDC")
	turn(t, manager, "c14", "all")
	response := turn(t, manager, "c14", "10%")
	if response.Step != conversation.StepValidating {
		t.Fatalf("transient failure should stay in validating, got %v", response.Step)
	}

	// 外部服务恢复后，一句重试就能继续。
	client.priceErr = nil
	response = turn(t, manager, "c14", "retry")
	if response.Step != conversation.StepFinalConfirmation {
		t.Fatalf("retry should resume validation, got %v: %s", response.Step, response.Message)
	}
}
