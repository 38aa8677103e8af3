package nlu

import "testing"

func TestClassifyPrecedence(t *testing.T) {
	cases := []struct {
		name   string
		input  string
		active ActiveTask
		want   Intent
	}{
		{"declined balance query", "can you check my balance?", ActiveNone, IntentDeclinedQuery},
		{"declined even mid task", "what's my balance right now", ActiveStopOrder, IntentDeclinedQuery},
		{"declined price prediction", "give me a price prediction for ETH", ActiveNone, IntentDeclinedQuery},
		{"create stop order", "I want to create a stop order", ActiveNone, IntentCreateStopOrder},
		{"create stop order alt wording", "please set up a stop-loss for my ETH", ActiveNone, IntentCreateStopOrder},
		{"create guard", "I want to protect my loan from liquidation", ActiveNone, IntentCreateLiquidationGuard},
		{"switch to guard mid stop order", "actually, set up liquidation protection instead", ActiveStopOrder, IntentSwitchToLiquidationGuard},
		{"switch to stop order mid guard", "actually I want a stop order instead", ActiveLiquidationGuard, IntentSwitchToStopOrder},
		{"open question", "what is a health factor?", ActiveNone, IntentOpenQuestion},
		{"continue with slot answer", "health factor 1.5", ActiveLiquidationGuard, IntentContinue},
		{"continue with token answer", "USDC", ActiveStopOrder, IntentContinue},
		{"unknown without task", "purple monkey dishwasher", ActiveNone, IntentUnknown},
	}
	for _, tc := range cases {
		if got := Classify(tc.input, tc.active); got != tc.want {
			t.Fatalf("%s: Classify(%q, %v) = %v, want %v", tc.name, tc.input, tc.active, got, tc.want)
		}
	}
}

func TestCreationRequiresVerbAndPhrase(t *testing.T) {
	// 任务词组单独出现不构成新建意图。
	if MatchesStopOrderCreation("the price drops sometimes") {
		t.Fatal("phrase without setup verb should not match")
	}
	// 动词单独出现也不构成新建意图。
	if MatchesStopOrderCreation("please create something") {
		t.Fatal("verb without task phrase should not match")
	}
	if !MatchesGuardCreation("set up a liquidation guard for me") {
		t.Fatal("verb plus phrase should match")
	}
}

func TestSameTaskPhraseDoesNotRestart(t *testing.T) {
	// 守护任务进行中再次出现守护词组应继续而非重建。
	if got := Classify("I need a health factor of 2", ActiveLiquidationGuard); got != IntentContinue {
		t.Fatalf("expected continue, got %v", got)
	}
	if got := Classify("I want to sell my ETH when the price drops", ActiveStopOrder); got != IntentContinue {
		t.Fatalf("expected continue for same-task phrase, got %v", got)
	}
}
