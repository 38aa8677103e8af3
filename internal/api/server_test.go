package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ChainPilot/internal/conversation"
	"ChainPilot/internal/dialogue"
	"ChainPilot/internal/knowledge"
	"ChainPilot/internal/ledger"
	"ChainPilot/internal/validation"
)

type stubLedger struct{}

func (stubLedger) GetBalance(context.Context, string, ledger.Token) (float64, error) {
	return 5, nil
}

func (stubLedger) FindPair(context.Context, ledger.Token, ledger.Token) (*ledger.Pair, error) {
	return &ledger.Pair{Address: "0x00000000000000000000000000000000000000aa"}, nil
}

func (stubLedger) GetPrice(context.Context, *ledger.Pair) (float64, error) {
	return 3000, nil
}

func (stubLedger) CheckLiquidity(context.Context, *ledger.Pair) (float64, error) {
	return 10_000_000, nil
}

func (stubLedger) ValidateTokenContract(context.Context, string) (*ledger.Token, error) {
	return nil, ledger.ErrTokenInvalid
}

func (stubLedger) Close() {}

func newTestServer(token string) *Server {
	resolver := ledger.NewStaticRegistry("sepolia",
		map[string]ledger.Client{"sepolia": stubLedger{}},
		map[string]map[string]ledger.Token{"sepolia": {
			"ETH":  {Symbol: "ETH", Native: true, Decimals: 18},
			"USDC": {Symbol: "USDC", Address: "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238", Decimals: 6},
		}},
	)
	manager := dialogue.NewManager(
		conversation.NewMemoryStore(),
		resolver,
		validation.NewPipeline(resolver),
		dialogue.NewAnswerer(nil, knowledge.NewBuiltinProvider(3)),
	)
	return NewServer(":0", manager, token)
}

func postChat(t *testing.T, server *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.handleChat(rec, req)
	return rec
}

func TestHandleChatMintsConversationID(t *testing.T) {
	server := newTestServer("")

	rec := postChat(t, server, `{"message":"I want to create a stop order"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d, body %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var got dialogue.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ConversationID == "" {
		t.Fatal("expected a server-minted conversation id")
	}
	if got.Step != conversation.StepAwaitNetwork {
		t.Fatalf("expected network question, got step %v", got.Step)
	}
	if !got.RequiresInput {
		t.Fatal("expected the response to request further input")
	}
}

func TestHandleChatKeepsProvidedConversationID(t *testing.T) {
	server := newTestServer("")

	rec := postChat(t, server, `{"conversation_id":"conv-7","message":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d", rec.Code)
	}
	var got dialogue.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ConversationID != "conv-7" {
		t.Fatalf("conversation id 被改写: got %q", got.ConversationID)
	}
}

func TestHandleChatErrors(t *testing.T) {
	server := newTestServer("")

	t.Run("invalid method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/chat", nil)
		rec := httptest.NewRecorder()

		server.handleChat(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})

	t.Run("invalid body", func(t *testing.T) {
		rec := postChat(t, server, "{not json")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("empty message", func(t *testing.T) {
		rec := postChat(t, server, `{"message":"   "}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})
}

func TestHandleConversationDelete(t *testing.T) {
	server := newTestServer("")

	rec := postChat(t, server, `{"conversation_id":"conv-del","message":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("seed conversation: status %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/conversations/conv-del", nil)
	del := httptest.NewRecorder()
	server.handleConversation(del, req)
	if del.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, del.Code)
	}

	t.Run("missing id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/conversations/", nil)
		rec := httptest.NewRecorder()

		server.handleConversation(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("invalid method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations/conv-del", nil)
		rec := httptest.NewRecorder()

		server.handleConversation(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})
}

func TestRequireToken(t *testing.T) {
	server := newTestServer("secret-token")
	handler := server.requireToken(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
		}
	})

	t.Run("wrong token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", nil)
		req.Header.Set("Authorization", "Bearer wrong")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected status %d, got %d", http.StatusForbidden, rec.Code)
		}
	})

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", nil)
		req.Header.Set("Authorization", "Bearer secret-token")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
	})
}
