package chainpilot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestChatSubmitsTurn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/chat" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer demo-token" {
			t.Fatalf("unexpected authorization header: %q", got)
		}
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		if req.Message != "I want to create a stop order" {
			t.Fatalf("unexpected message: %q", req.Message)
		}
		_ = json.NewEncoder(w).Encode(ChatResponse{
			ConversationID: "conv-1",
			Message:        "Which network should this run on?",
			RequiresInput:  true,
			InputType:      "choice",
			Task:           "stop_order",
			Step:           "await_network",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	client.SetAccessToken("demo-token")

	response, err := client.Chat(context.Background(), ChatRequest{
		Message: "I want to create a stop order",
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if response.ConversationID != "conv-1" {
		t.Fatalf("unexpected conversation id: %q", response.ConversationID)
	}
	if response.Step != "await_network" {
		t.Fatalf("unexpected step: %q", response.Step)
	}
}

func TestChatDecodesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]map[string]string{
			"error": {"code": "INVALID_ARGUMENT", "message": "message is required"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	_, err := client.Chat(context.Background(), ChatRequest{Message: ""})
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T (%v)", err, err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", apiErr.StatusCode)
	}
	if apiErr.Code != "INVALID_ARGUMENT" {
		t.Fatalf("unexpected code: %q", apiErr.Code)
	}
}

func TestEndConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if r.URL.Path != "/api/v1/conversations/conv-9" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	if err := client.EndConversation(context.Background(), "conv-9"); err != nil {
		t.Fatalf("end conversation: %v", err)
	}

	if err := client.EndConversation(context.Background(), ""); err == nil {
		t.Fatal("expected an error for an empty conversation id")
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}
