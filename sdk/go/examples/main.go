package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"

	"ChainPilot/sdk/go/chainpilot"
)

// 演示 SDK 的基本用法：起一个假服务端，走一轮对话再结束会话。
func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/chat", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = json.NewEncoder(w).Encode(chainpilot.ChatResponse{
			ConversationID: "conv-demo",
			Message:        "Which network should this run on?",
			RequiresInput:  true,
			InputType:      "choice",
			Options: []chainpilot.Option{
				{Value: "sepolia", Label: "Sepolia"},
			},
			Task: "stop_order",
			Step: "await_network",
		})
	})
	mux.HandleFunc("/api/v1/conversations/conv-demo", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := chainpilot.NewClient(srv.URL, srv.Client())
	client.SetAccessToken("demo-token")

	ctx := context.Background()
	response, err := client.Chat(ctx, chainpilot.ChatRequest{
		Account: "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984",
		Message: "I want to create a stop order",
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("conversation %s step %s: %s\n", response.ConversationID, response.Step, response.Message)
	for _, option := range response.Options {
		fmt.Printf("  option: %s (%s)\n", option.Label, option.Value)
	}

	if err := client.EndConversation(ctx, response.ConversationID); err != nil {
		panic(err)
	}
	fmt.Println("conversation closed")
}
