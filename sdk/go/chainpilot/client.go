// Package chainpilot provides a small Go client for the ChainPilot REST API.
package chainpilot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the ChainPilot REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// ChatRequest represents one user turn submitted to the dialogue engine.
// Leave ConversationID empty on the first turn; the server mints one and
// returns it in the response.
type ChatRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Account        string `json:"account,omitempty"`
	Network        string `json:"network,omitempty"`
	Message        string `json:"message"`
}

// Option represents one choice the user can answer with.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Amount mirrors the server's amount slot: mode is "all", "percent" or
// "exact", value carries the percentage or token quantity.
type Amount struct {
	Mode  string  `json:"mode"`
	Value float64 `json:"value,omitempty"`
}

// DeploymentConfig is the ready-to-deploy automation configuration the
// server emits once a task has been confirmed.
type DeploymentConfig struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Network string `json:"network"`
	Account string `json:"account"`

	SellToken    string  `json:"sell_token,omitempty"`
	ReceiveToken string  `json:"receive_token,omitempty"`
	Amount       *Amount `json:"amount,omitempty"`
	DropPercent  float64 `json:"drop_percent,omitempty"`
	CurrentPrice float64 `json:"current_price,omitempty"`
	TriggerPrice float64 `json:"trigger_price,omitempty"`
	PairAddress  string  `json:"pair_address,omitempty"`

	Protocol            string  `json:"protocol,omitempty"`
	HealthFactorTrigger float64 `json:"health_factor_trigger,omitempty"`
	TargetHealthFactor  float64 `json:"target_health_factor,omitempty"`
	RepayPercent        float64 `json:"repay_percent,omitempty"`

	DeploymentReady bool `json:"deployment_ready"`
}

// ChatResponse is the engine's reply to one turn.
type ChatResponse struct {
	ConversationID string            `json:"conversation_id"`
	Message        string            `json:"message"`
	RequiresInput  bool              `json:"requires_input"`
	InputType      string            `json:"input_type,omitempty"`
	Options        []Option          `json:"options,omitempty"`
	Config         *DeploymentConfig `json:"config,omitempty"`
	Task           string            `json:"task,omitempty"`
	Step           string            `json:"step"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("chainpilot api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("chainpilot api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the ChainPilot API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// Chat submits one user turn and returns the engine's reply.
func (c *Client) Chat(ctx context.Context, request ChatRequest) (ChatResponse, error) {
	var response ChatResponse
	if err := c.post(ctx, "/api/v1/chat", request, &response); err != nil {
		return ChatResponse{}, err
	}
	return response, nil
}

// EndConversation deletes a conversation and its state on the server.
func (c *Client) EndConversation(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return fmt.Errorf("chainpilot: conversation id is empty")
	}
	endpoint := "/api/v1/conversations/" + url.PathEscape(conversationID)
	req, err := c.newRequest(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Health probes the server's liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken stores the static API token sent with every request.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr APIError
		apiErr.StatusCode = resp.StatusCode
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr}); err != nil {
				// try direct decode into apiErr if server returned flat payload
				_ = json.Unmarshal(data, &apiErr)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
