package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"ChainPilot/internal/conversation"
	"ChainPilot/internal/dialogue"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/observability/metrics"
)

// Server 负责暴露 REST 接口，供前端驱动对话引擎。
type Server struct {
	addr    string
	manager *dialogue.Manager
	token   string
}

// NewServer 构造 API 服务实例。token 为空时关闭鉴权。
func NewServer(addr string, manager *dialogue.Manager, token string) *Server {
	return &Server{addr: addr, manager: manager, token: token}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/chat", instrument("chat", s.requireToken(http.HandlerFunc(s.handleChat))))
	mux.Handle("/api/v1/conversations/", instrument("conversations", s.requireToken(http.HandlerFunc(s.handleConversation))))
	mux.HandleFunc("/healthz", s.handleHealth)

	// 配置 HTTP 服务器。
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 启动服务器并监听关闭信号。
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// chatRequest 是 /api/v1/chat 的请求体。conversation_id 为空时由服务端生成，
// network 是可选的预选网络。
type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	Account        string `json:"account"`
	Network        string `json:"network"`
	Message        string `json:"message"`
}

// handleChat 处理一轮对话输入。
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeInvalidArgument, "only POST is supported")
		return
	}
	if s.manager == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "dialogue engine is not initialized")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "message is required")
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	response, err := s.manager.Handle(r.Context(), req.ConversationID, req.Account, req.Network, req.Message)
	if err != nil {
		writeError(w, statusOf(err), xerrors.CodeOf(err), err.Error())
		return
	}
	metrics.ObserveDialogueTurn(response.Task, string(response.Step))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// handleConversation 处理 /api/v1/conversations/{id} 上的操作，目前只支持 DELETE。
func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeInvalidArgument, "only DELETE is supported")
		return
	}
	if s.manager == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "dialogue engine is not initialized")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/conversations/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "conversation id is required")
		return
	}

	if err := s.manager.Delete(r.Context(), id); err != nil {
		if stdErrors.Is(err, conversation.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, xerrors.CodeNotFound, "conversation not found")
			return
		}
		writeError(w, statusOf(err), xerrors.CodeOf(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth 是存活探针。
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// statusOf 把内部错误码映射为 HTTP 状态码。
func statusOf(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeNotFound, conversation.CodeConversationNotFound:
		return http.StatusNotFound
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code xerrors.Code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]apiError{
		"error": {Code: string(code), Message: message},
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, xerrors.CodeUnknown, "server is shutting down")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
