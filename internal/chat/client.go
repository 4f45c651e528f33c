// Package chat implements the outbound request to the managed agent
// backend. The request is context-cancellable; a malformed response
// payload is a hard failure, never retried here.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"agentdeck/internal/auth"
	"agentdeck/internal/logging"
)

// Client sends one user message to the agent backend and returns the
// agent's reply.
type Client interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// Request is the outbound chat payload.
type Request struct {
	ConversationID string `json:"conversation_id"`
	SessionID      string `json:"session_id,omitempty"`
	AgentID        string `json:"agent_id"`
	Message        string `json:"message"`
	ContextSize    int    `json:"context_size,omitempty"`
}

// Response is the backend's reply. Reply carries the final assistant
// text; ToolsUsed names any tools the backend invoked while producing
// it.
type Response struct {
	Reply     string   `json:"reply"`
	ToolsUsed []string `json:"tools_used,omitempty"`
}

// apiEnvelope is the wire shape, including the error the backend
// returns on failure.
type apiEnvelope struct {
	Reply     string   `json:"reply"`
	ToolsUsed []string `json:"tools_used,omitempty"`
	Error     *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// HTTPClient implements Client against the backend's chat endpoint.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	authSource auth.Provider
}

// HTTPConfig holds configuration for the HTTP chat client.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewHTTPClient creates a chat client. The auth provider supplies the
// bearer token per request.
func NewHTTPClient(cfg HTTPConfig, authSource auth.Provider) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		authSource: authSource,
	}
}

// Send posts the request and decodes the reply.
func (c *HTTPClient) Send(ctx context.Context, req Request) (*Response, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("chat: base URL not configured")
	}

	timer := logging.StartTimer(logging.CategoryAPI, "chat.Send")
	defer timer.Stop()

	token, err := c.authSource.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("chat: failed to obtain access token: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("chat: failed to marshal request: %w", err)
	}

	logging.APIDebug("Sending chat request: conversation=%s agent=%s message_len=%d",
		req.ConversationID, req.AgentID, len(req.Message))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("chat: failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Cancellation surfaces here; callers distinguish it from
		// genuine failure via errors.Is(err, context.Canceled).
		return nil, fmt.Errorf("chat: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("chat: failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		logging.Get(logging.CategoryAPI).Error("Chat request failed: status=%d body_len=%d", resp.StatusCode, len(raw))
		return nil, fmt.Errorf("chat: backend returned status %d", resp.StatusCode)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("chat: malformed response payload: %w", err)
	}
	if envelope.Error != nil {
		return nil, fmt.Errorf("chat: backend error: %s", envelope.Error.Message)
	}
	if envelope.Reply == "" {
		// A 200 with no reply text means the payload shape is wrong.
		return nil, fmt.Errorf("chat: malformed response: missing reply text")
	}

	logging.APIDebug("Chat response received: reply_len=%d tools=%d", len(envelope.Reply), len(envelope.ToolsUsed))

	return &Response{Reply: envelope.Reply, ToolsUsed: envelope.ToolsUsed}, nil
}
