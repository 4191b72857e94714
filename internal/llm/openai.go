package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Client implements Model against any OpenAI-compatible chat completions API.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	logger  *slog.Logger
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewClient creates an OpenAI-compatible chat client.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// WithModel returns a copy of the client that targets a different model.
func (c *Client) WithModel(model string) *Client {
	cp := *c
	cp.model = model
	return &cp
}

// wire types for /chat/completions.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Tools          []chatTool      `json:"tools,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type chatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function chatFunctionCall `json:"function"`
}

type chatFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			ToolCalls []chatToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate sends one non-streaming chat completion request.
func (c *Client) Generate(ctx context.Context, req Request) (Response, error) {
	body := c.buildBody(req)
	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("%w: marshal request: %v", ErrModelUnavailable, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("%w: create request: %v", ErrModelUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Response{}, fmt.Errorf("%w: status %d: %s", ErrModelUnavailable, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Response{}, fmt.Errorf("%w: decode response: %v", ErrModelUnavailable, err)
	}
	if len(parsed.Choices) == 0 {
		return Response{}, fmt.Errorf("%w: response has no choices", ErrModelUnavailable)
	}

	msg := parsed.Choices[0].Message
	out := Response{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: NormalizeArguments(tc.Function.Arguments),
		})
	}

	c.logger.Debug("model response",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"tool_calls", len(out.ToolCalls),
	)
	return out, nil
}

func (c *Client) buildBody(req Request) chatRequest {
	body := chatRequest{Model: c.model}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: string(RoleSystem), Content: req.System})
	}
	for _, m := range req.Messages {
		cm := chatMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, chatToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: chatFunctionCall{Name: tc.Name, Arguments: string(tc.Arguments)},
			})
		}
		body.Messages = append(body.Messages, cm)
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, chatTool{
			Type:     "function",
			Function: chatFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}
	if req.JSON {
		temp := 0.3
		body.Temperature = &temp
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return body
}

var _ Model = (*Client)(nil)
