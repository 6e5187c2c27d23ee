package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/moltworks/colony/pkg/config"
	"github.com/moltworks/colony/pkg/models"
)

// ChatMessage is one turn sent to an OpenAI-compatible API.
type ChatMessage struct {
	Role       string
	Content    string
	ToolCalls  []models.ToolCall
	ToolCallID string
}

// ToolSpec declares one callable tool for the model.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatRequest is one completion request against a specific model.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	Tools       []ToolSpec
	Temperature float64
	MaxTokens   int
}

// ChatResponse is the parsed completion result.
type ChatResponse struct {
	Content      string
	FinishReason string
	ToolCalls    []models.ToolCall
	InputTokens  int64
	OutputTokens int64
}

// Client speaks the OpenAI chat completions wire format against one
// provider endpoint (LiteLLM, OpenRouter, vLLM, Ollama's compat layer).
type Client struct {
	provider string
	baseURL  string
	apiKey   string
	http     *http.Client
}

// NewClient builds a client for a provider endpoint. The API key is
// resolved from the environment variable the provider spec names.
func NewClient(providerID string, spec *config.ProviderSpec) *Client {
	apiKey := ""
	if spec.APIKeyEnv != "" {
		apiKey = os.Getenv(spec.APIKeyEnv)
	}
	return &Client{
		provider: providerID,
		baseURL:  strings.TrimRight(spec.BaseURL, "/"),
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 120 * time.Second},
	}
}

// wire format structs

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string   `json:"type"`
	Function ToolSpec `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

func toWireMessage(m ChatMessage) wireMessage {
	wm := wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
	for _, tc := range m.ToolCalls {
		wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: wireFunction{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	return wm
}

type wireResponse struct {
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete performs one non-streaming chat completion. Failures come
// back as *CallError carrying the transient/invariant classification the
// gateway's failover loop keys on.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := wireRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, toWireMessage(m))
	}
	for _, tool := range req.Tools {
		body.Tools = append(body.Tools, wireTool{Type: "function", Function: tool})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &CallError{Provider: c.provider, Model: req.Model, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, &CallError{Provider: c.provider, Model: req.Model, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		// Connection refused, DNS, timeout: the endpoint may recover,
		// and another provider may be reachable right now.
		return nil, &CallError{Provider: c.provider, Model: req.Model, Err: err, transient: true}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, &CallError{Provider: c.provider, Model: req.Model, Err: err, transient: true}
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(raw))
		var wr wireResponse
		if json.Unmarshal(raw, &wr) == nil && wr.Error != nil {
			msg = wr.Error.Message
		}
		return nil, &CallError{
			Provider:   c.provider,
			Model:      req.Model,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", msg),
			transient:  transientStatus(resp.StatusCode),
		}
	}

	var wr wireResponse
	if err := json.Unmarshal(raw, &wr); err != nil {
		return nil, &CallError{Provider: c.provider, Model: req.Model, Err: fmt.Errorf("decode response: %w", err), transient: true}
	}
	if len(wr.Choices) == 0 {
		return nil, &CallError{Provider: c.provider, Model: req.Model, Err: fmt.Errorf("response has no choices"), transient: true}
	}

	choice := wr.Choices[0]
	out := &ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		InputTokens:  wr.Usage.PromptTokens,
		OutputTokens: wr.Usage.CompletionTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}
