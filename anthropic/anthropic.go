// Package anthropic implements triage.Engine over the Anthropic Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/carebound/triage"
)

const (
	apiVersion     = "2023-06-01"
	defaultBaseURL = "https://api.anthropic.com/v1/messages"
	defaultModel   = "claude-3-7-sonnet-20250219"
	maxTokens      = 4096
)

// Engine is an Anthropic-backed reasoning engine.
type Engine struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

// Option configures an Engine.
type Option func(*Engine)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(e *Engine) { e.model = model }
}

// WithBaseURL overrides the API endpoint, e.g. for tests or proxies.
func WithBaseURL(url string) Option {
	return func(e *Engine) { e.baseURL = url }
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.httpClient = c }
}

// New creates an Engine. Per-request deadlines come from the caller's ctx;
// the client timeout is a backstop only.
func New(apiKey string, opts ...Option) *Engine {
	e := &Engine{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		apiKey:     apiKey,
		model:      defaultModel,
		baseURL:    defaultBaseURL,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Wire types. Messages with tool traffic use structured content blocks;
// plain messages keep string content.

type apiRequest struct {
	Model     string    `json:"model"`
	Messages  []any     `json:"messages"`
	System    string    `json:"system,omitempty"`
	MaxTokens int       `json:"max_tokens"`
	Tools     []toolDef `json:"tools,omitempty"`
}

type plainMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type blockMessage struct {
	Role    string `json:"role"`
	Content []any  `json:"content"`
}

type textBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolUseBlock struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type toolResultBlock struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
}

type toolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type apiResponse struct {
	ID         string            `json:"id"`
	Content    []json.RawMessage `json:"content"`
	StopReason string            `json:"stop_reason,omitempty"`
	Error      *apiError         `json:"error,omitempty"`
}

type contentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Generate implements triage.Engine.
func (e *Engine) Generate(ctx context.Context, req triage.GenerateRequest) (*triage.GenerateReply, error) {
	payload := apiRequest{
		Model:     e.model,
		Messages:  convertMessages(req.Messages),
		System:    req.System,
		MaxTokens: maxTokens,
		Tools:     convertTools(req.Tools),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: creating request: %w", err)
	}
	httpReq.Header.Set("x-api-key", e.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	httpReq.Header.Set("content-type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("anthropic: status %d: %s", resp.StatusCode, respBody)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("anthropic: parsing response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("anthropic: API error %s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}

	reply := &triage.GenerateReply{}
	var textParts []string
	for _, raw := range apiResp.Content {
		var block contentBlock
		if err := json.Unmarshal(raw, &block); err != nil {
			continue
		}
		switch block.Type {
		case "text":
			textParts = append(textParts, block.Text)
		case "tool_use":
			input := block.Input
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			reply.ToolCalls = append(reply.ToolCalls, triage.ToolCall{
				ID:       block.ID,
				ToolName: block.Name,
				Args:     input,
			})
		}
	}
	if len(reply.ToolCalls) == 0 {
		reply.Candidate = json.RawMessage(stripFences(strings.Join(textParts, "")))
	}
	return reply, nil
}

// convertMessages maps the provider-agnostic conversation to Anthropic wire
// messages: tool results become user messages with a tool_result block, and
// assistant tool calls become tool_use blocks.
func convertMessages(messages []triage.Message) []any {
	var out []any
	for _, msg := range messages {
		switch {
		case msg.Role == triage.RoleTool && msg.ToolCallID != "":
			out = append(out, blockMessage{
				Role: "user",
				Content: []any{toolResultBlock{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})
		case msg.Role == triage.RoleAssistant && len(msg.ToolCalls) > 0:
			var blocks []any
			if msg.Content != "" {
				blocks = append(blocks, textBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Args
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, toolUseBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.ToolName,
					Input: input,
				})
			}
			out = append(out, blockMessage{Role: "assistant", Content: blocks})
		default:
			out = append(out, plainMessage{Role: msg.Role, Content: msg.Content})
		}
	}
	return out
}

func convertTools(tools []triage.ToolDef) []toolDef {
	out := make([]toolDef, 0, len(tools))
	for _, t := range tools {
		out = append(out, toolDef{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	return out
}

// stripFences removes a surrounding markdown code fence, which models emit
// around JSON despite instructions not to.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

var _ triage.Engine = (*Engine)(nil)
