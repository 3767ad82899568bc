package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Role identifies the author of a conversation turn
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of the conversation shared by agent and environment.
// An empty Content is serialized as null.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	type wire struct {
		Role       Role       `json:"role"`
		Content    *string    `json:"content"`
		ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
		ToolCallID string     `json:"tool_call_id,omitempty"`
	}
	w := wire{Role: m.Role, ToolCalls: m.ToolCalls, ToolCallID: m.ToolCallID}
	if m.Content != "" {
		w.Content = &m.Content
	}
	return json.Marshal(w)
}

// ToolCall is a tool invocation as issued by the model, arguments still serialized.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCallRequest is a ToolCall with its arguments decoded.
type ToolCallRequest struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Output    any            `json:"output,omitempty"`
}

// Decode parses the serialized arguments of a tool call.
func (c ToolCall) Decode() (ToolCallRequest, error) {
	req := ToolCallRequest{ID: c.ID, Name: c.Function.Name, Arguments: map[string]any{}}
	if c.Function.Arguments == "" {
		return req, nil
	}
	dec := json.NewDecoder(strings.NewReader(c.Function.Arguments))
	dec.UseNumber()
	err := dec.Decode(&req.Arguments)
	if err == nil && dec.Decode(&struct{}{}) != io.EOF {
		err = errors.New("trailing data after arguments object")
	}
	if err != nil {
		return req, fmt.Errorf("decode arguments of %s call %q: %w", c.Function.Name, c.ID, err)
	}
	if req.Arguments == nil {
		req.Arguments = map[string]any{}
	}
	for k, v := range req.Arguments {
		req.Arguments[k] = numbers(v)
	}
	return req, nil
}

// maxExactInt is the largest magnitude below which every integer is a float64
const maxExactInt = 1 << 53

// numbers turns decoded json.Numbers into float64, except integers too large
// for float64 to hold exactly. Those stay json.Number and marshal unchanged.
func numbers(v any) any {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			if i > maxExactInt || i < -maxExactInt {
				return v
			}
			return float64(i)
		}
		if f, err := v.Float64(); err == nil {
			if !strings.ContainsAny(v.String(), ".eE") {
				return v
			}
			return f
		}
		return v
	case map[string]any:
		for k, e := range v {
			v[k] = numbers(e)
		}
		return v
	case []any:
		for i, e := range v {
			v[i] = numbers(e)
		}
		return v
	}
	return v
}

// ToolSchema advertises a callable tool to the completion service.
type ToolSchema struct {
	Type     string       `json:"type" yaml:"type"`
	Function FunctionSpec `json:"function" yaml:"function"`
}

type FunctionSpec struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// GenerationParams are the sampling settings forwarded to the completion service
type GenerationParams struct {
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	TopP        *float64 `yaml:"top_p,omitempty"`
	MaxTokens   int64    `yaml:"max_tokens,omitempty"`
	Seed        *int64   `yaml:"seed,omitempty"`
}

// CompletionRequest is one round trip to the completion service.
// RequireTool forces the model to choose at least one of Tools. Without it,
// Tools are context only: the model answers in text, and clients whose API
// needs tool definitions to accept tool turns send them with calling disabled.
type CompletionRequest struct {
	Params      GenerationParams
	Messages    []Message
	Tools       []ToolSchema
	RequireTool bool
}

// EpisodeResult is the persisted outcome of one episode
type EpisodeResult struct {
	Solution    map[string]any `json:"solution"`
	Correctness bool           `json:"correctness"`
	Messages    []Message      `json:"messages"`
}

type ExperimentStatus struct {
	Running   bool
	StartTime time.Time
	EndTime   time.Time
	Episodes  int
	Correct   int
	Errors    []error
}
