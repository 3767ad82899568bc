package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/boristopalov/toolgym/pkg/core"
)

const defaultAnthropicMaxTokens = 1024

func init() {
	Register("anthropic", func(ctx context.Context, params ProviderParams) (core.CompletionClient, error) {
		return Anthropic(ctx, params)
	})
}

type AnthropicClient struct {
	client anthropic.Client
}

func Anthropic(_ context.Context, params ProviderParams) (*AnthropicClient, error) {
	apiKey := params.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("Error retrieving ANTHROPIC_API_KEY")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if params.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(params.BaseURL))
	}
	if params.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(params.HTTPClient))
	}
	return &AnthropicClient{client: anthropic.NewClient(opts...)}, nil
}

func (c *AnthropicClient) Complete(ctx context.Context, req core.CompletionRequest) (core.Message, error) {
	system, msgs := toAnthropicMessages(req.Messages)

	body := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Params.Model),
		MaxTokens: req.Params.MaxTokens,
		Messages:  msgs,
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = defaultAnthropicMaxTokens
	}
	if system != "" {
		body.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Params.Temperature != nil {
		body.Temperature = anthropic.Float(*req.Params.Temperature)
	}
	if req.Params.TopP != nil {
		body.TopP = anthropic.Float(*req.Params.TopP)
	}
	// tool_use and tool_result blocks are refused unless the tools are defined
	if len(req.Tools) > 0 {
		body.Tools = toAnthropicTools(req.Tools)
		if req.RequireTool {
			body.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		} else {
			body.ToolChoice = anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
		}
	}

	resp, err := c.client.Messages.New(ctx, body)
	if err != nil {
		return core.Message{}, err
	}

	out := core.Message{Role: core.RoleAssistant}
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := string(block.Input)
			if args == "" || args == "null" {
				args = "{}"
			}
			out.ToolCalls = append(out.ToolCalls, core.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: core.FunctionCall{
					Name:      block.Name,
					Arguments: args,
				},
			})
		}
	}
	out.Content = text.String()
	return out, nil
}

// toAnthropicMessages lifts system turns out of the log and merges consecutive
// turns of the same role, since tool results ride in user turns.
func toAnthropicMessages(msgs []core.Message) (string, []anthropic.MessageParam) {
	var system []string
	var out []anthropic.MessageParam

	add := func(role anthropic.MessageParamRole, blocks ...anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		if role == anthropic.MessageParamRoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}

	for _, m := range msgs {
		switch m.Role {
		case core.RoleSystem:
			system = append(system, m.Content)
		case core.RoleUser:
			if m.Content != "" {
				add(anthropic.MessageParamRoleUser, anthropic.NewTextBlock(m.Content))
			}
		case core.RoleTool:
			add(anthropic.MessageParamRoleUser, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
		case core.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any = map[string]any{}
				if json.Valid([]byte(tc.Function.Arguments)) {
					input = json.RawMessage(tc.Function.Arguments)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
			}
			add(anthropic.MessageParamRoleAssistant, blocks...)
		}
	}
	return strings.Join(system, "\n\n"), out
}

func toAnthropicTools(schemas []core.ToolSchema) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		schema := anthropic.ToolInputSchemaParam{}
		if props, ok := s.Function.Parameters["properties"]; ok {
			schema.Properties = props
		}
		schema.Required = requiredFields(s.Function.Parameters["required"])
		tool := &anthropic.ToolParam{
			Name:        s.Function.Name,
			InputSchema: schema,
		}
		if s.Function.Description != "" {
			tool.Description = anthropic.String(s.Function.Description)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: tool})
	}
	return out
}

func requiredFields(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
