package providers

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/boristopalov/toolgym/pkg/core"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1/"

func init() {
	Register("openai", func(ctx context.Context, params ProviderParams) (core.CompletionClient, error) {
		return newOpenAIClient(ctx, params), nil
	})
}

// OpenAIClient talks to OpenAI or any OpenAI-compatible server (vLLM, etc).
type OpenAIClient struct {
	client openai.Client
}

func newOpenAIClient(_ context.Context, params ProviderParams) *OpenAIClient {
	// Set defaults and environment fallbacks
	if params.BaseURL == "" {
		params.BaseURL = os.Getenv("OPENAI_API_BASE_URL")
		if params.BaseURL == "" {
			params.BaseURL = defaultOpenAIBaseURL
		}
	}
	if params.APIKey == "" {
		params.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if params.APIKey == "" {
		// local servers ignore the key but the SDK insists on one
		params.APIKey = "-"
	}

	opts := []option.RequestOption{
		option.WithAPIKey(params.APIKey),
		option.WithBaseURL(params.BaseURL),
	}
	if params.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(params.HTTPClient))
	}
	slog.Info("using base URL", "provider", "openai", "url", params.BaseURL)
	return &OpenAIClient{
		client: openai.NewClient(opts...),
	}
}

// OpenAi builds a client from options with environment fallbacks.
func OpenAi(ctx context.Context, opts ...ProviderOption) *OpenAIClient {
	params := ProviderParams{}
	for _, opt := range opts {
		opt(&params)
	}
	return newOpenAIClient(ctx, params)
}

func (c *OpenAIClient) Complete(ctx context.Context, req core.CompletionRequest) (core.Message, error) {
	body := openai.ChatCompletionNewParams{
		Model:    req.Params.Model,
		Messages: toOpenAIMessages(req.Messages),
	}
	if req.Params.Temperature != nil {
		body.Temperature = openai.Float(*req.Params.Temperature)
	}
	if req.Params.TopP != nil {
		body.TopP = openai.Float(*req.Params.TopP)
	}
	if req.Params.MaxTokens > 0 {
		body.MaxTokens = openai.Int(req.Params.MaxTokens)
	}
	if req.Params.Seed != nil {
		body.Seed = openai.Int(*req.Params.Seed)
	}
	// tool history is accepted without definitions, so only constrained turns carry them
	if len(req.Tools) > 0 && req.RequireTool {
		body.Tools = toOpenAITools(req.Tools)
		body.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: openai.String("required"),
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, body)
	if err != nil {
		return core.Message{}, err
	}
	if len(resp.Choices) == 0 {
		return core.Message{}, errors.New("openai: response has no choices")
	}

	choice := resp.Choices[0].Message
	out := core.Message{Role: core.RoleAssistant, Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, core.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: core.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out, nil
}

func toOpenAIMessages(msgs []core.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case core.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case core.RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case core.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		case core.RoleAssistant:
			asst := &openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				asst.Content.OfString = openai.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: asst})
		}
	}
	return out
}

func toOpenAITools(schemas []core.ToolSchema) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(schemas))
	for _, s := range schemas {
		fn := openai.FunctionDefinitionParam{
			Name:       s.Function.Name,
			Parameters: openai.FunctionParameters(s.Function.Parameters),
		}
		if s.Function.Description != "" {
			fn.Description = openai.String(s.Function.Description)
		}
		out = append(out, openai.ChatCompletionToolParam{Function: fn})
	}
	return out
}
