package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/boristopalov/toolgym/pkg/core"
	"github.com/google/uuid"
	"google.golang.org/genai"
)

func init() {
	Register("gemini", func(ctx context.Context, params ProviderParams) (core.CompletionClient, error) {
		return Gemini(ctx, params)
	})
}

type GeminiClient struct {
	client *genai.Client
}

func Gemini(ctx context.Context, params ProviderParams) (*GeminiClient, error) {
	apiKey := params.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("Error retrieving GEMINI_API_KEY")
	}
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: params.HTTPClient,
	}
	if params.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: params.BaseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &GeminiClient{
		client: client,
	}, nil
}

func (c *GeminiClient) Complete(ctx context.Context, req core.CompletionRequest) (core.Message, error) {
	system, contents, err := toGeminiContents(req.Messages)
	if err != nil {
		return core.Message{}, err
	}

	cfg := &genai.GenerateContentConfig{SystemInstruction: system}
	if req.Params.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*req.Params.Temperature))
	}
	if req.Params.TopP != nil {
		cfg.TopP = genai.Ptr(float32(*req.Params.TopP))
	}
	if req.Params.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.Params.MaxTokens)
	}
	if req.Params.Seed != nil {
		cfg.Seed = genai.Ptr(int32(*req.Params.Seed))
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, s := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 s.Function.Name,
				Description:          s.Function.Description,
				ParametersJsonSchema: s.Function.Parameters,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
		mode := genai.FunctionCallingConfigModeNone
		if req.RequireTool {
			mode = genai.FunctionCallingConfigModeAny
		}
		cfg.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: mode},
		}
	}

	resp, err := c.client.Models.GenerateContent(ctx, req.Params.Model, contents, cfg)
	if err != nil {
		return core.Message{}, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return core.Message{}, errors.New("gemini: response has no candidates")
	}
	return fromGeminiContent(resp.Candidates[0].Content)
}

// toGeminiContents splits out system turns and maps tool results back to the
// function name of the call they answer.
func toGeminiContents(msgs []core.Message) (*genai.Content, []*genai.Content, error) {
	var system []string
	var contents []*genai.Content
	callNames := map[string]string{}

	for _, m := range msgs {
		switch m.Role {
		case core.RoleSystem:
			system = append(system, m.Content)
		case core.RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case core.RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				args := map[string]any{}
				if tc.Function.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
						return nil, nil, fmt.Errorf("gemini: arguments of call %s: %w", tc.ID, err)
					}
				}
				callNames[tc.ID] = tc.Function.Name
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   tc.ID,
					Name: tc.Function.Name,
					Args: args,
				}})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
		case core.RoleTool:
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       m.ToolCallID,
				Name:     callNames[m.ToolCallID],
				Response: map[string]any{"output": m.Content},
			}}
			// consecutive tool results travel in one user turn
			if n := len(contents); n > 0 && contents[n-1].Role == genai.RoleUser && isFunctionResponses(contents[n-1]) {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
				continue
			}
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
		}
	}

	var sys *genai.Content
	if len(system) > 0 {
		sys = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	return sys, contents, nil
}

func isFunctionResponses(c *genai.Content) bool {
	for _, p := range c.Parts {
		if p.FunctionResponse == nil {
			return false
		}
	}
	return len(c.Parts) > 0
}

func fromGeminiContent(c *genai.Content) (core.Message, error) {
	out := core.Message{Role: core.RoleAssistant}
	var text strings.Builder
	for _, p := range c.Parts {
		if p.Text != "" && !p.Thought {
			text.WriteString(p.Text)
		}
		if p.FunctionCall == nil {
			continue
		}
		args, err := json.Marshal(p.FunctionCall.Args)
		if err != nil {
			return core.Message{}, fmt.Errorf("gemini: encode args of %s: %w", p.FunctionCall.Name, err)
		}
		id := p.FunctionCall.ID
		if id == "" {
			id = "call-" + uuid.New().String()
		}
		out.ToolCalls = append(out.ToolCalls, core.ToolCall{
			ID:   id,
			Type: "function",
			Function: core.FunctionCall{
				Name:      p.FunctionCall.Name,
				Arguments: string(args),
			},
		})
	}
	out.Content = text.String()
	return out, nil
}
