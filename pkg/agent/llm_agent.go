package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/boristopalov/toolgym/internal/logging"
	"github.com/boristopalov/toolgym/pkg/core"
	"github.com/boristopalov/toolgym/pkg/memory"
	"github.com/boristopalov/toolgym/pkg/messaging"
	"github.com/google/uuid"
)

// Agent is what an environment drives through an episode
type Agent interface {
	GetID() string
	// Generate returns the next assistant turn with no tool constraint.
	// ok is false when no usable output came back.
	Generate(ctx context.Context) (msg core.Message, ok bool)
	// Act returns the next assistant turn, forcing at least one tool call
	Act(ctx context.Context, schemas []core.ToolSchema) (core.Message, error)
	// Update appends a turn to the conversation
	Update(role core.Role, content string, opts ...MessageOption)
	Messages() []core.Message
	Len() int
}

// ActError is returned by Act when the tool-constrained request fails
type ActError struct {
	Err error
}

func (e *ActError) Error() string {
	return fmt.Sprintf("Error in tool calling: %v", e.Err)
}

func (e *ActError) Unwrap() error {
	return e.Err
}

type LLMAgent struct {
	id     string
	params core.GenerationParams
	client core.CompletionClient
	memory *memory.Memory
	events messaging.Publisher
	// tools last advertised by Act, resent as context on unconstrained turns
	tools []core.ToolSchema
}

type AgentParams struct {
	AgentID string
	Params  core.GenerationParams
	Client  core.CompletionClient
	Events  messaging.Publisher
}

type AgentOption func(*AgentParams)

func WithClient(c core.CompletionClient) AgentOption {
	return func(p *AgentParams) {
		p.Client = c
	}
}

func WithParams(params core.GenerationParams) AgentOption {
	return func(p *AgentParams) {
		p.Params = params
	}
}

func WithModel(model string) AgentOption {
	return func(p *AgentParams) {
		p.Params.Model = model
	}
}

func WithAgentId(id string) AgentOption {
	return func(p *AgentParams) {
		p.AgentID = id
	}
}

// WithEvents sets where absorbed failures are reported
func WithEvents(pub messaging.Publisher) AgentOption {
	return func(p *AgentParams) {
		p.Events = pub
	}
}

func defaultAgentParams() *AgentParams {
	return &AgentParams{
		Params: core.GenerationParams{
			Model: "gpt-4o-mini",
		},
		AgentID: "agent-" + uuid.New().String(),
	}
}

// NewLLMAgent creates an agent with an empty conversation
func NewLLMAgent(opts ...AgentOption) (*LLMAgent, error) {
	params := defaultAgentParams()

	for _, opt := range opts {
		opt(params)
	}

	if params.Client == nil {
		return nil, errors.New("agent needs a completion client")
	}

	return &LLMAgent{
		id:     params.AgentID,
		params: params.Params,
		client: params.Client,
		memory: memory.NewMemory(),
		events: params.Events,
	}, nil
}

func (a *LLMAgent) GetID() string {
	return a.id
}

func (a *LLMAgent) GetParams() core.GenerationParams {
	return a.params
}

func (a *LLMAgent) Generate(ctx context.Context) (core.Message, bool) {
	msg, err := a.complete(ctx, a.tools, false)
	if err != nil {
		slog.Warn("generation failed", "agent", a.id, "err", err)
		messaging.Emit(a.events, messaging.Event{
			Kind:   messaging.GenerationFailed,
			Detail: a.id,
			Err:    err,
		})
		return core.Message{}, false
	}
	return msg, true
}

func (a *LLMAgent) Act(ctx context.Context, schemas []core.ToolSchema) (core.Message, error) {
	if len(schemas) > 0 {
		a.tools = schemas
	}
	msg, err := a.complete(ctx, schemas, true)
	if err != nil {
		actErr := &ActError{Err: err}
		slog.Warn("tool calling failed", "agent", a.id, "err", err)
		messaging.Emit(a.events, messaging.Event{
			Kind:   messaging.ActFailed,
			Detail: a.id,
			Err:    actErr,
		})
		return core.Message{}, actErr
	}
	return msg, nil
}

func (a *LLMAgent) complete(ctx context.Context, schemas []core.ToolSchema, requireTool bool) (core.Message, error) {
	msg, err := a.client.Complete(ctx, core.CompletionRequest{
		Params:      a.params,
		Messages:    a.memory.GetAllMessages(),
		Tools:       schemas,
		RequireTool: requireTool && len(schemas) > 0,
	})
	if err != nil {
		return core.Message{}, err
	}
	msg.Role = core.RoleAssistant
	return msg, nil
}

type MessageOption func(*core.Message)

func WithToolCalls(calls []core.ToolCall) MessageOption {
	return func(m *core.Message) {
		m.ToolCalls = calls
	}
}

func WithToolCallID(id string) MessageOption {
	return func(m *core.Message) {
		m.ToolCallID = id
	}
}

// Update is the only way turns enter the conversation
func (a *LLMAgent) Update(role core.Role, content string, opts ...MessageOption) {
	msg := core.Message{Role: role, Content: content}
	for _, opt := range opts {
		opt(&msg)
	}
	a.memory.Store(msg)

	if content != "" {
		logging.Trace(context.Background(), string(role)+" --\n"+content)
	} else {
		logging.Trace(context.Background(), string(role)+" --", "tool_calls", msg.ToolCalls, "tool_call_id", msg.ToolCallID)
	}
}

func (a *LLMAgent) Messages() []core.Message {
	return a.memory.GetAllMessages()
}

func (a *LLMAgent) Len() int {
	return a.memory.Len()
}
