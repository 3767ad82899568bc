package environment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/boristopalov/toolgym/pkg/agent"
	"github.com/boristopalov/toolgym/pkg/config"
	"github.com/boristopalov/toolgym/pkg/core"
	"github.com/boristopalov/toolgym/pkg/messaging"
	"github.com/boristopalov/toolgym/pkg/tools"
)

// NormalizeCalls copies the model's tool calls into the stored shape,
// keeping at most maxCalls of them (all when maxCalls <= 0).
func NormalizeCalls(raw []core.ToolCall, maxCalls int) []core.ToolCall {
	n := len(raw)
	if maxCalls > 0 && n > maxCalls {
		n = maxCalls
	}
	out := make([]core.ToolCall, n)
	for i := 0; i < n; i++ {
		out[i] = core.ToolCall{
			ID:   raw[i].ID,
			Type: "function",
			Function: core.FunctionCall{
				Name:      raw[i].Function.Name,
				Arguments: raw[i].Function.Arguments,
			},
		}
	}
	return out
}

// Outcome is what one dispatch produced
type Outcome struct {
	// Calls holds the executed or skipped requests when the turn was tool-call shaped
	Calls []core.ToolCallRequest
	// Content is the assistant text of a plain turn
	Content   string
	ToolTurn  bool
	Submitted bool
}

// Value is what the next-step template sees as the outcome
func (o Outcome) Value() any {
	if o.Submitted {
		return nil
	}
	if o.ToolTurn {
		return o.Calls
	}
	if o.Content == "" {
		return nil
	}
	return o.Content
}

// Dispatcher turns one tool-constrained model turn into executed tool effects
type Dispatcher struct {
	registry *tools.Registry
	maxCalls int
	events   messaging.Publisher
}

func NewDispatcher(registry *tools.Registry, handler string, events messaging.Publisher) (*Dispatcher, error) {
	maxCalls, err := config.MaxCallsFor(handler)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		registry: registry,
		maxCalls: maxCalls,
		events:   events,
	}, nil
}

func (d *Dispatcher) Registry() *tools.Registry {
	return d.registry
}

// Dispatch runs one act / execute / follow-up cycle. Tool failures, argument
// decoding failures and Act failures are returned so the caller can retry.
// Calls to tools that are not requested or not registered are skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, ag agent.Agent, state *EpisodeState, toolsAvail []string) (Outcome, error) {
	schemas, err := d.registry.Schemas(toolsAvail)
	if err != nil {
		return Outcome{}, err
	}

	msg, err := ag.Act(ctx, schemas)
	if err != nil {
		return Outcome{}, err
	}

	if len(msg.ToolCalls) == 0 {
		ag.Update(core.RoleAssistant, msg.Content)
		return Outcome{Content: msg.Content}, nil
	}

	calls := NormalizeCalls(msg.ToolCalls, d.maxCalls)
	ag.Update(core.RoleAssistant, msg.Content, agent.WithToolCalls(calls))

	out := Outcome{ToolTurn: true, Calls: make([]core.ToolCallRequest, 0, len(calls))}
	for _, call := range calls {
		req, err := call.Decode()
		if err != nil {
			return out, err
		}
		out.Calls = append(out.Calls, req)
	}

	requested := make(map[string]bool, len(toolsAvail))
	for _, name := range toolsAvail {
		requested[name] = true
	}

	for i := range out.Calls {
		req := &out.Calls[i]
		if req.Name == d.registry.Submission() {
			if state.Submit(req.Arguments) {
				slog.Info("solution submitted", "episode", state.EpisodeID(), "solution", req.Arguments)
				messaging.Emit(d.events, messaging.Event{
					Kind:      messaging.SolutionSubmitted,
					EpisodeID: state.EpisodeID(),
					Detail:    req.ID,
				})
			}
			out.Submitted = true
			return out, nil
		}

		if !requested[req.Name] || !d.registry.Has(req.Name) {
			slog.Debug("skipping tool call", "episode", state.EpisodeID(), "tool", req.Name)
			messaging.Emit(d.events, messaging.Event{
				Kind:      messaging.ToolSkipped,
				EpisodeID: state.EpisodeID(),
				Detail:    req.Name,
			})
			continue
		}

		result, err := d.registry.Call(ctx, req.Name, req.Arguments)
		if err != nil {
			return out, fmt.Errorf("%s: %w", req.Name, err)
		}
		req.Output = result
		ag.Update(core.RoleTool, fmt.Sprint(result), agent.WithToolCallID(req.ID))
	}

	// let the model react to the tool results
	if follow, ok := ag.Generate(ctx); ok {
		ag.Update(core.RoleAssistant, follow.Content)
	}
	return out, nil
}
