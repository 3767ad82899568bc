package environment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/boristopalov/toolgym/pkg/agent"
	"github.com/boristopalov/toolgym/pkg/config"
	"github.com/boristopalov/toolgym/pkg/core"
	"github.com/boristopalov/toolgym/pkg/messaging"
	"github.com/boristopalov/toolgym/pkg/results"
	"github.com/google/uuid"
)

const (
	placeholderMessage = "I encountered an error while processing your request."
	retryMessage       = "The previous action failed: %v. Please try again."
)

// Renderer turns a template id and data into prompt text
type Renderer interface {
	Render(id string, data any) (string, error)
}

// GameConfig is the slice of the run configuration a game needs
type GameConfig struct {
	Steps            []config.Step
	SystemPromptPath string
	UserPromptPath   string
	Verifier         config.VerifierConfig
	MaxRounds        int
}

func GameConfigFrom(cfg *config.Config) GameConfig {
	return GameConfig{
		Steps:            cfg.Template.CoreLoop,
		SystemPromptPath: cfg.Template.SystemPromptPath,
		UserPromptPath:   cfg.Template.UserPromptPath,
		Verifier:         cfg.Verifier,
		MaxRounds:        cfg.Run.MaxRounds,
	}
}

type step struct {
	callType     string
	nextTemplate string
	toolsAvail   []string
	retryLimit   int
	retryPolicy  string
}

var _ Environment = (*Game)(nil)

// Game runs the configured core loop for one input record
type Game struct {
	cfg        GameConfig
	steps      []step
	record     map[string]any
	dispatcher *Dispatcher
	renderer   Renderer
	verifiers  *Verifiers
	sink       results.Sink
	events     messaging.Publisher
	state      *EpisodeState
}

type GameOption func(*Game)

func WithSink(s results.Sink) GameOption {
	return func(g *Game) {
		g.sink = s
	}
}

func WithVerifiers(v *Verifiers) GameOption {
	return func(g *Game) {
		g.verifiers = v
	}
}

func WithEvents(pub messaging.Publisher) GameOption {
	return func(g *Game) {
		g.events = pub
	}
}

func WithEpisodeID(id string) GameOption {
	return func(g *Game) {
		g.state = NewEpisodeState(id)
	}
}

// NewGame checks the core loop against the dispatcher's registry up front so
// a bad step surfaces before any model call.
func NewGame(cfg GameConfig, record map[string]any, dispatcher *Dispatcher, renderer Renderer, opts ...GameOption) (*Game, error) {
	if dispatcher == nil || renderer == nil {
		return nil, errors.New("game needs a dispatcher and a renderer")
	}
	if len(cfg.Steps) == 0 {
		return nil, errors.New("core loop is empty")
	}

	g := &Game{
		cfg:        cfg,
		record:     record,
		dispatcher: dispatcher,
		renderer:   renderer,
		verifiers:  NewVerifiers(),
		state:      NewEpisodeState("episode-" + uuid.New().String()),
	}
	for _, opt := range opts {
		opt(g)
	}

	for i, s := range cfg.Steps {
		st := step{callType: s.CallType, nextTemplate: s.NextTemplatePath}
		switch s.CallType {
		case config.CallThink:
		case config.CallAction:
			var err error
			if st.toolsAvail, err = s.ToolsAvail(); err != nil {
				return nil, fmt.Errorf("step %d: %w", i, err)
			}
			if st.retryLimit, err = s.RetryLimit(); err != nil {
				return nil, fmt.Errorf("step %d: %w", i, err)
			}
			if st.retryPolicy, err = s.RetryPolicy(); err != nil {
				return nil, fmt.Errorf("step %d: %w", i, err)
			}
			if _, err := dispatcher.Registry().Schemas(st.toolsAvail); err != nil {
				return nil, fmt.Errorf("step %d: %w", i, err)
			}
		default:
			return nil, fmt.Errorf("step %d: unknown call_type %q", i, s.CallType)
		}
		g.steps = append(g.steps, st)
	}
	return g, nil
}

func (g *Game) GetState() State {
	return g.state.Snapshot()
}

func (g *Game) Play(ctx context.Context, ag agent.Agent) core.EpisodeResult {
	g.onStart(ctx, ag)

	round := 0
	for !g.state.Submitted() {
		if err := ctx.Err(); err != nil {
			slog.Warn("episode interrupted", "episode", g.state.EpisodeID(), "round", round, "err", err)
			break
		}
		if g.cfg.MaxRounds > 0 && round >= g.cfg.MaxRounds {
			slog.Warn("episode hit max rounds without a submission", "episode", g.state.EpisodeID(), "rounds", round)
			break
		}
		round++
		g.coreLoop(ctx, ag, round)
	}

	return g.onEnd(ctx, ag)
}

func (g *Game) coreLoop(ctx context.Context, ag agent.Agent, round int) {
	for i, st := range g.steps {
		if ctx.Err() != nil {
			return
		}
		g.state.advance(StatusRunning, round, i)

		var outcome any
		switch st.callType {
		case config.CallThink:
			outcome = g.think(ctx, ag)
		case config.CallAction:
			outcome = g.action(ctx, ag, st)
		}
		if g.state.Submitted() {
			return
		}

		content, err := g.renderer.Render(st.nextTemplate, map[string]any{"outcome": outcome})
		if err != nil {
			slog.Error("failed to render next prompt", "episode", g.state.EpisodeID(), "template", st.nextTemplate, "err", err)
			messaging.Emit(g.events, messaging.Event{
				Kind:      messaging.RenderFailed,
				EpisodeID: g.state.EpisodeID(),
				Detail:    st.nextTemplate,
				Err:       err,
			})
			continue
		}
		ag.Update(core.RoleUser, content)
	}
}

func (g *Game) think(ctx context.Context, ag agent.Agent) any {
	msg, ok := ag.Generate(ctx)
	if !ok {
		return nil
	}
	ag.Update(core.RoleAssistant, msg.Content)
	if msg.Content == "" {
		return nil
	}
	return msg.Content
}

// action wraps the dispatcher in the step's retry budget. Under the default
// exhaust policy every attempt runs and only the last one's outcome counts.
func (g *Game) action(ctx context.Context, ag agent.Agent, st step) any {
	for attempt := 0; attempt < st.retryLimit; attempt++ {
		before := ag.Len()
		out, err := g.dispatcher.Dispatch(ctx, ag, g.state, st.toolsAvail)
		if g.state.Submitted() {
			return nil
		}
		if err == nil {
			if attempt == st.retryLimit-1 || st.retryPolicy == config.RetryStopOnSuccess {
				return out.Value()
			}
			continue
		}

		slog.Warn("action failed", "episode", g.state.EpisodeID(), "attempt", attempt+1, "of", st.retryLimit, "err", err)
		messaging.Emit(g.events, messaging.Event{
			Kind:      messaging.ActionFailed,
			EpisodeID: g.state.EpisodeID(),
			Detail:    fmt.Sprintf("attempt %d of %d", attempt+1, st.retryLimit),
			Err:       err,
		})
		if ctx.Err() != nil {
			break
		}
		if attempt < st.retryLimit-1 {
			if ag.Len() == before {
				ag.Update(core.RoleAssistant, placeholderMessage)
			}
			ag.Update(core.RoleUser, fmt.Sprintf(retryMessage, err))
		}
	}
	return nil
}

func (g *Game) onStart(_ context.Context, ag agent.Agent) {
	g.state.advance(StatusRunning, 0, 0)
	if id := g.cfg.SystemPromptPath; id != "" {
		g.prompt(ag, core.RoleSystem, id)
	}
	if id := g.cfg.UserPromptPath; id != "" {
		g.prompt(ag, core.RoleUser, id)
	}
}

func (g *Game) prompt(ag agent.Agent, role core.Role, id string) {
	content, err := g.renderer.Render(id, g.record)
	if err != nil {
		slog.Error("failed to render prompt", "episode", g.state.EpisodeID(), "template", id, "err", err)
		messaging.Emit(g.events, messaging.Event{
			Kind:      messaging.RenderFailed,
			EpisodeID: g.state.EpisodeID(),
			Detail:    id,
			Err:       err,
		})
		return
	}
	ag.Update(role, content)
}

func (g *Game) onEnd(ctx context.Context, ag agent.Agent) core.EpisodeResult {
	correct := g.verifySolution(ctx)
	g.state.finish(correct)

	result := core.EpisodeResult{
		Solution:    g.state.Solution(),
		Correctness: correct,
		Messages:    ag.Messages(),
	}
	if g.sink != nil {
		// persist even when the run is being cancelled
		if err := g.sink.Append(context.WithoutCancel(ctx), result); err != nil {
			slog.Error("failed to persist result", "episode", g.state.EpisodeID(), "err", err)
		}
	}
	messaging.Emit(g.events, messaging.Event{
		Kind:      messaging.EpisodeFinished,
		EpisodeID: g.state.EpisodeID(),
		Detail:    fmt.Sprintf("correct=%t", correct),
	})
	return result
}

// verifySolution fails closed: anything other than a clean true is false.
func (g *Game) verifySolution(ctx context.Context) bool {
	correct, err := g.verify(ctx)
	if err != nil {
		slog.Warn("verification failed", "episode", g.state.EpisodeID(), "kind", g.cfg.Verifier.Type, "err", err)
		messaging.Emit(g.events, messaging.Event{
			Kind:      messaging.VerificationFailed,
			EpisodeID: g.state.EpisodeID(),
			Detail:    g.cfg.Verifier.Type,
			Err:       err,
		})
		return false
	}
	return correct
}

func (g *Game) verify(ctx context.Context) (bool, error) {
	kind := g.cfg.Verifier.Type
	if kind == "" || kind == config.VerifierNone {
		return false, nil
	}
	solution := g.state.Solution()
	if solution == nil {
		return false, errNoSolution
	}
	ctx = context.WithoutCancel(ctx)

	switch kind {
	case config.VerifierTool:
		registry := g.dispatcher.Registry()
		name := g.cfg.Verifier.ToolName
		if !registry.Has(name) {
			return false, fmt.Errorf("verifier tool %q is not registered", name)
		}
		out, err := registry.Call(ctx, name, solution)
		if err != nil {
			return false, err
		}
		correct, ok := out.(bool)
		if !ok {
			return false, fmt.Errorf("verifier tool %q returned %T, want bool", name, out)
		}
		return correct, nil
	case config.VerifierCustom:
		if g.verifiers == nil {
			return false, fmt.Errorf("%w: %q", ErrVerifierNotFound, g.cfg.Verifier.Name)
		}
		return g.verifiers.Verify(ctx, g.cfg.Verifier.Name, solution, g.record)
	}
	return false, fmt.Errorf("unknown verifier kind %q", kind)
}
