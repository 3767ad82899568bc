package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/boristopalov/toolgym/pkg/agent"
	"github.com/boristopalov/toolgym/pkg/config"
	"github.com/boristopalov/toolgym/pkg/core"
	"github.com/boristopalov/toolgym/pkg/dataset"
	"github.com/boristopalov/toolgym/pkg/environment"
	"github.com/boristopalov/toolgym/pkg/messaging"
	"github.com/boristopalov/toolgym/pkg/providers"
	"github.com/boristopalov/toolgym/pkg/results"
	"github.com/boristopalov/toolgym/pkg/templates"
	"github.com/boristopalov/toolgym/pkg/tools"
)

var _ core.Experiment = (*Runner)(nil)

// Runner plays one episode per dataset record, one after another
type Runner struct {
	cfg       *config.Config
	records   []dataset.Record
	client    core.CompletionClient
	renderer  environment.Renderer
	schemas   []core.ToolSchema
	verifiers *environment.Verifiers
	sink      results.Sink
	stats     *Stats
	events    messaging.Publisher

	mu     sync.RWMutex
	status core.ExperimentStatus
}

type RunnerOption func(*Runner)

func WithRecords(records []dataset.Record) RunnerOption {
	return func(r *Runner) {
		r.records = records
	}
}

func WithClient(c core.CompletionClient) RunnerOption {
	return func(r *Runner) {
		r.client = c
	}
}

func WithRenderer(rend environment.Renderer) RunnerOption {
	return func(r *Runner) {
		r.renderer = rend
	}
}

func WithVerifiers(v *environment.Verifiers) RunnerOption {
	return func(r *Runner) {
		r.verifiers = v
	}
}

func WithSink(s results.Sink) RunnerOption {
	return func(r *Runner) {
		r.sink = s
	}
}

func WithStats(s *Stats) RunnerOption {
	return func(r *Runner) {
		r.stats = s
	}
}

func WithEvents(pub messaging.Publisher) RunnerOption {
	return func(r *Runner) {
		r.events = pub
	}
}

// NewRunner fills in whatever the options left unset from cfg: the dataset,
// the provider client, the template directory and the tool schema file.
func NewRunner(ctx context.Context, cfg *config.Config, opts ...RunnerOption) (*Runner, error) {
	r := &Runner{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}

	if r.records == nil {
		records, err := dataset.Load(cfg.Data.Path, cfg.Data.Limit)
		if err != nil {
			return nil, err
		}
		r.records = records
	}
	if r.client == nil {
		client, err := NewClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		r.client = client
	}
	if r.renderer == nil {
		r.renderer = templates.New(cfg.Template.Dir)
	}
	if r.verifiers == nil {
		r.verifiers = environment.DefaultVerifiers(cfg.Data.AnswerField)
	}

	schemas, err := Schemas(cfg)
	if err != nil {
		return nil, err
	}
	r.schemas = schemas
	return r, nil
}

// NewClient builds the configured provider's client
func NewClient(ctx context.Context, cfg *config.Config) (core.CompletionClient, error) {
	var opts []providers.ProviderOption
	if endpoint := cfg.Server.Endpoint(); endpoint != "" {
		opts = append(opts, providers.WithBaseURL(endpoint))
	}
	if cfg.Provider.APIKey != "" {
		opts = append(opts, providers.WithAPIKey(cfg.Provider.APIKey))
	}
	return providers.New(ctx, cfg.Provider.Name, opts...)
}

// Schemas returns the advertised schemas: the submission tool's default,
// overridden by anything in the schema file.
func Schemas(cfg *config.Config) ([]core.ToolSchema, error) {
	schemas := []core.ToolSchema{tools.SubmissionSchema(cfg.Tool.SubmissionTool)}
	if cfg.Tool.SchemaPath == "" {
		return schemas, nil
	}
	loaded, err := tools.LoadSchemas(cfg.Tool.SchemaPath)
	if err != nil {
		return nil, err
	}
	return append(schemas, loaded...), nil
}

// Registry builds the tools of one record: the arithmetic set plus a verify
// tool bound to the record's expected answer.
func Registry(cfg *config.Config, schemas []core.ToolSchema, rec dataset.Record) (*tools.Registry, error) {
	all := append(tools.Arithmetic(), tools.NewVerifyTool(rec.String(cfg.Data.AnswerField)))
	return tools.NewRegistry(cfg.Tool.SubmissionTool, schemas, all...)
}

func (r *Runner) GetStatus() core.ExperimentStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	status := r.status
	status.Errors = append([]error(nil), r.status.Errors...)
	return status
}

// Run plays every record. Setup failures of an episode stop the run, the
// episodes themselves never fail.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	r.status = core.ExperimentStatus{Running: true, StartTime: time.Now()}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.status.Running = false
		r.status.EndTime = time.Now()
		r.mu.Unlock()
	}()

	return r.runLoop(ctx)
}

func (r *Runner) runLoop(ctx context.Context) error {
	slog.Info("starting run", "episodes", len(r.records), "provider", r.cfg.Provider.Name, "model", r.cfg.Generation.Model)

	for i, rec := range r.records {
		select {
		case <-ctx.Done():
			slog.Warn("run interrupted", "completed", i, "of", len(r.records))
			return ctx.Err()
		default:
		}

		start := time.Now()
		res, err := r.step(ctx, rec)
		if err != nil {
			r.recordError(err)
			return fmt.Errorf("episode %d: %w", rec.Index, err)
		}
		r.tally(rec, res, time.Since(start))
	}

	status := r.GetStatus()
	slog.Info("run finished", "episodes", status.Episodes, "correct", status.Correct, "accuracy", accuracy(status))
	return nil
}

func (r *Runner) step(ctx context.Context, rec dataset.Record) (core.EpisodeResult, error) {
	registry, err := Registry(r.cfg, r.schemas, rec)
	if err != nil {
		return core.EpisodeResult{}, err
	}
	dispatcher, err := environment.NewDispatcher(registry, r.cfg.Tool.Handler, r.events)
	if err != nil {
		return core.EpisodeResult{}, err
	}

	ag, err := agent.NewLLMAgent(
		agent.WithClient(r.client),
		agent.WithParams(r.cfg.Generation),
		agent.WithAgentId(fmt.Sprintf("agent-%d", rec.Index)),
		agent.WithEvents(r.events),
	)
	if err != nil {
		return core.EpisodeResult{}, err
	}

	opts := []environment.GameOption{
		environment.WithVerifiers(r.verifiers),
		environment.WithEvents(r.events),
		environment.WithEpisodeID(fmt.Sprintf("episode-%d", rec.Index)),
	}
	if r.sink != nil {
		opts = append(opts, environment.WithSink(r.sink))
	}
	game, err := environment.NewGame(environment.GameConfigFrom(r.cfg), rec.Fields, dispatcher, r.renderer, opts...)
	if err != nil {
		return core.EpisodeResult{}, err
	}

	slog.Info("starting episode", "index", rec.Index)
	return game.Play(ctx, ag), nil
}

func (r *Runner) tally(rec dataset.Record, res core.EpisodeResult, took time.Duration) {
	r.mu.Lock()
	r.status.Episodes++
	if res.Correctness {
		r.status.Correct++
	}
	status := r.status
	r.mu.Unlock()

	slog.Info("episode finished",
		"index", rec.Index,
		"submitted", res.Solution != nil,
		"correct", res.Correctness,
		"accuracy", fmt.Sprintf("%.3f", accuracy(status)),
		"took", took.Round(time.Millisecond),
	)

	if r.stats != nil {
		row := StatsRow{
			Episode:   rec.Index,
			Submitted: res.Solution != nil,
			Correct:   res.Correctness,
			Accuracy:  accuracy(status),
			Messages:  len(res.Messages),
			Duration:  took,
		}
		if err := r.stats.Write(row); err != nil {
			slog.Warn("failed to write stats row", "err", err)
		}
	}
}

func (r *Runner) recordError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Errors = append(r.status.Errors, err)
}

func accuracy(s core.ExperimentStatus) float64 {
	if s.Episodes == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Episodes)
}

// Close releases the sink and stats file when they hold resources
func (r *Runner) Close() error {
	var errs []error
	if r.stats != nil {
		errs = append(errs, r.stats.Close())
	}
	if c, ok := r.sink.(interface{ Close() error }); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
