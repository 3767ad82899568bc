package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/boristopalov/toolgym/internal/logging"
	"github.com/boristopalov/toolgym/pkg/config"
	"github.com/boristopalov/toolgym/pkg/dataset"
	"github.com/boristopalov/toolgym/pkg/environment"
	"github.com/boristopalov/toolgym/pkg/experiment"
	"github.com/boristopalov/toolgym/pkg/messaging"
	"github.com/boristopalov/toolgym/pkg/results"
	"github.com/boristopalov/toolgym/pkg/templates"
)

var (
	configPath string
	logLevel   string
	noColor    bool
	runsDir    string
	limit      int
	sqlitePath string
	runName    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "toolgym",
		Short:         "toolgym runs tool-calling episodes of an LLM agent over a dataset and scores the submitted answers.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the run config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, trace, info, warn or error (default from config, else trace)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored log output")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Play one episode per dataset record and write the results",
		Args:  cobra.NoArgs,
		RunE:  runExperiment,
	}
	runCmd.Flags().StringVar(&runsDir, "runs-dir", "", "override results.runs_dir")
	runCmd.Flags().IntVar(&limit, "limit", 0, "play at most this many records")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check config, tool schemas and templates without calling a model",
		Args:  cobra.NoArgs,
		RunE:  validateConfig,
	}

	reportCmd := &cobra.Command{
		Use:   "report [results.jsonl]",
		Short: "Summarize a results file, or a run stored in SQLite",
		Args:  cobra.MaximumNArgs(1),
		RunE:  report,
	}
	reportCmd.Flags().StringVar(&sqlitePath, "sqlite", "", "read from this SQLite database instead of a JSONL file")
	reportCmd.Flags().StringVar(&runName, "run", "", "run directory name to read from the SQLite database")

	for _, envFile := range []string{
		".env",
		"../../.env",
		"../../../.env",
	} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	rootCmd.AddCommand(runCmd, validateCmd, reportCmd)
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.Run.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	if _, err := logging.Setup(os.Stderr, level, noColor); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runExperiment(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runsDir != "" {
		cfg.Results.RunsDir = runsDir
	}
	if limit > 0 {
		cfg.Data.Limit = limit
	}

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	dir, err := experiment.SetupRun(cfg, time.Now())
	if err != nil {
		return err
	}
	slog.Info("run directory", "path", dir.Path)

	sinks := results.MultiSink{results.NewJSONLSink(dir.ResultsPath())}
	if cfg.Results.SQLitePath != "" {
		db, err := results.OpenSQLite(ctx, cfg.Results.SQLitePath, filepath.Base(dir.Path))
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		defer db.Close()
		sinks = append(sinks, db)
	}

	stats, err := experiment.NewStats(dir.StatsPath())
	if err != nil {
		return err
	}

	broker := messaging.NewBroker()
	defer broker.Reset()
	stop, err := experiment.LogEvents(ctx, broker)
	if err != nil {
		return err
	}
	defer stop()

	runner, err := experiment.NewRunner(ctx, cfg,
		experiment.WithSink(sinks),
		experiment.WithStats(stats),
		experiment.WithEvents(broker),
	)
	if err != nil {
		stats.Close()
		return err
	}
	defer runner.Close()

	if err := runner.Run(ctx); err != nil {
		return fmt.Errorf("experiment failed: %w", err)
	}

	status := runner.GetStatus()
	fmt.Fprintf(cmd.OutOrStdout(), "episodes: %d\ncorrect: %d\nresults: %s\n", status.Episodes, status.Correct, dir.ResultsPath())
	return nil
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	renderer := templates.New(cfg.Template.Dir)
	if err := renderer.Check(cfg.TemplateIDs()...); err != nil {
		return err
	}
	schemas, err := experiment.Schemas(cfg)
	if err != nil {
		return err
	}
	registry, err := experiment.Registry(cfg, schemas, dataset.Record{})
	if err != nil {
		return err
	}
	dispatcher, err := environment.NewDispatcher(registry, cfg.Tool.Handler, nil)
	if err != nil {
		return err
	}
	if _, err := environment.NewGame(environment.GameConfigFrom(cfg), nil, dispatcher, renderer); err != nil {
		return err
	}
	if cfg.Verifier.Type == config.VerifierCustom {
		if _, ok := environment.DefaultVerifiers(cfg.Data.AnswerField).Lookup(cfg.Verifier.Name); !ok {
			return fmt.Errorf("%w: %q", environment.ErrVerifierNotFound, cfg.Verifier.Name)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d steps, tools %v)\n", configPath, len(cfg.Template.CoreLoop), registry.Names())
	return nil
}

func report(cmd *cobra.Command, args []string) error {
	if _, err := logging.Setup(os.Stderr, logLevel, noColor); err != nil {
		return err
	}

	var recs []results.Record
	switch {
	case sqlitePath != "":
		if runName == "" {
			return fmt.Errorf("--run is required with --sqlite")
		}
		db, err := results.OpenSQLite(cmd.Context(), sqlitePath, runName)
		if err != nil {
			return err
		}
		defer db.Close()
		if recs, err = db.All(cmd.Context()); err != nil {
			return err
		}
	case len(args) == 1:
		var err error
		if recs, err = results.ReadJSONL(args[0]); err != nil {
			return err
		}
	default:
		return fmt.Errorf("pass a results file or --sqlite with --run")
	}

	s := results.Summarize(recs)
	fmt.Fprintf(cmd.OutOrStdout(), "episodes: %d\nsubmitted: %d\ncorrect: %d\naccuracy: %.3f\n",
		s.Episodes, s.Submitted, s.Correct, s.Accuracy())
	return nil
}
