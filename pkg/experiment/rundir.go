package experiment

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boristopalov/toolgym/pkg/config"
	"gopkg.in/yaml.v3"
)

const runTimeFormat = "2006-01-02_15:04:05"

// RunDir is the output directory of one run:
// <runs_dir>/<timestamp>_<config hash>/
type RunDir struct {
	Path string
}

func (d RunDir) ConfigPath() string  { return filepath.Join(d.Path, "config.yaml") }
func (d RunDir) ResultsPath() string { return filepath.Join(d.Path, "results.jsonl") }
func (d RunDir) StatsPath() string   { return filepath.Join(d.Path, "stats.csv") }

// ConfigHash is the md5 of the config's JSON form. Runs of the same config
// share the suffix.
func ConfigHash(cfg *config.Config) (string, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("hash config: %w", err)
	}
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:]), nil
}

// SetupRun creates the run directory and stores a copy of the config in it
func SetupRun(cfg *config.Config, now time.Time) (RunDir, error) {
	hash, err := ConfigHash(cfg)
	if err != nil {
		return RunDir{}, err
	}
	dir := RunDir{Path: filepath.Join(cfg.Results.RunsDir, now.Format(runTimeFormat)+"_"+hash)}
	if err := os.MkdirAll(dir.Path, 0o755); err != nil {
		return RunDir{}, fmt.Errorf("create run dir: %w", err)
	}

	data, err := configBytes(cfg)
	if err != nil {
		return RunDir{}, err
	}
	if err := os.WriteFile(dir.ConfigPath(), data, 0o644); err != nil {
		return RunDir{}, fmt.Errorf("copy config: %w", err)
	}
	return dir, nil
}

// configBytes prefers the file as written; a config built in code is
// marshalled instead.
func configBytes(cfg *config.Config) ([]byte, error) {
	if cfg.Path != "" {
		if data, err := os.ReadFile(cfg.Path); err == nil {
			return data, nil
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}
