package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/boristopalov/toolgym/pkg/core"
	"gopkg.in/yaml.v3"
)

const (
	CallThink  = "think"
	CallAction = "action"

	VerifierNone   = "none"
	VerifierTool   = "tool"
	VerifierCustom = "custom"

	RetryExhaust       = "exhaust"
	RetryStopOnSuccess = "stop_on_success"
)

// handlers maps a tool handler name to the number of tool calls kept per
// turn. 0 keeps all of them. The class-style names are accepted for old configs.
var handlers = map[string]int{
	"standard":    0,
	"single_call": 1,
	"QwenGame":    0,
	"LlamaGame":   1,
}

// MaxCallsFor resolves a handler name
func MaxCallsFor(handler string) (int, error) {
	n, ok := handlers[handler]
	if !ok {
		return 0, fmt.Errorf("unknown tool handler %q", handler)
	}
	return n, nil
}

type Config struct {
	Server     ServerConfig          `yaml:"server"`
	Provider   ProviderConfig        `yaml:"provider"`
	Generation core.GenerationParams `yaml:"generation"`
	Tool       ToolConfig            `yaml:"tool"`
	Template   TemplateConfig        `yaml:"template"`
	Verifier   VerifierConfig        `yaml:"verifier"`
	Data       DataConfig            `yaml:"data"`
	Results    ResultsConfig         `yaml:"results"`
	Run        RunConfig             `yaml:"run"`

	// Path is the file the config was loaded from
	Path string `yaml:"-"`
}

// ServerConfig points at an OpenAI-compatible server, e.g. a local vLLM
type ServerConfig struct {
	BaseURL string `yaml:"base_url"`
	Port    int    `yaml:"port"`
	Ports   int    `yaml:"ports"` // older configs spell it this way
}

// Endpoint joins base URL and port into the /v1 API root. Empty when unset.
func (s ServerConfig) Endpoint() string {
	if s.BaseURL == "" {
		return ""
	}
	port := s.Port
	if port == 0 {
		port = s.Ports
	}
	if port == 0 {
		return s.BaseURL
	}
	return fmt.Sprintf("%s:%d/v1", strings.TrimRight(s.BaseURL, "/"), port)
}

type ProviderConfig struct {
	Name   string `yaml:"name"`
	APIKey string `yaml:"api_key"`
}

type ToolConfig struct {
	Handler        string `yaml:"handler"`
	SchemaPath     string `yaml:"schema_path"`
	SubmissionTool string `yaml:"submission_tool"`
}

type TemplateConfig struct {
	Dir              string `yaml:"dir"`
	SystemPromptPath string `yaml:"system_prompt_path"`
	UserPromptPath   string `yaml:"user_prompt_path"`
	CoreLoop         []Step `yaml:"core_loop"`
}

// Step is one entry of the core loop
type Step struct {
	CallType         string         `yaml:"call_type"`
	AdditionalArgs   map[string]any `yaml:"additional_args"`
	NextTemplatePath string         `yaml:"next_template_path"`
}

type VerifierConfig struct {
	Type     string `yaml:"type"`
	ToolName string `yaml:"tool_name"`
	// Name selects a registered custom verifier
	Name string `yaml:"name"`
}

type DataConfig struct {
	Path        string `yaml:"path"`
	AnswerField string `yaml:"answer_field"`
	Limit       int    `yaml:"limit"`
}

type ResultsConfig struct {
	RunsDir    string `yaml:"runs_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

type RunConfig struct {
	// MaxRounds bounds core loop repetitions per episode; 0 is unbounded
	MaxRounds int    `yaml:"max_rounds"`
	LogLevel  string `yaml:"log_level"`
}

// LoadConfig reads, defaults and validates a YAML config file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Provider.Name == "" {
		c.Provider.Name = "openai"
	}
	if c.Tool.Handler == "" {
		c.Tool.Handler = "standard"
	}
	if c.Tool.SubmissionTool == "" {
		c.Tool.SubmissionTool = "submit_solution"
	}
	if c.Template.Dir == "" {
		c.Template.Dir = "."
	}
	if c.Verifier.Type == "" {
		c.Verifier.Type = VerifierNone
	}
	if c.Data.AnswerField == "" {
		c.Data.AnswerField = "answer"
	}
	if c.Results.RunsDir == "" {
		c.Results.RunsDir = "runs"
	}
	for i := range c.Template.CoreLoop {
		if c.Template.CoreLoop[i].AdditionalArgs == nil {
			c.Template.CoreLoop[i].AdditionalArgs = map[string]any{}
		}
	}
}

// Validate checks everything that can be checked without the filesystem
func (c *Config) Validate() error {
	var errs []error
	if len(c.Template.CoreLoop) == 0 {
		errs = append(errs, errors.New("template.core_loop is empty"))
	}
	for i, step := range c.Template.CoreLoop {
		if step.NextTemplatePath == "" {
			errs = append(errs, fmt.Errorf("core_loop[%d]: next_template_path is required", i))
		}
		switch step.CallType {
		case CallThink:
		case CallAction:
			if _, err := step.ToolsAvail(); err != nil {
				errs = append(errs, fmt.Errorf("core_loop[%d]: %w", i, err))
			}
			if _, err := step.RetryLimit(); err != nil {
				errs = append(errs, fmt.Errorf("core_loop[%d]: %w", i, err))
			}
			if _, err := step.RetryPolicy(); err != nil {
				errs = append(errs, fmt.Errorf("core_loop[%d]: %w", i, err))
			}
		default:
			errs = append(errs, fmt.Errorf("core_loop[%d]: unknown call_type %q", i, step.CallType))
		}
	}
	switch c.Verifier.Type {
	case VerifierNone:
	case VerifierTool:
		if c.Verifier.ToolName == "" {
			errs = append(errs, errors.New("verifier.tool_name is required for type tool"))
		}
	case VerifierCustom:
		if c.Verifier.Name == "" {
			errs = append(errs, errors.New("verifier.name is required for type custom"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown verifier.type %q", c.Verifier.Type))
	}
	if _, err := MaxCallsFor(c.Tool.Handler); err != nil {
		errs = append(errs, fmt.Errorf("tool.handler: %w", err))
	}
	if c.Run.MaxRounds < 0 {
		errs = append(errs, errors.New("run.max_rounds must not be negative"))
	}
	return errors.Join(errs...)
}

// TemplateIDs lists every template the config refers to
func (c *Config) TemplateIDs() []string {
	ids := []string{c.Template.SystemPromptPath, c.Template.UserPromptPath}
	for _, step := range c.Template.CoreLoop {
		ids = append(ids, step.NextTemplatePath)
	}
	return ids
}

// ToolsAvail returns the tool names an action step may call
func (s Step) ToolsAvail() ([]string, error) {
	raw, ok := s.AdditionalArgs["tools_avail"]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			name, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("tools_avail entry %v is not a string", item)
			}
			out = append(out, name)
		}
		return out, nil
	}
	return nil, fmt.Errorf("tools_avail must be a list, got %T", raw)
}

// RetryLimit returns the attempt budget of an action step, 1 when unset
func (s Step) RetryLimit() (int, error) {
	raw, ok := s.AdditionalArgs["retry_limit"]
	if !ok || raw == nil {
		return 1, nil
	}
	var n int
	switch v := raw.(type) {
	case int:
		n = v
	case int64:
		n = int(v)
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("retry_limit %v is not an integer", v)
		}
		n = int(v)
	default:
		return 0, fmt.Errorf("retry_limit must be an integer, got %T", raw)
	}
	if n < 1 {
		return 0, fmt.Errorf("retry_limit must be at least 1, got %d", n)
	}
	return n, nil
}

// RetryPolicy returns exhaust (the default) or stop_on_success
func (s Step) RetryPolicy() (string, error) {
	raw, ok := s.AdditionalArgs["retry_policy"]
	if !ok || raw == nil {
		return RetryExhaust, nil
	}
	policy, _ := raw.(string)
	switch policy {
	case RetryExhaust, RetryStopOnSuccess:
		return policy, nil
	}
	return "", fmt.Errorf("unknown retry_policy %v", raw)
}
