// Package config loads the openwork configuration from YAML or TOML files
// and converts it into the settings of each component.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/martinemde/openwork/agentloop"
	"github.com/martinemde/openwork/llm"
	"github.com/martinemde/openwork/logging"
	"github.com/martinemde/openwork/sandbox"
	"github.com/martinemde/openwork/tools"
)

// Config is the complete openwork configuration.
type Config struct {
	Model   ModelConfig    `yaml:"model" toml:"model"`
	Agent   AgentConfig    `yaml:"agent" toml:"agent"`
	Sandbox sandbox.Config `yaml:"sandbox" toml:"sandbox"`
	Tools   ToolsConfig    `yaml:"tools" toml:"tools"`
	Logging LoggingConfig  `yaml:"logging" toml:"logging"`

	// EnvFiles are .env files searched for credentials. Missing files are
	// ignored.
	EnvFiles []string `yaml:"env_files" toml:"env_files"`
}

// ModelConfig selects and tunes the language model.
type ModelConfig struct {
	Provider    string  `yaml:"provider" toml:"provider"` // inferred from the model when empty
	Name        string  `yaml:"name" toml:"name"`         // model id or alias
	APIKey      string  `yaml:"api_key" toml:"api_key"`
	APIKeyEnv   string  `yaml:"api_key_env" toml:"api_key_env"`
	MaxTokens   int     `yaml:"max_tokens" toml:"max_tokens"`
	Temperature float64 `yaml:"temperature" toml:"temperature"`
	MaxRetries  int     `yaml:"max_retries" toml:"max_retries"`
}

// AgentConfig mirrors agentloop.Config.
type AgentConfig struct {
	MaxIterations        int    `yaml:"max_iterations" toml:"max_iterations"`
	HistoryLimit         int    `yaml:"history_limit" toml:"history_limit"`
	MaxSubagentDepth     int    `yaml:"max_subagent_depth" toml:"max_subagent_depth"`
	SubtaskConcurrency   int    `yaml:"subtask_concurrency" toml:"subtask_concurrency"`
	SubtaskMaxIterations int    `yaml:"subtask_max_iterations" toml:"subtask_max_iterations"`
	NativeToolCalls      bool   `yaml:"native_tool_calls" toml:"native_tool_calls"`
	EnableLoopDetection  bool   `yaml:"enable_loop_detection" toml:"enable_loop_detection"`
	LoopDetectionWindow  int    `yaml:"loop_detection_window" toml:"loop_detection_window"`
	ObservationCharLimit int    `yaml:"observation_char_limit" toml:"observation_char_limit"`
	SystemPrompt         string `yaml:"system_prompt" toml:"system_prompt"`
}

// ToolsConfig tunes the built-in tools. Timeouts are in seconds.
type ToolsConfig struct {
	BashTimeout       int      `yaml:"bash_timeout" toml:"bash_timeout"`
	MaxOutputLength   int      `yaml:"max_output_length" toml:"max_output_length"`
	AllowedCommands   []string `yaml:"allowed_commands" toml:"allowed_commands"`
	BlockedCommands   []string `yaml:"blocked_commands" toml:"blocked_commands"`
	CodeTimeout       int      `yaml:"code_timeout" toml:"code_timeout"`
	Python            string   `yaml:"python" toml:"python"`
	AllowFileAccess   bool     `yaml:"allow_file_access" toml:"allow_file_access"`
	SearchMaxFileSize int64    `yaml:"search_max_file_size" toml:"search_max_file_size"`
	SearchMaxResults  int      `yaml:"search_max_results" toml:"search_max_results"`
	WebTimeout        int      `yaml:"web_timeout" toml:"web_timeout"`
	MaxResponseSize   int64    `yaml:"max_response_size" toml:"max_response_size"`
	AllowedDomains    []string `yaml:"allowed_domains" toml:"allowed_domains"`
	BlockedDomains    []string `yaml:"blocked_domains" toml:"blocked_domains"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
	File  string `yaml:"file" toml:"file"` // optional JSON log file
}

// Default returns the default configuration.
func Default() *Config {
	ac := agentloop.DefaultConfig()
	topts := tools.DefaultOptions()
	return &Config{
		Model: ModelConfig{
			Name:       llm.DefaultModel("openai"),
			MaxTokens:  4096,
			MaxRetries: llm.DefaultRetryPolicy().MaxRetries,
		},
		Agent: AgentConfig{
			MaxIterations:        ac.MaxIterations,
			HistoryLimit:         ac.HistoryLimit,
			MaxSubagentDepth:     ac.MaxSubagentDepth,
			SubtaskConcurrency:   ac.SubtaskConcurrency,
			SubtaskMaxIterations: ac.SubtaskMaxIterations,
			EnableLoopDetection:  ac.EnableLoopDetection,
			LoopDetectionWindow:  ac.LoopDetectionWindow,
			ObservationCharLimit: ac.ObservationCharLimit,
		},
		Sandbox: sandbox.DefaultConfig(),
		Tools: ToolsConfig{
			BashTimeout:       int(topts.BashTimeout.Seconds()),
			MaxOutputLength:   topts.MaxOutputLength,
			CodeTimeout:       int(topts.CodeTimeout.Seconds()),
			Python:            topts.Python,
			SearchMaxFileSize: topts.SearchMaxFileSize,
			SearchMaxResults:  topts.SearchMaxResults,
			WebTimeout:        int(topts.WebTimeout.Seconds()),
			MaxResponseSize:   topts.MaxResponseSize,
		},
		Logging:  LoggingConfig{Level: "info"},
		EnvFiles: []string{".env"},
	}
}

// Load reads the file at path over the defaults. The format follows the
// extension: .yaml, .yml or .toml. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parse %s: unknown keys %v", path, undecoded)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q (want .yaml, .yml or .toml)", ext)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

var knownProviders = []string{"openai", "anthropic", "ollama"}

// Validate reports every invalid value.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	provider := c.provider()
	check(provider != "", "model.provider: cannot infer provider for model %q", c.Model.Name)
	check(provider == "" || slices.Contains(knownProviders, provider), "model.provider: unknown provider %q", provider)
	check(c.Model.MaxTokens >= 0, "model.max_tokens: must not be negative")
	check(c.Model.Temperature >= 0 && c.Model.Temperature <= 2, "model.temperature: must be between 0 and 2")
	check(c.Model.MaxRetries >= 0, "model.max_retries: must not be negative")

	check(c.Agent.MaxIterations >= 1, "agent.max_iterations: must be at least 1")
	check(c.Agent.HistoryLimit >= 1, "agent.history_limit: must be at least 1")
	check(c.Agent.MaxSubagentDepth >= 0, "agent.max_subagent_depth: must not be negative")
	check(c.Agent.SubtaskConcurrency >= 1, "agent.subtask_concurrency: must be at least 1")
	check(c.Agent.SubtaskMaxIterations >= 0, "agent.subtask_max_iterations: must not be negative")
	check(c.Agent.LoopDetectionWindow >= 2, "agent.loop_detection_window: must be at least 2")

	check(c.Sandbox.MaxFileSize >= 0, "sandbox.max_file_size: must not be negative")
	check(c.Tools.BashTimeout >= 0 && c.Tools.CodeTimeout >= 0 && c.Tools.WebTimeout >= 0, "tools: timeouts must not be negative")

	_, err := logging.ParseLevel(c.Logging.Level)
	check(err == nil, "logging.level: %v", err)

	return errors.Join(errs...)
}

func (c *Config) provider() string {
	if c.Model.Provider != "" {
		return strings.ToLower(c.Model.Provider)
	}
	return llm.InferProvider(llm.ResolveModel(c.Model.Name))
}

// DefaultAPIKeyEnv returns the conventional credential variable of a
// provider.
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	default:
		return ""
	}
}

// APIKey returns the model credential: the explicit api_key, else the
// variable named by api_key_env (or the provider default) looked up in the
// env files and then in the process environment. The environment is never
// modified.
func (c *Config) APIKey() (string, error) {
	if c.Model.APIKey != "" {
		return c.Model.APIKey, nil
	}
	name := c.Model.APIKeyEnv
	if name == "" {
		name = DefaultAPIKeyEnv(c.provider())
	}
	if name == "" {
		return "", nil
	}

	var files []string
	for _, f := range c.EnvFiles {
		if _, err := os.Stat(f); err == nil {
			files = append(files, f)
		}
	}
	if len(files) > 0 {
		vars, err := godotenv.Read(files...)
		if err != nil {
			return "", fmt.Errorf("read env files: %w", err)
		}
		if v := vars[name]; v != "" {
			return v, nil
		}
	}
	return os.Getenv(name), nil
}

// AgentConfig converts the agent section.
func (c *Config) AgentConfig() agentloop.Config {
	a := c.Agent
	return agentloop.Config{
		MaxIterations:        a.MaxIterations,
		HistoryLimit:         a.HistoryLimit,
		MaxSubagentDepth:     a.MaxSubagentDepth,
		SubtaskConcurrency:   a.SubtaskConcurrency,
		SubtaskMaxIterations: a.SubtaskMaxIterations,
		NativeToolCalls:      a.NativeToolCalls,
		EnableLoopDetection:  a.EnableLoopDetection,
		LoopDetectionWindow:  a.LoopDetectionWindow,
		ObservationCharLimit: a.ObservationCharLimit,
		SystemPrompt:         a.SystemPrompt,
	}
}

// SandboxConfig returns the sandbox section.
func (c *Config) SandboxConfig() sandbox.Config {
	return c.Sandbox
}

// AdapterConfig builds the gollm adapter settings, resolving the API key.
func (c *Config) AdapterConfig() (llm.AdapterConfig, error) {
	key, err := c.APIKey()
	if err != nil {
		return llm.AdapterConfig{}, err
	}
	return llm.AdapterConfig{
		Provider:    c.provider(),
		Model:       c.Model.Name,
		APIKey:      key,
		MaxTokens:   c.Model.MaxTokens,
		Temperature: c.Model.Temperature,
	}, nil
}

// RetryPolicy returns the retry policy for model calls.
func (c *Config) RetryPolicy() llm.RetryPolicy {
	p := llm.DefaultRetryPolicy()
	p.MaxRetries = c.Model.MaxRetries
	return p
}

// ToolOptions converts the tools section.
func (c *Config) ToolOptions() tools.Options {
	t := c.Tools
	return tools.Options{
		BashTimeout:       seconds(t.BashTimeout),
		MaxOutputLength:   t.MaxOutputLength,
		AllowedCommands:   t.AllowedCommands,
		BlockedCommands:   t.BlockedCommands,
		CodeTimeout:       seconds(t.CodeTimeout),
		Python:            t.Python,
		AllowFileAccess:   t.AllowFileAccess,
		SearchMaxFileSize: t.SearchMaxFileSize,
		SearchMaxResults:  t.SearchMaxResults,
		WebTimeout:        seconds(t.WebTimeout),
		MaxResponseSize:   t.MaxResponseSize,
		AllowedDomains:    t.AllowedDomains,
		BlockedDomains:    t.BlockedDomains,
	}
}

// LoggingOptions converts the logging section.
func (c *Config) LoggingOptions() logging.Options {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return logging.Options{Level: level, File: c.Logging.File}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
