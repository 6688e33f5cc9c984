package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	ac := cfg.AgentConfig()
	if ac.MaxIterations != 20 || ac.HistoryLimit != 50 || ac.SubtaskConcurrency != 5 || !ac.EnableLoopDetection {
		t.Errorf("unexpected agent defaults %+v", ac)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "openwork.yaml", `
model:
  name: sonnet
  temperature: 0.2
agent:
  max_iterations: 8
  enable_loop_detection: false
sandbox:
  max_file_size: 1024
  blocked_extensions: [".exe"]
tools:
  bash_timeout: 5
  allowed_domains: ["example.com"]
logging:
  level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	ac, err := cfg.AdapterConfig()
	if err != nil {
		t.Fatal(err)
	}
	if ac.Provider != "anthropic" || ac.Model != "sonnet" || ac.Temperature != 0.2 || ac.MaxTokens != 4096 {
		t.Errorf("unexpected adapter config %+v", ac)
	}
	agent := cfg.AgentConfig()
	if agent.MaxIterations != 8 || agent.EnableLoopDetection || agent.HistoryLimit != 50 {
		t.Errorf("unexpected agent config %+v", agent)
	}
	sb := cfg.SandboxConfig()
	if sb.MaxFileSize != 1024 || len(sb.BlockedExtensions) != 1 || len(sb.AllowedExtensions) == 0 {
		t.Errorf("unexpected sandbox config %+v", sb)
	}
	topts := cfg.ToolOptions()
	if topts.BashTimeout != 5*time.Second || topts.WebTimeout != 30*time.Second || topts.AllowedDomains[0] != "example.com" {
		t.Errorf("unexpected tool options %+v", topts)
	}
	if cfg.LoggingOptions().Level != slog.LevelDebug {
		t.Errorf("unexpected log level %v", cfg.LoggingOptions().Level)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "openwork.toml", `
[model]
provider = "ollama"
name = "llama3.1"

[agent]
max_iterations = 3
subtask_concurrency = 2
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model.Provider != "ollama" || cfg.Agent.MaxIterations != 3 || cfg.Agent.SubtaskConcurrency != 2 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.RetryPolicy().MaxRetries != 2 {
		t.Errorf("unexpected retry policy %+v", cfg.RetryPolicy())
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	for name, content := range map[string]string{
		"bad.yaml": "agent:\n  max_iteration: 3\n",
		"bad.toml": "[agent]\nmax_iteration = 3\n",
	} {
		if _, err := Load(writeConfig(t, name, content)); err == nil {
			t.Errorf("%s: expected unknown key error", name)
		}
	}
}

func TestLoadUnsupportedFormat(t *testing.T) {
	_, err := Load(writeConfig(t, "config.json", "{}"))
	if err == nil || !strings.Contains(err.Error(), "unsupported config format") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Model.Name = "mystery-model"
	cfg.Agent.MaxIterations = 0
	cfg.Agent.SubtaskConcurrency = 0
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"cannot infer provider", "agent.max_iterations", "agent.subtask_concurrency", "logging.level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestAPIKeyResolution(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("OPENAI_API_KEY=from-dotenv\nCUSTOM_KEY=custom\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OPENAI_API_KEY", "from-env")
	t.Setenv("ANTHROPIC_API_KEY", "anthropic-env")

	cfg := Default()
	cfg.EnvFiles = []string{envFile, filepath.Join(dir, "missing.env")}

	if key, _ := cfg.APIKey(); key != "from-dotenv" {
		t.Errorf("expected .env value, got %q", key)
	}
	if os.Getenv("CUSTOM_KEY") != "" {
		t.Error("reading .env files must not modify the environment")
	}

	cfg.Model.APIKeyEnv = "CUSTOM_KEY"
	if key, _ := cfg.APIKey(); key != "custom" {
		t.Errorf("expected api_key_env lookup, got %q", key)
	}

	cfg.Model.APIKeyEnv = ""
	cfg.Model.Name = "claude-opus"
	if key, _ := cfg.APIKey(); key != "anthropic-env" {
		t.Errorf("expected process env fallback, got %q", key)
	}

	cfg.Model.APIKey = "explicit"
	if key, _ := cfg.APIKey(); key != "explicit" {
		t.Errorf("expected explicit key, got %q", key)
	}

	cfg.Model.APIKey = ""
	cfg.Model.Provider = "ollama"
	if key, _ := cfg.APIKey(); key != "" {
		t.Errorf("ollama needs no key, got %q", key)
	}
}
