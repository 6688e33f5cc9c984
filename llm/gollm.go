package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// AdapterConfig carries everything a GollmAdapter needs. Credentials are
// passed here explicitly; the adapter never writes to the process
// environment.
type AdapterConfig struct {
	Provider    string
	Model       string
	APIKey      string
	MaxTokens   int
	Temperature float64
	Options     []gollm.ConfigOption
}

// GollmAdapter wraps a gollm.LLM instance and implements ProviderAdapter.
type GollmAdapter struct {
	provider    string
	llm         gollm.LLM
	model       string
	maxTokens   int
	temperature float64

	// Requests that override model options take the write lock so their
	// SetOption calls never leak into a concurrent plain request.
	mu sync.RWMutex
}

// NewGollmAdapter creates a new GollmAdapter from cfg. Model aliases are
// resolved through the catalog; an empty model selects the provider's
// default.
func NewGollmAdapter(cfg AdapterConfig) (*GollmAdapter, error) {
	provider := cfg.Provider
	model := ResolveModel(cfg.Model)
	if provider == "" {
		provider = InferProvider(model)
	}
	if provider == "" {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("cannot infer provider for model %q", cfg.Model),
		}}
	}
	if model == "" {
		model = DefaultModel(provider)
	}
	if model == "" {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("no model configured for provider %q", provider),
		}}
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	opts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.MaxTokens),
		gollm.SetTemperature(cfg.Temperature),
		gollm.SetMaxRetries(0), // retries happen in RetryMiddleware
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.APIKey != "" {
		opts = append(opts, gollm.SetAPIKey(cfg.APIKey))
	}
	opts = append(opts, cfg.Options...)

	l, err := gollm.NewLLM(opts...)
	if err != nil {
		return nil, fmt.Errorf("create gollm client for provider %s: %w", provider, err)
	}

	return NewGollmAdapterFromLLM(AdapterConfig{
		Provider:    provider,
		Model:       model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}, l), nil
}

// NewGollmAdapterFromLLM wraps an existing gollm.LLM instance. cfg must
// describe the options l was built with; they are restored after every
// request that overrides them.
func NewGollmAdapterFromLLM(cfg AdapterConfig, l gollm.LLM) *GollmAdapter {
	return &GollmAdapter{
		provider:    cfg.Provider,
		llm:         l,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

// Name returns the provider identifier.
func (a *GollmAdapter) Name() string {
	return a.provider
}

// Model returns the adapter's default model id.
func (a *GollmAdapter) Model() string {
	return a.model
}

// Complete sends a blocking request and returns the full completion.
func (a *GollmAdapter) Complete(ctx context.Context, req Request) (*Completion, error) {
	prompt := translateRequest(req)

	var (
		text string
		err  error
	)
	if overridesOptions(req, a.model) {
		a.mu.Lock()
		a.applyRequestOptions(req)
		text, err = a.llm.Generate(ctx, prompt)
		a.restoreOptions(req)
		a.mu.Unlock()
	} else {
		a.mu.RLock()
		text, err = a.llm.Generate(ctx, prompt)
		a.mu.RUnlock()
	}
	if err != nil {
		return nil, a.translateError(err)
	}

	return a.buildCompletion(req, text), nil
}

func overridesOptions(req Request, model string) bool {
	return (req.Model != "" && req.Model != model) || req.Temperature != nil || req.MaxTokens != nil
}

// applyRequestOptions applies request-level parameters to the gollm LLM.
func (a *GollmAdapter) applyRequestOptions(req Request) {
	if req.Model != "" {
		a.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		a.llm.SetOption("temperature", *req.Temperature)
	}
	if req.MaxTokens != nil {
		a.llm.SetOption("max_tokens", *req.MaxTokens)
	}
}

// restoreOptions puts back every option applyRequestOptions changed.
func (a *GollmAdapter) restoreOptions(req Request) {
	if req.Model != "" {
		a.llm.SetOption("model", a.model)
	}
	if req.Temperature != nil {
		a.llm.SetOption("temperature", a.temperature)
	}
	if req.MaxTokens != nil {
		a.llm.SetOption("max_tokens", a.maxTokens)
	}
}

// translateRequest flattens a linear history into a gollm prompt. System
// messages become the system prompt; the rest are rendered in order with a
// role prefix for non-user turns.
func translateRequest(req Request) *gollm.Prompt {
	var system []string
	var parts []string

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, msg.Content)
		case RoleUser:
			parts = append(parts, msg.Content)
		case RoleAssistant:
			if msg.Content != "" {
				parts = append(parts, "[Assistant]: "+msg.Content)
			}
		case RoleTool:
			prefix := "[Tool Result]"
			if msg.Name != "" {
				prefix = "[Tool Result " + msg.Name + "]"
			}
			parts = append(parts, prefix+": "+msg.Content)
		}
	}

	text := strings.Join(parts, "\n\n")
	if text == "" {
		text = "Hello"
	}

	var opts []gollm.PromptOption
	if len(system) > 0 {
		opts = append(opts, gollm.WithSystemPrompt(strings.Join(system, "\n\n"), gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		opts = append(opts, gollm.WithMaxLength(*req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		defs := make([]gollm.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			defs = append(defs, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		opts = append(opts, gollm.WithTools(defs))
		if req.ToolChoice != "" {
			opts = append(opts, gollm.WithToolChoice(req.ToolChoice))
		}
	}

	return gollm.NewPrompt(text, opts...)
}

func (a *GollmAdapter) buildCompletion(req Request, text string) *Completion {
	model := req.Model
	if model == "" {
		model = a.model
	}

	var calls []ToolCall
	if len(req.Tools) > 0 {
		var rest string
		calls, rest = parseToolCalls(text)
		if len(calls) > 0 {
			text = rest
		}
	}

	in := estimateTokens(req.Messages)
	out := len(text) / 4
	return &Completion{
		ID:        "resp_" + uuid.New().String()[:8],
		Model:     model,
		Provider:  a.provider,
		Text:      text,
		ToolCalls: calls,
		Usage:     Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out},
	}
}

type rawToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Function  *struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// parseToolCalls extracts tool calls that gollm returns embedded in the
// reply text, either as {"tool_calls": [...]} or as a bare [{"name": ...}]
// array. It returns the calls and the text preceding them.
func parseToolCalls(text string) ([]ToolCall, string) {
	start := strings.Index(text, `{"tool_calls"`)
	wrapped := start != -1
	if !wrapped {
		start = strings.Index(text, `[{"name"`)
	}
	if start == -1 {
		return nil, text
	}

	dec := json.NewDecoder(strings.NewReader(text[start:]))
	var raw []rawToolCall
	if wrapped {
		var env struct {
			ToolCalls []rawToolCall `json:"tool_calls"`
		}
		if err := dec.Decode(&env); err != nil {
			return nil, text
		}
		raw = env.ToolCalls
	} else if err := dec.Decode(&raw); err != nil {
		return nil, text
	}

	calls := make([]ToolCall, 0, len(raw))
	for _, rc := range raw {
		name, args := rc.Name, rc.Arguments
		if rc.Function != nil {
			name, args = rc.Function.Name, rc.Function.Arguments
		}
		if name == "" {
			continue
		}
		id := rc.ID
		if id == "" {
			id = "call_" + uuid.New().String()[:8]
		}
		calls = append(calls, ToolCall{ID: id, Name: name, Arguments: args})
	}
	return calls, strings.TrimSpace(text[:start])
}

// translateError converts a gollm error into the error taxonomy. gollm
// reports provider failures as plain text, so classification works on the
// message.
func (a *GollmAdapter) translateError(err error) error {
	return ClassifyError(a.provider, err)
}

func estimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content) / 4
	}
	if total == 0 {
		total = 10
	}
	return total
}

var _ ProviderAdapter = (*GollmAdapter)(nil)
