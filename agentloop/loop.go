package agentloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/martinemde/openwork/llm"
	"github.com/martinemde/openwork/sandbox"
)

// State is the lifecycle state of an Agent.
type State string

const (
	StateIdle      State = "idle"
	StateThinking  State = "thinking"
	StateExecuting State = "executing"
	StateComplete  State = "complete"
	StateError     State = "error"
)

var (
	// ErrMaxIterations marks a run that used its whole iteration budget.
	ErrMaxIterations = errors.New("max iterations reached")
	// ErrAlreadyRunning is returned when Run is called on a busy Agent.
	ErrAlreadyRunning = errors.New("agent is already running")
)

// BudgetError reports that a run used all of its iterations. It matches
// ErrMaxIterations with errors.Is.
type BudgetError struct {
	Limit int
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("Max iterations (%d) reached", e.Limit)
}

func (e *BudgetError) Is(target error) bool {
	return target == ErrMaxIterations
}

// Config holds the tunables of an Agent.
type Config struct {
	MaxIterations        int    `json:"max_iterations"`
	HistoryLimit         int    `json:"history_limit"`
	MaxSubagentDepth     int    `json:"max_subagent_depth"`
	SubtaskConcurrency   int    `json:"subtask_concurrency"`
	SubtaskMaxIterations int    `json:"subtask_max_iterations"` // 0 = inherit MaxIterations
	NativeToolCalls      bool   `json:"native_tool_calls"`
	EnableLoopDetection  bool   `json:"enable_loop_detection"`
	LoopDetectionWindow  int    `json:"loop_detection_window"`
	ObservationCharLimit int    `json:"observation_char_limit"`
	SystemPrompt         string `json:"system_prompt,omitempty"` // replaces the built-in instructions
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations:        20,
		HistoryLimit:         DefaultHistoryLimit,
		MaxSubagentDepth:     1,
		SubtaskConcurrency:   DefaultMaxConcurrent,
		SubtaskMaxIterations: 10,
		EnableLoopDetection:  true,
		LoopDetectionWindow:  DefaultLoopDetectionWindow,
		ObservationCharLimit: DefaultObservationCharLimit,
	}
}

// Result is the terminal value of one run.
type Result struct {
	Success      bool          `json:"success"`
	Output       string        `json:"output"`
	Observations []Observation `json:"observations"`
	Error        string        `json:"error,omitempty"`
	Iterations   int           `json:"iterations"`

	// Cause is the error behind a failed run, for errors.Is checks.
	Cause error `json:"-"`
}

// Runner runs one task to completion. *Agent is the production Runner.
type Runner interface {
	Run(ctx context.Context, task string, allowedPaths []string) *Result
}

// Agent drives the think-act-observe loop for one task at a time.
type Agent struct {
	id           string
	model        llm.Backend
	tools        []Tool
	registry     *Registry
	config       Config
	logger       *slog.Logger
	observers    []Observer
	notifier     *notifier
	sandbox      sandbox.Config
	orchestrator *Orchestrator
	depth        int

	mu      sync.Mutex
	state   State
	running bool
}

// Option configures an Agent.
type Option func(*Agent)

// WithConfig replaces the default configuration. Zero limits fall back to
// their defaults.
func WithConfig(cfg Config) Option {
	return func(a *Agent) {
		a.config = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithObserver adds lifecycle observers.
func WithObserver(obs ...Observer) Option {
	return func(a *Agent) {
		a.observers = append(a.observers, obs...)
	}
}

// WithSandbox sets the extension and size limits applied on top of the
// allowed paths given to Run. Its AllowedPaths are ignored.
func WithSandbox(cfg sandbox.Config) Option {
	return func(a *Agent) {
		a.sandbox = cfg
	}
}

// WithOrchestrator supplies the orchestrator behind the subtask tool.
func WithOrchestrator(o *Orchestrator) Option {
	return func(a *Agent) {
		a.orchestrator = o
	}
}

func withDepth(depth int) Option {
	return func(a *Agent) {
		a.depth = depth
	}
}

// New creates an Agent using model and tools. While the agent's depth is
// below MaxSubagentDepth it also gets the subtask tool.
func New(model llm.Backend, tools []Tool, opts ...Option) *Agent {
	a := &Agent{
		id:      uuid.New().String(),
		model:   model,
		tools:   slices.Clone(tools),
		config:  DefaultConfig(),
		logger:  slog.New(slog.DiscardHandler),
		sandbox: sandbox.DefaultConfig(),
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.config = normalizeConfig(a.config)
	a.logger = a.logger.With("agent_id", a.id, "depth", a.depth)
	a.notifier = &notifier{agentID: a.id, observers: a.observers, logger: a.logger}

	a.registry = NewRegistry(a.tools...)
	if a.depth < a.config.MaxSubagentDepth {
		if a.orchestrator == nil {
			a.orchestrator = NewOrchestrator(a.childFactory(),
				WithMaxConcurrent(a.config.SubtaskConcurrency),
				WithOrchestratorLogger(a.logger),
			)
		}
		a.registry.Register(NewSubtaskTool(a.orchestrator))
	} else {
		a.registry.Unregister(SubtaskToolName)
	}
	return a
}

func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.SubtaskConcurrency <= 0 {
		cfg.SubtaskConcurrency = def.SubtaskConcurrency
	}
	if cfg.LoopDetectionWindow <= 0 {
		cfg.LoopDetectionWindow = def.LoopDetectionWindow
	}
	if cfg.ObservationCharLimit <= 0 {
		cfg.ObservationCharLimit = def.ObservationCharLimit
	}
	if cfg.MaxSubagentDepth < 0 {
		cfg.MaxSubagentDepth = 0
	}
	return cfg
}

// childFactory builds subagents that share the model, the base tools and
// the observers, with their own history and a child iteration budget.
func (a *Agent) childFactory() AgentFactory {
	childCfg := a.config
	if a.config.SubtaskMaxIterations > 0 {
		childCfg.MaxIterations = a.config.SubtaskMaxIterations
	}
	return func() Runner {
		return New(a.model, a.tools,
			WithConfig(childCfg),
			WithLogger(a.logger.With("parent_id", a.id)),
			WithObserver(a.observers...),
			WithSandbox(a.sandbox),
			withDepth(a.depth+1),
		)
	}
}

// ID returns the agent identifier.
func (a *Agent) ID() string { return a.id }

// Depth returns the nesting depth; top-level agents are at depth 0.
func (a *Agent) Depth() int { return a.depth }

// Config returns the effective configuration.
func (a *Agent) Config() Config { return a.config }

// Registry returns the agent's tool registry.
func (a *Agent) Registry() *Registry { return a.registry }

// Orchestrator returns the subtask orchestrator, or nil when the agent may
// not spawn subtasks.
func (a *Agent) Orchestrator() *Orchestrator {
	if _, ok := a.registry.Get(SubtaskToolName); !ok {
		return nil
	}
	return a.orchestrator
}

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// run holds the per-run state of one Run call.
type run struct {
	history    *History
	policy     *sandbox.Policy
	iterations int
}

// Run drives task to completion within allowedPaths. It always returns a
// Result; failures are reported through Result.Error.
func (a *Agent) Run(ctx context.Context, task string, allowedPaths []string) (result *Result) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return &Result{Error: ErrAlreadyRunning.Error(), Cause: ErrAlreadyRunning}
	}
	a.running = true
	a.state = StateThinking
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	ctx, span := tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("agent.id", a.id),
		attribute.Int("agent.depth", a.depth),
	))
	defer span.End()

	r := &run{
		history: NewHistory(a.config.HistoryLimit, WithTraceLimit(a.config.ObservationCharLimit)),
		policy:  sandbox.New(a.sandbox.WithAllowedPaths(allowedPaths)),
	}
	ctx = ContextWithAllowedPaths(ctx, allowedPaths)

	defer func() {
		if p := recover(); p != nil {
			result = a.fail(r, fmt.Errorf("unexpected fault: %v", p))
		}
		span.SetAttributes(
			attribute.Int("agent.iterations", result.Iterations),
			attribute.Bool("agent.success", result.Success),
		)
		if !result.Success {
			spanFail(span, result.Error)
		}
	}()

	prompt := BuildSystemPrompt(a.config.SystemPrompt, a.registry.Tools(), r.policy.AllowedPaths(), a.config.NativeToolCalls)
	r.history.AppendMessage(RoleSystem, prompt, nil)
	r.history.AppendMessage(RoleUser, task, nil)
	a.logger.Info("agent run started", "task", task, "allowed_paths", allowedPaths)

	for r.iterations < a.config.MaxIterations {
		if err := ctx.Err(); err != nil {
			return a.fail(r, err)
		}
		r.iterations++

		if res, done := a.iterate(ctx, r); done {
			return res
		}
	}

	return a.fail(r, &BudgetError{Limit: a.config.MaxIterations})
}

// iterate performs one think-act-observe step. It reports done with the
// final Result when the run ends on this iteration.
func (a *Agent) iterate(ctx context.Context, r *run) (*Result, bool) {
	ctx, span := tracer.Start(ctx, "agent.iteration", trace.WithAttributes(attribute.Int("agent.iteration", r.iterations)))
	defer span.End()

	a.setState(StateThinking)
	a.notifier.emit(EventThinking, r.iterations, map[string]any{"iteration": r.iterations})

	reply, raw, err := a.think(ctx, r.history)
	if err != nil {
		spanFail(span, err.Error())
		return a.fail(r, err), true
	}

	switch d := reply.(type) {
	case RawFallback:
		a.logger.Debug("unparseable reply treated as final answer", "iteration", r.iterations)
		return a.complete(r, d.Text), true
	case Decision:
		a.logger.Debug("decision", "iteration", r.iterations, "thought", d.Reasoning, "tool", d.ToolName, "complete", d.Complete)
		if d.Complete {
			return a.complete(r, d.FinalAnswer), true
		}
		r.history.AppendMessage(RoleAssistant, raw, nil)
		if d.ToolName != "" {
			a.execute(ctx, r, d)
		}
	}
	return nil, false
}

// think asks the model for the next decision and returns it together with
// the text recorded as the assistant's turn.
func (a *Agent) think(ctx context.Context, h *History) (Reply, string, error) {
	messages := h.Render()
	if !a.config.NativeToolCalls {
		text, err := a.model.Generate(ctx, messages)
		if err != nil {
			return nil, "", err
		}
		return ParseReply(text), text, nil
	}

	completion, err := a.model.GenerateWithTools(ctx, messages, a.registry.Definitions())
	if err != nil {
		return nil, "", err
	}
	if completion == nil {
		return nil, "", errors.New("model backend returned no completion")
	}
	reply, err := DecisionFromCompletion(completion)
	if err != nil {
		return nil, "", fmt.Errorf("decode tool call arguments: %w", err)
	}
	raw := completion.Text
	if d, ok := reply.(Decision); ok && completion.HasToolCalls() {
		raw = encodeDecision(d)
	}
	return reply, raw, nil
}

func (a *Agent) execute(ctx context.Context, r *run, d Decision) {
	a.setState(StateExecuting)
	a.notifier.emit(EventExecuting, r.iterations, map[string]any{
		"tool":   d.ToolName,
		"params": d.ToolParams,
	})

	result := a.registry.Dispatch(ctx, r.policy, d.ToolName, d.ToolParams)
	obs := NewObservation(d.ToolName, d.ToolParams, result)
	r.history.AppendObservation(obs)

	if result.Success {
		a.logger.Debug("tool succeeded", "tool", d.ToolName, "iteration", r.iterations)
	} else {
		a.logger.Warn("tool failed", "tool", d.ToolName, "iteration", r.iterations, "error", result.Error)
	}
	a.notifier.emit(EventObservation, r.iterations, map[string]any{
		"tool":    d.ToolName,
		"success": result.Success,
		"error":   result.Error,
	})

	if a.config.EnableLoopDetection && DetectLoop(r.history.Observations(), a.config.LoopDetectionWindow) {
		warning := fmt.Sprintf("Loop detected: the last %d tool calls follow a repeating pattern. Try a different approach.", a.config.LoopDetectionWindow)
		r.history.AppendMessage(RoleUser, warning, map[string]any{"kind": "loop_warning"})
		a.logger.Warn("loop detected", "window", a.config.LoopDetectionWindow, "iteration", r.iterations)
		a.notifier.emit(EventLoopDetected, r.iterations, map[string]any{"message": warning})
	}
}

func (a *Agent) complete(r *run, answer string) *Result {
	if answer == "" {
		answer = "Task completed."
	}
	a.setState(StateComplete)
	a.notifier.emit(EventComplete, r.iterations, map[string]any{"answer": answer})
	a.logger.Info("agent run complete", "iterations", r.iterations)
	return &Result{
		Success:      true,
		Output:       answer,
		Observations: r.history.Observations(),
		Iterations:   r.iterations,
	}
}

func (a *Agent) fail(r *run, err error) *Result {
	a.setState(StateError)
	a.notifier.emit(EventError, r.iterations, map[string]any{"error": err.Error()})
	a.logger.Error("agent run failed", "iterations", r.iterations, "error", err)
	return &Result{
		Success:      false,
		Observations: r.history.Observations(),
		Error:        err.Error(),
		Iterations:   r.iterations,
		Cause:        err,
	}
}

type allowedPathsKey struct{}

// ContextWithAllowedPaths returns a context carrying the allowed paths of
// the current run. Tools that start nested work read them back with
// AllowedPathsFromContext.
func ContextWithAllowedPaths(ctx context.Context, paths []string) context.Context {
	return context.WithValue(ctx, allowedPathsKey{}, slices.Clone(paths))
}

// AllowedPathsFromContext returns the allowed paths stored in ctx.
func AllowedPathsFromContext(ctx context.Context) []string {
	paths, _ := ctx.Value(allowedPathsKey{}).([]string)
	return slices.Clone(paths)
}
