package agentloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultMaxConcurrent is the default admission gate size.
	DefaultMaxConcurrent = 5
	// MaxSubtasksPerCall caps the batch size of one Submit.
	MaxSubtasksPerCall = 10
	// summaryLimit is the display length of a child's output in summaries.
	summaryLimit = 500
)

var (
	ErrNoSubtasks       = errors.New("No subtasks provided")
	ErrTooManySubtasks  = fmt.Errorf("Maximum %d subtasks allowed", MaxSubtasksPerCall)
	ErrSubtaskNotFound  = errors.New("subtask not found")
	errCancelledPending = errors.New("cancelled before start")
)

// SubtaskStatus is the lifecycle state of a subtask. It only moves forward:
// pending to running to completed or failed, or pending to cancelled.
type SubtaskStatus string

const (
	SubtaskPending   SubtaskStatus = "pending"
	SubtaskRunning   SubtaskStatus = "running"
	SubtaskCompleted SubtaskStatus = "completed"
	SubtaskFailed    SubtaskStatus = "failed"
	SubtaskCancelled SubtaskStatus = "cancelled"
)

// Terminal reports whether s is a final status.
func (s SubtaskStatus) Terminal() bool {
	return s == SubtaskCompleted || s == SubtaskFailed || s == SubtaskCancelled
}

// SubtaskSpec is one requested unit of delegated work.
type SubtaskSpec struct {
	Description string `json:"description"`
	Context     any    `json:"context,omitempty"`
}

// SubtaskRecord tracks one subtask. Accessors return copies.
type SubtaskRecord struct {
	ID           string        `json:"id"`
	Description  string        `json:"description"`
	AllowedPaths []string      `json:"allowed_paths"`
	Context      any           `json:"context,omitempty"`
	Status       SubtaskStatus `json:"status"`
	Result       *Result       `json:"result,omitempty"`
	Error        string        `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	StartedAt    time.Time     `json:"started_at,omitzero"`
	CompletedAt  time.Time     `json:"completed_at,omitzero"`
}

// SubtaskOutcome is the result of one subtask in an Execute call.
type SubtaskOutcome struct {
	ID     string
	Status SubtaskStatus
	Result *Result
	Error  string
}

// Succeeded reports whether the child completed successfully.
func (o SubtaskOutcome) Succeeded() bool {
	return o.Status == SubtaskCompleted
}

// SubtaskBrief is the per-child line of a SubtaskSummary.
type SubtaskBrief struct {
	TaskID  string `json:"task_id"`
	Success bool   `json:"success"`
	Summary string `json:"summary"`
}

// SubtaskSummary folds a batch of outcomes into what the parent model sees.
type SubtaskSummary struct {
	Total      int            `json:"total"`
	Successful int            `json:"successful"`
	Failed     int            `json:"failed"`
	Results    []SubtaskBrief `json:"results"`
}

// AgentFactory creates the Runner for one subtask. Each call must return an
// independent Runner.
type AgentFactory func() Runner

// Orchestrator runs subtasks as child agents behind a FIFO admission gate.
type Orchestrator struct {
	factory       AgentFactory
	maxConcurrent int
	gate          *semaphore.Weighted
	logger        *slog.Logger

	mu      sync.Mutex
	records map[string]*SubtaskRecord
	order   []string
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithMaxConcurrent sets the number of children that may run at once.
func WithMaxConcurrent(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxConcurrent = n
		}
	}
}

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewOrchestrator creates an Orchestrator that builds children with factory.
func NewOrchestrator(factory AgentFactory, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		factory:       factory,
		maxConcurrent: DefaultMaxConcurrent,
		logger:        slog.New(slog.DiscardHandler),
		records:       make(map[string]*SubtaskRecord),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.gate = semaphore.NewWeighted(int64(o.maxConcurrent))
	return o
}

// MaxConcurrent returns the gate size.
func (o *Orchestrator) MaxConcurrent() int {
	return o.maxConcurrent
}

// Submit validates specs and creates one pending record per spec. An empty
// batch, a batch above MaxSubtasksPerCall, or a spec without a description
// rejects the whole batch and creates nothing.
func (o *Orchestrator) Submit(specs []SubtaskSpec, allowedPaths []string) ([]SubtaskRecord, error) {
	if len(specs) == 0 {
		return nil, ErrNoSubtasks
	}
	if len(specs) > MaxSubtasksPerCall {
		return nil, ErrTooManySubtasks
	}
	for i, s := range specs {
		if strings.TrimSpace(s.Description) == "" {
			return nil, fmt.Errorf("subtask %d: description is required", i+1)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]SubtaskRecord, 0, len(specs))
	for _, s := range specs {
		rec := &SubtaskRecord{
			ID:           uuid.New().String(),
			Description:  s.Description,
			AllowedPaths: slices.Clone(allowedPaths),
			Context:      s.Context,
			Status:       SubtaskPending,
			CreatedAt:    time.Now(),
		}
		o.records[rec.ID] = rec
		o.order = append(o.order, rec.ID)
		out = append(out, rec.snapshot())
	}
	return out, nil
}

// Execute launches the given pending subtasks and waits for all of them.
// Gate slots are acquired in the order of ids; completion order is
// arbitrary. Outcomes are returned in the order of ids. A panicking child
// fails only its own record. If ctx ends while waiting for the gate, the
// subtasks not yet started are cancelled.
func (o *Orchestrator) Execute(ctx context.Context, ids []string) []SubtaskOutcome {
	ctx, span := tracer.Start(ctx, "subtasks.execute", trace.WithAttributes(
		attribute.Int("subtasks.count", len(ids)),
		attribute.Int("subtasks.max_concurrent", o.maxConcurrent),
	))
	defer span.End()

	outcomes := make([]SubtaskOutcome, len(ids))
	var wg sync.WaitGroup

	for i, id := range ids {
		if !o.isPending(id) {
			outcomes[i] = o.outcome(id)
			continue
		}
		if err := o.gate.Acquire(ctx, 1); err != nil {
			for j := i; j < len(ids); j++ {
				o.cancelWith(ids[j], fmt.Sprintf("%v: %v", errCancelledPending, err))
				outcomes[j] = o.outcome(ids[j])
			}
			spanFail(span, err.Error())
			break
		}
		rec, ok := o.start(id)
		if !ok {
			o.gate.Release(1)
			outcomes[i] = o.outcome(id)
			continue
		}

		wg.Add(1)
		go func(i int, rec SubtaskRecord) {
			defer wg.Done()
			defer o.gate.Release(1)
			outcomes[i] = o.runChild(ctx, rec)
		}(i, rec)
	}

	wg.Wait()
	return outcomes
}

func (o *Orchestrator) runChild(ctx context.Context, rec SubtaskRecord) (out SubtaskOutcome) {
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("subtask panicked", "subtask_id", rec.ID, "panic", fmt.Sprint(p))
			out = o.finish(rec.ID, nil, fmt.Sprintf("subtask panicked: %v", p))
		}
	}()

	o.logger.Info("subtask started", "subtask_id", rec.ID, "description", rec.Description)
	runner := o.factory()
	res := runner.Run(ctx, rec.Description, rec.AllowedPaths)
	if res == nil {
		return o.finish(rec.ID, nil, "subtask returned no result")
	}
	return o.finish(rec.ID, res, "")
}

// SpawnAndWait submits specs, executes them and summarizes the outcomes in
// submission order.
func (o *Orchestrator) SpawnAndWait(ctx context.Context, specs []SubtaskSpec, allowedPaths []string) (*SubtaskSummary, error) {
	records, err := o.Submit(specs, allowedPaths)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return Summarize(o.Execute(ctx, ids)), nil
}

// Summarize folds outcomes into a SubtaskSummary. Output text is cut at 500
// characters for display; the full Result stays on the record.
func Summarize(outcomes []SubtaskOutcome) *SubtaskSummary {
	s := &SubtaskSummary{Total: len(outcomes), Results: make([]SubtaskBrief, 0, len(outcomes))}
	for _, oc := range outcomes {
		brief := SubtaskBrief{TaskID: oc.ID, Success: oc.Succeeded()}
		if brief.Success {
			s.Successful++
			output := ""
			if oc.Result != nil {
				output = oc.Result.Output
			}
			brief.Summary = "Completed: " + truncateRunes(output, summaryLimit)
		} else {
			s.Failed++
			brief.Summary = "Failed: " + oc.Error
		}
		s.Results = append(s.Results, brief)
	}
	return s
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// Get returns a copy of the record with the given id.
func (o *Orchestrator) Get(id string) (SubtaskRecord, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.records[id]
	if !ok {
		return SubtaskRecord{}, false
	}
	return rec.snapshot(), true
}

// List returns copies of all records in submission order.
func (o *Orchestrator) List() []SubtaskRecord {
	return o.filter(func(*SubtaskRecord) bool { return true })
}

// Pending returns the records that have not started.
func (o *Orchestrator) Pending() []SubtaskRecord {
	return o.filter(func(r *SubtaskRecord) bool { return r.Status == SubtaskPending })
}

// Running returns the records currently running.
func (o *Orchestrator) Running() []SubtaskRecord {
	return o.filter(func(r *SubtaskRecord) bool { return r.Status == SubtaskRunning })
}

func (o *Orchestrator) filter(keep func(*SubtaskRecord) bool) []SubtaskRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []SubtaskRecord
	for _, id := range o.order {
		if rec := o.records[id]; keep(rec) {
			out = append(out, rec.snapshot())
		}
	}
	return out
}

// Cancel cancels a pending subtask. Running and finished subtasks are not
// affected and Cancel reports false for them.
func (o *Orchestrator) Cancel(id string) bool {
	return o.cancelWith(id, "cancelled")
}

// CancelPending cancels every pending subtask and returns how many were
// cancelled.
func (o *Orchestrator) CancelPending() int {
	o.mu.Lock()
	ids := slices.Clone(o.order)
	o.mu.Unlock()
	n := 0
	for _, id := range ids {
		if o.Cancel(id) {
			n++
		}
	}
	return n
}

func (o *Orchestrator) cancelWith(id, reason string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.records[id]
	if !ok || rec.Status != SubtaskPending {
		return false
	}
	rec.Status = SubtaskCancelled
	rec.Error = reason
	rec.CompletedAt = time.Now()
	return true
}

func (o *Orchestrator) isPending(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.records[id]
	return ok && rec.Status == SubtaskPending
}

// start moves a pending record to running.
func (o *Orchestrator) start(id string) (SubtaskRecord, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.records[id]
	if !ok || rec.Status != SubtaskPending {
		return SubtaskRecord{}, false
	}
	rec.Status = SubtaskRunning
	rec.StartedAt = time.Now()
	return rec.snapshot(), true
}

// finish moves a running record to its terminal status.
func (o *Orchestrator) finish(id string, res *Result, fault string) SubtaskOutcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec := o.records[id]
	if rec.Status == SubtaskRunning {
		rec.Result = res
		rec.CompletedAt = time.Now()
		switch {
		case fault != "":
			rec.Status = SubtaskFailed
			rec.Error = fault
		case res.Success:
			rec.Status = SubtaskCompleted
		default:
			rec.Status = SubtaskFailed
			rec.Error = res.Error
		}
		o.logger.Info("subtask finished", "subtask_id", id, "status", rec.Status)
	}
	return outcomeOf(rec)
}

func (o *Orchestrator) outcome(id string) SubtaskOutcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.records[id]
	if !ok {
		return SubtaskOutcome{ID: id, Status: SubtaskFailed, Error: fmt.Sprintf("%v: %s", ErrSubtaskNotFound, id)}
	}
	return outcomeOf(rec)
}

func outcomeOf(rec *SubtaskRecord) SubtaskOutcome {
	return SubtaskOutcome{ID: rec.ID, Status: rec.Status, Result: rec.Result, Error: rec.Error}
}

func (r *SubtaskRecord) snapshot() SubtaskRecord {
	c := *r
	c.AllowedPaths = slices.Clone(r.AllowedPaths)
	return c
}
