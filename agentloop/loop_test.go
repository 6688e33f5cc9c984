package agentloop

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/martinemde/openwork/llm"
)

func TestRunWritesSummaryInsideAllowedDir(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "summary.txt")
	backend := newScript(
		toolCall("file", map[string]any{"path": target, "content": "summary"}),
		done("Done"),
	)
	agent := New(backend, []Tool{writeTool{}})

	res := agent.Run(context.Background(), "create summary.txt", []string{dir})

	if !res.Success || res.Output != "Done" || res.Iterations != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Observations) != 1 || !res.Observations[0].Success {
		t.Fatalf("expected one successful observation, got %+v", res.Observations)
	}
	if b, err := os.ReadFile(target); err != nil || string(b) != "summary" {
		t.Errorf("expected file to be written, got %q (%v)", b, err)
	}
	if agent.State() != StateComplete {
		t.Errorf("expected state complete, got %s", agent.State())
	}
}

func TestRunRejectsWriteOutsideAllowedDir(t *testing.T) {
	dir := t.TempDir()
	outside := filepath.Join(t.TempDir(), "escape.txt")
	backend := newScript(
		toolCall("file", map[string]any{"path": outside, "content": "x"}),
		done("gave up"),
	)
	agent := New(backend, []Tool{writeTool{}})

	res := agent.Run(context.Background(), "create summary.txt", []string{dir})

	if !res.Success || res.Iterations != 2 {
		t.Fatalf("expected loop to continue and complete, got %+v", res)
	}
	obs := res.Observations[0]
	if obs.Success || !strings.Contains(obs.Error, "Path not allowed") {
		t.Errorf("expected sandbox rejection, got %+v", obs)
	}
	if obs.Output != nil {
		t.Errorf("failed observation must not carry output, got %v", obs.Output)
	}
	if _, err := os.Stat(outside); !os.IsNotExist(err) {
		t.Error("file outside the sandbox must not be created")
	}

	// The model saw the rejection on its second call.
	second := backend.seen[1]
	last := second[len(second)-1]
	if last.Role != llm.RoleTool || !strings.Contains(last.Content, "Error: Path not allowed") {
		t.Errorf("expected tool error message last, got %+v", last)
	}
}

func TestRunStopsAfterExactlyMaxIterations(t *testing.T) {
	for _, n := range []int{1, 3, 7} {
		backend := newScript(idle)
		cfg := DefaultConfig()
		cfg.MaxIterations = n
		agent := New(backend, nil, WithConfig(cfg))

		res := agent.Run(context.Background(), "never finishes", nil)

		if res.Success || res.Iterations != n {
			t.Fatalf("n=%d: expected failure after %d iterations, got %+v", n, n, res)
		}
		if res.Error != "Max iterations ("+strconv.Itoa(n)+") reached" {
			t.Errorf("unexpected error %q", res.Error)
		}
		if !errors.Is(res.Cause, ErrMaxIterations) {
			t.Errorf("expected ErrMaxIterations cause, got %v", res.Cause)
		}
		if backend.callCount() != n {
			t.Errorf("expected %d model calls, got %d", n, backend.callCount())
		}
		if agent.State() != StateError {
			t.Errorf("expected error state, got %s", agent.State())
		}
	}
}

func TestCompleteTerminatesDespiteEarlierFailures(t *testing.T) {
	backend := newScript(
		toolCall("missing", nil),
		toolCall("missing", map[string]any{"x": 1}),
		done("finished anyway"),
		toolCall("missing", nil),
	)
	agent := New(backend, nil)

	res := agent.Run(context.Background(), "task", nil)

	if !res.Success || res.Iterations != 3 || res.Output != "finished anyway" {
		t.Fatalf("unexpected result %+v", res)
	}
	for _, obs := range res.Observations {
		if obs.Success || obs.Error != "Unknown tool: missing" {
			t.Errorf("expected unknown tool failure, got %+v", obs)
		}
	}
}

func TestCompleteWithoutAnswerUsesDefault(t *testing.T) {
	agent := New(newScript(`{"thought": "ok", "is_complete": true}`), nil)
	res := agent.Run(context.Background(), "task", nil)
	if !res.Success || res.Output != "Task completed." {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestUnparseableReplyBecomesAnswer(t *testing.T) {
	agent := New(newScript("The answer is 42."), nil)
	res := agent.Run(context.Background(), "task", nil)
	if !res.Success || res.Output != "The answer is 42." || res.Iterations != 1 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestBackendErrorFailsRun(t *testing.T) {
	backend := newScript(idle)
	backend.err = errors.New("provider unavailable")
	rec := &recorder{}
	agent := New(backend, nil, WithObserver(rec))

	res := agent.Run(context.Background(), "task", nil)

	if res.Success || res.Error != "provider unavailable" || res.Iterations != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	kinds := rec.kinds()
	if kinds[len(kinds)-1] != EventError {
		t.Errorf("expected final error event, got %v", kinds)
	}
}

func TestCancelledContextFailsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	agent := New(newScript(idle), nil)
	res := agent.Run(ctx, "task", nil)
	if res.Success || !errors.Is(res.Cause, context.Canceled) || res.Iterations != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestToolPanicIsContained(t *testing.T) {
	boom := &funcTool{name: "boom", fn: func(ctx context.Context, params map[string]any) ToolResult {
		panic("kaboom")
	}}
	agent := New(newScript(toolCall("boom", nil), done("survived")), []Tool{boom})

	res := agent.Run(context.Background(), "task", nil)

	if !res.Success || res.Output != "survived" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !strings.Contains(res.Observations[0].Error, "Tool error (boom): kaboom") {
		t.Errorf("unexpected observation %+v", res.Observations[0])
	}
}

func TestObserverPanicDoesNotAbortRun(t *testing.T) {
	bad := ObserverFunc(func(Event) { panic("observer bug") })
	rec := &recorder{}
	agent := New(newScript(toolCall("echo", map[string]any{"a": "b"}), done("ok")), []Tool{echoTool("echo")},
		WithObserver(bad, rec))

	res := agent.Run(context.Background(), "task", nil)

	if !res.Success {
		t.Fatalf("unexpected result %+v", res)
	}
	want := []EventKind{EventThinking, EventExecuting, EventObservation, EventThinking, EventComplete}
	if !slices.Equal(rec.kinds(), want) {
		t.Errorf("expected %v, got %v", want, rec.kinds())
	}
	for _, e := range rec.events {
		if e.AgentID != agent.ID() {
			t.Errorf("unexpected agent id %q", e.AgentID)
		}
	}
}

func TestAssistantRepliesAreRecorded(t *testing.T) {
	reply := toolCall("echo", map[string]any{"n": 1})
	backend := newScript(reply, done("ok"))
	agent := New(backend, []Tool{echoTool("echo")})
	agent.Run(context.Background(), "task", nil)

	second := backend.seen[1]
	roles := make([]llm.Role, len(second))
	for i, m := range second {
		roles[i] = m.Role
	}
	want := []llm.Role{llm.RoleSystem, llm.RoleUser, llm.RoleAssistant, llm.RoleTool}
	if !slices.Equal(roles, want) {
		t.Fatalf("expected roles %v, got %v", want, roles)
	}
	if second[2].Content != reply {
		t.Errorf("expected raw reply recorded, got %q", second[2].Content)
	}
	if !strings.HasPrefix(second[3].Content, "Tool: echo\nOutput: ") {
		t.Errorf("unexpected tool message %q", second[3].Content)
	}
}

func TestSystemPromptListsTools(t *testing.T) {
	backend := newScript(done("ok"))
	agent := New(backend, []Tool{writeTool{}})
	agent.Run(context.Background(), "task", []string{"/srv/data"})

	system := backend.seen[0][0]
	if system.Role != llm.RoleSystem {
		t.Fatalf("expected system prompt first, got %s", system.Role)
	}
	for _, want := range []string{"- file: Write a file", SubtaskToolName, `"is_complete"`, "/srv/data"} {
		if !strings.Contains(system.Content, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func TestConcurrentRunIsRejected(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	slow := &funcTool{name: "slow", fn: func(ctx context.Context, params map[string]any) ToolResult {
		once.Do(func() { close(started) })
		<-release
		return Success("done", nil)
	}}
	agent := New(newScript(toolCall("slow", nil), done("ok")), []Tool{slow})

	var first *Result
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = agent.Run(context.Background(), "task", nil)
	}()

	<-started
	second := agent.Run(context.Background(), "task", nil)
	close(release)
	wg.Wait()

	if second.Success || !errors.Is(second.Cause, ErrAlreadyRunning) {
		t.Errorf("expected already-running failure, got %+v", second)
	}
	if !first.Success {
		t.Errorf("first run should succeed, got %+v", first)
	}
}

func TestLoopDetectionWarnsModel(t *testing.T) {
	same := toolCall("echo", map[string]any{"q": "same"})
	backend := newScript(same, same, same, same, done("ok"))
	rec := &recorder{}
	cfg := DefaultConfig()
	cfg.LoopDetectionWindow = 3
	agent := New(backend, []Tool{echoTool("echo")}, WithConfig(cfg), WithObserver(rec))

	res := agent.Run(context.Background(), "task", nil)
	if !res.Success {
		t.Fatalf("unexpected result %+v", res)
	}
	if !slices.Contains(rec.kinds(), EventLoopDetected) {
		t.Fatalf("expected loop_detected event, got %v", rec.kinds())
	}

	last := backend.seen[len(backend.seen)-1]
	found := false
	for _, m := range last {
		if m.Role == llm.RoleUser && strings.Contains(m.Content, "Loop detected") {
			found = true
		}
	}
	if !found {
		t.Error("expected loop warning in history")
	}
}

func TestNativeToolCalls(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a.txt")
	backend := &scriptedBackend{completions: []*llm.Completion{
		{Text: "writing", ToolCalls: []llm.ToolCall{{ID: "c1", Name: "file", Arguments: []byte(`{"path":"` + target + `","content":"hi"}`)}}},
		{Text: `{"thought": "done", "is_complete": true, "answer": "written"}`},
	}}
	cfg := DefaultConfig()
	cfg.NativeToolCalls = true
	agent := New(backend, []Tool{writeTool{}}, WithConfig(cfg))

	res := agent.Run(context.Background(), "task", []string{dir})

	if !res.Success || res.Output != "written" || res.Iterations != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(backend.toolDefs[0]) != 2 {
		t.Errorf("expected file and spawn tools offered, got %d", len(backend.toolDefs[0]))
	}
	if strings.Contains(backend.seen[0][0].Content, `"is_complete"`) {
		t.Error("native mode should not ask for the JSON reply format")
	}
}

func TestSubtaskToolOnlyAtTopLevel(t *testing.T) {
	parent := New(newScript(done("ok")), nil)
	if _, ok := parent.Registry().Get(SubtaskToolName); !ok {
		t.Fatal("top-level agent should get the subtask tool")
	}
	if parent.Orchestrator() == nil {
		t.Fatal("expected orchestrator")
	}

	child, ok := parent.orchestrator.factory().(*Agent)
	if !ok {
		t.Fatal("expected *Agent from child factory")
	}
	if child.Depth() != 1 {
		t.Errorf("expected depth 1, got %d", child.Depth())
	}
	if _, ok := child.Registry().Get(SubtaskToolName); ok {
		t.Error("child at max depth must not see the subtask tool")
	}
	if child.Config().MaxIterations != 10 {
		t.Errorf("expected child budget 10, got %d", child.Config().MaxIterations)
	}

	cfg := DefaultConfig()
	cfg.MaxSubagentDepth = 0
	flat := New(newScript(done("ok")), nil, WithConfig(cfg))
	if flat.Orchestrator() != nil {
		t.Error("depth 0 should disable subtasks")
	}
}

func TestSubtasksRunThroughParent(t *testing.T) {
	dir := t.TempDir()
	backend := &routedBackend{
		parent: []string{
			decisionJSON(map[string]any{
				"thought": "delegate",
				"tool":    SubtaskToolName,
				"params": map[string]any{"subtasks": []any{
					map[string]any{"description": "write a.txt"},
					map[string]any{"description": "write b.txt"},
				}},
			}),
			done("delegated"),
		},
		child: func(task string) string {
			return done("child did " + task)
		},
	}
	agent := New(backend, []Tool{writeTool{}})

	res := agent.Run(context.Background(), "split work", []string{dir})

	if !res.Success || res.Output != "delegated" {
		t.Fatalf("unexpected result %+v", res)
	}
	obs := res.Observations[0]
	if !obs.Success {
		t.Fatalf("expected subtask observation success, got %+v", obs)
	}
	summary, ok := obs.Output.(*SubtaskSummary)
	if !ok || summary.Total != 2 || summary.Successful != 2 {
		t.Fatalf("unexpected summary %+v", obs.Output)
	}
	if summary.Results[0].Summary != "Completed: child did write a.txt" {
		t.Errorf("unexpected first summary %q", summary.Results[0].Summary)
	}
	for _, rec := range agent.Orchestrator().List() {
		if len(rec.AllowedPaths) != 1 || rec.AllowedPaths[0] != dir {
			t.Errorf("child should inherit allowed paths, got %v", rec.AllowedPaths)
		}
	}
}

// routedBackend answers the parent from a script and children by task.
type routedBackend struct {
	mu     sync.Mutex
	parent []string
	calls  int
	child  func(task string) string
}

func (b *routedBackend) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	task := messages[1].Content
	if task != "split work" {
		return b.child(task), nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	reply := b.parent[min(b.calls, len(b.parent)-1)]
	b.calls++
	return reply, nil
}

func (b *routedBackend) GenerateWithTools(ctx context.Context, messages []llm.Message, _ []llm.ToolDefinition) (*llm.Completion, error) {
	text, err := b.Generate(ctx, messages)
	return &llm.Completion{Text: text}, err
}

func TestHistoryStaysBounded(t *testing.T) {
	backend := newScript(toolCall("echo", map[string]any{"i": 1}), toolCall("echo", map[string]any{"i": 2}))
	cfg := DefaultConfig()
	cfg.HistoryLimit = 5
	cfg.MaxIterations = 12
	cfg.EnableLoopDetection = false
	agent := New(backend, []Tool{echoTool("echo")}, WithConfig(cfg))

	res := agent.Run(context.Background(), "task", nil)

	if len(res.Observations) != 12 {
		t.Errorf("observations are never evicted, got %d", len(res.Observations))
	}
	for _, msgs := range backend.seen {
		if len(msgs) > 5 {
			t.Fatalf("history exceeded ceiling: %d", len(msgs))
		}
		if msgs[0].Role != llm.RoleSystem {
			t.Fatal("system prompt evicted")
		}
	}
}

func TestChannelObserverIntegration(t *testing.T) {
	ch := NewChannelObserver(16)
	agent := New(newScript(done("ok")), nil, WithObserver(ch))
	agent.Run(context.Background(), "task", nil)
	ch.Close()

	var kinds []EventKind
	timeout := time.After(time.Second)
	for {
		select {
		case e, ok := <-ch.Events():
			if !ok {
				if !slices.Equal(kinds, []EventKind{EventThinking, EventComplete}) {
					t.Errorf("unexpected events %v", kinds)
				}
				return
			}
			kinds = append(kinds, e.Kind)
		case <-timeout:
			t.Fatal("timed out reading events")
		}
	}
}
