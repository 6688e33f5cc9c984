package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"

	"github.com/martinemde/openwork/llm"
)

// scriptedBackend replays canned replies. Once the script runs out the last
// reply repeats.
type scriptedBackend struct {
	mu          sync.Mutex
	replies     []string
	completions []*llm.Completion
	err         error
	calls       int
	seen        [][]llm.Message
	toolDefs    [][]llm.ToolDefinition
}

func newScript(replies ...string) *scriptedBackend {
	return &scriptedBackend{replies: replies}
}

func (b *scriptedBackend) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seen = append(b.seen, messages)
	b.calls++
	if b.err != nil {
		return "", b.err
	}
	if len(b.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	i := min(b.calls-1, len(b.replies)-1)
	return b.replies[i], nil
}

func (b *scriptedBackend) GenerateWithTools(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (*llm.Completion, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seen = append(b.seen, messages)
	b.toolDefs = append(b.toolDefs, tools)
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	i := min(b.calls-1, len(b.completions)-1)
	return b.completions[i], nil
}

func (b *scriptedBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func decisionJSON(d map[string]any) string {
	b, err := json.Marshal(d)
	if err != nil {
		panic(err)
	}
	return string(b)
}

func toolCall(tool string, params map[string]any) string {
	return decisionJSON(map[string]any{"thought": "using " + tool, "tool": tool, "params": params, "is_complete": false})
}

func done(answer string) string {
	return decisionJSON(map[string]any{"thought": "finished", "is_complete": true, "answer": answer})
}

const idle = `{"thought": "still thinking", "tool": null, "is_complete": false}`

// writeTool writes content to path. It is path-checked.
type writeTool struct{}

func (writeTool) Name() string        { return "file" }
func (writeTool) Description() string { return "Write a file" }
func (writeTool) Parameters() Schema {
	return Schema{Params: []Param{
		{Name: "path", Type: "string", Required: true},
		{Name: "content", Type: "string"},
	}}
}
func (writeTool) RequiresPathCheck() bool { return true }
func (writeTool) Invoke(ctx context.Context, params map[string]any) ToolResult {
	path, _ := GetStringArg(params, "path")
	content, _ := GetStringArg(params, "content")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return Failure("%v", err)
	}
	return Success("wrote "+path, nil)
}

// funcTool is a tool whose behavior is a closure.
type funcTool struct {
	name      string
	pathCheck bool
	params    []Param
	fn        func(ctx context.Context, params map[string]any) ToolResult
}

func (t *funcTool) Name() string            { return t.name }
func (t *funcTool) Description() string     { return "test tool " + t.name }
func (t *funcTool) Parameters() Schema      { return Schema{Params: t.params} }
func (t *funcTool) RequiresPathCheck() bool { return t.pathCheck }
func (t *funcTool) Invoke(ctx context.Context, params map[string]any) ToolResult {
	return t.fn(ctx, params)
}

func echoTool(name string) *funcTool {
	return &funcTool{name: name, fn: func(ctx context.Context, params map[string]any) ToolResult {
		return Success(params, nil)
	}}
}

// recorder collects events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}
