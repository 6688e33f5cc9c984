package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/martinemde/openwork/llm"
)

// Tool is the contract every tool implements. Invoke must not panic; the
// dispatcher recovers anyway and converts a panic into a failure.
type Tool interface {
	Name() string
	Description() string
	Parameters() Schema
	// RequiresPathCheck reports whether the dispatcher must validate the
	// tool's path-bearing parameter against the sandbox before invoking.
	RequiresPathCheck() bool
	Invoke(ctx context.Context, params map[string]any) ToolResult
}

// Param describes one tool parameter.
type Param struct {
	Name        string
	Type        string // JSON schema type: string, integer, number, boolean, array, object
	Description string
	Required    bool
	Enum        []string
	Items       map[string]any // schema of array elements
	Default     any
}

// Schema is the parameter list of a tool.
type Schema struct {
	Params []Param
}

// JSONSchema renders the schema as a JSON-schema object.
func (s Schema) JSONSchema() map[string]any {
	properties := make(map[string]any, len(s.Params))
	required := []string{}
	for _, p := range s.Params {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Items != nil {
			prop["items"] = p.Items
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// Validate reports the first required parameter missing from params.
func (s Schema) Validate(params map[string]any) error {
	for _, p := range s.Params {
		if !p.Required {
			continue
		}
		if v, ok := params[p.Name]; !ok || v == nil {
			return fmt.Errorf("Missing required parameter: %s", p.Name)
		}
	}
	return nil
}

// ToolResult is the uniform outcome of a tool invocation.
type ToolResult struct {
	Success  bool           `json:"success"`
	Output   any            `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Success builds a successful result.
func Success(output any, metadata map[string]any) ToolResult {
	return ToolResult{Success: true, Output: output, Metadata: metadata}
}

// Failure builds a failed result with a formatted error message.
func Failure(format string, args ...any) ToolResult {
	return ToolResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

// PathValidator is the sandbox decision the dispatcher consults.
type PathValidator interface {
	Validate(path string) (bool, string)
}

// pathParamKeys are the parameter names checked, in order, for a
// path-checked tool.
var pathParamKeys = []string{"path", "file_path", "working_dir", "directory"}

// Registry maps tool names to tools.
type Registry struct {
	tools map[string]Tool
	mu    sync.RWMutex
}

// NewRegistry creates a Registry holding tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Unregister removes a tool.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the sorted tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Tools returns the registered tools sorted by name.
func (r *Registry) Tools() []Tool {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(names))
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Definitions returns the tool schemas sorted by name, for the model.
func (r *Registry) Definitions() []llm.ToolDefinition {
	tools := r.Tools()
	defs := make([]llm.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters().JSONSchema(),
		})
	}
	return defs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Clone returns a registry holding the same tools.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := &Registry{tools: make(map[string]Tool, len(r.tools))}
	for name, t := range r.tools {
		clone.tools[name] = t
	}
	return clone
}

// Dispatch runs the named tool: lookup, required-parameter check, sandbox
// check for path-checked tools, then invocation. It never panics; every
// failure is reported through the returned ToolResult. A nil policy denies
// every path.
func (r *Registry) Dispatch(ctx context.Context, policy PathValidator, name string, params map[string]any) (result ToolResult) {
	ctx, span := tracer.Start(ctx, "tool.dispatch", trace.WithAttributes(attribute.String("tool.name", name)))
	defer func() {
		if p := recover(); p != nil {
			result = Failure("Tool error (%s): %v", name, p)
			span.SetAttributes(attribute.String("panic.stack", string(debug.Stack())))
		}
		span.SetAttributes(attribute.Bool("tool.success", result.Success))
		if !result.Success {
			span.SetStatus(codes.Error, result.Error)
		}
		span.End()
	}()

	tool, ok := r.Get(name)
	if !ok {
		return Failure("Unknown tool: %s", name)
	}
	if params == nil {
		params = map[string]any{}
	}
	if err := tool.Parameters().Validate(params); err != nil {
		return Failure("%v", err)
	}

	if tool.RequiresPathCheck() {
		for _, path := range pathParams(params) {
			if policy == nil {
				return Failure("Path not allowed: %s (no allowed paths configured)", path)
			}
			if allowed, reason := policy.Validate(path); !allowed {
				return Failure("Path not allowed: %s (%s)", path, reason)
			}
		}
	}

	return tool.Invoke(ctx, params)
}

// pathParams returns every non-empty path-bearing parameter in key order.
// Each one is checked because a tool may act on any of them.
func pathParams(params map[string]any) []string {
	var paths []string
	for _, key := range pathParamKeys {
		if s, ok := params[key].(string); ok && s != "" {
			paths = append(paths, s)
		}
	}
	return paths
}

// GetStringArg extracts a string argument.
func GetStringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetIntArg extracts an integer argument. JSON numbers arrive as float64.
func GetIntArg(args map[string]any, key string) (int, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

// GetBoolArg extracts a boolean argument.
func GetBoolArg(args map[string]any, key string) (bool, bool) {
	v, ok := args[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// GetStringMapArg extracts an object argument whose values are strings.
// Non-string values are formatted.
func GetStringMapArg(args map[string]any, key string) (map[string]string, bool) {
	v, ok := args[key].(map[string]any)
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(v))
	for k, val := range v {
		if s, ok := val.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprint(val)
		}
	}
	return out, true
}
