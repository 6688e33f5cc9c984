package agentloop

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/martinemde/openwork/llm"
)

// DefaultHistoryLimit is the message ceiling used when none is configured.
const DefaultHistoryLimit = 50

// Role identifies who produced a history message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single entry in the conversation history.
type Message struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Observation is the recorded outcome of one tool invocation. Output is nil
// unless Success is true.
type Observation struct {
	ToolName  string         `json:"tool_name"`
	Params    map[string]any `json:"params"`
	Output    any            `json:"output,omitempty"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewObservation wraps a tool result.
func NewObservation(toolName string, params map[string]any, result ToolResult) Observation {
	obs := Observation{
		ToolName:  toolName,
		Params:    params,
		Success:   result.Success,
		Error:     result.Error,
		Timestamp: time.Now(),
	}
	if result.Success {
		obs.Output = result.Output
	}
	return obs
}

// History is the bounded message ledger of one agent run. Observations are
// kept in full for the whole run; only their textual trace in the message
// list is subject to eviction.
type History struct {
	mu           sync.Mutex
	limit        int
	traceLimit   int
	messages     []Message
	observations []Observation
}

// HistoryOption configures a History.
type HistoryOption func(*History)

// WithTraceLimit caps the characters of each synthesized tool message.
func WithTraceLimit(n int) HistoryOption {
	return func(h *History) {
		h.traceLimit = n
	}
}

// NewHistory creates an empty History holding at most limit messages.
func NewHistory(limit int, opts ...HistoryOption) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	h := &History{limit: limit}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AppendMessage adds a message and evicts old non-system messages if the
// ceiling is exceeded.
func (h *History) AppendMessage(role Role, content string, metadata map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appendLocked(Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		Metadata:  maps.Clone(metadata),
	})
}

// AppendObservation records obs and appends the tool message describing it.
func (h *History) AppendObservation(obs Observation) {
	if obs.Timestamp.IsZero() {
		obs.Timestamp = time.Now()
	}
	text := TruncateToolOutput(formatObservation(obs), obs.ToolName, h.traceLimit)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.observations = append(h.observations, obs)
	h.appendLocked(Message{
		Role:      RoleTool,
		Content:   text,
		Timestamp: obs.Timestamp,
		Metadata:  map[string]any{"tool_name": obs.ToolName},
	})
}

func formatObservation(obs Observation) string {
	if !obs.Success {
		return fmt.Sprintf("Tool: %s\nError: %s", obs.ToolName, obs.Error)
	}
	return fmt.Sprintf("Tool: %s\nOutput: %s", obs.ToolName, renderOutput(obs.Output))
}

func renderOutput(v any) string {
	switch out := v.(type) {
	case string:
		return out
	case []byte:
		return string(out)
	case fmt.Stringer:
		return out.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func (h *History) appendLocked(msg Message) {
	h.messages = append(h.messages, msg)
	h.evictLocked()
}

// evictLocked keeps every system message plus the newest non-system
// messages that fit under the ceiling, in their original order.
func (h *History) evictLocked() {
	if len(h.messages) <= h.limit {
		return
	}
	systemCount := 0
	for _, m := range h.messages {
		if m.Role == RoleSystem {
			systemCount++
		}
	}
	keep := max(h.limit-systemCount, 0)

	kept := make([]Message, 0, systemCount+keep)
	remaining := keep
	retain := make([]bool, len(h.messages))
	for i := len(h.messages) - 1; i >= 0; i-- {
		if h.messages[i].Role == RoleSystem {
			retain[i] = true
		} else if remaining > 0 {
			retain[i] = true
			remaining--
		}
	}
	for i, m := range h.messages {
		if retain[i] {
			kept = append(kept, m)
		}
	}
	h.messages = kept
}

// Render returns the messages in the form the model backend consumes.
func (h *History) Render() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]llm.Message, 0, len(h.messages))
	for _, m := range h.messages {
		msg := llm.Message{Role: llm.Role(m.Role), Content: m.Content}
		if name, ok := m.Metadata["tool_name"].(string); ok && m.Role == RoleTool {
			msg.Name = name
		}
		out = append(out, msg)
	}
	return out
}

// Messages returns a snapshot of the surviving messages.
func (h *History) Messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.messages)
}

// Observations returns every observation recorded so far.
func (h *History) Observations() []Observation {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.observations)
}

// Len returns the number of surviving messages.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// Limit returns the message ceiling.
func (h *History) Limit() int {
	return h.limit
}
