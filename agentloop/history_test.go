package agentloop

import (
	"fmt"
	"strings"
	"testing"

	"github.com/martinemde/openwork/llm"
)

func TestHistoryEvictionKeepsSystemMessages(t *testing.T) {
	h := NewHistory(5)
	h.AppendMessage(RoleSystem, "sys", nil)
	for i := range 20 {
		h.AppendMessage(RoleUser, fmt.Sprintf("u%d", i), nil)
		if h.Len() > 5 {
			t.Fatalf("history exceeded ceiling after %d appends: %d", i+1, h.Len())
		}
	}

	msgs := h.Messages()
	if msgs[0].Role != RoleSystem || msgs[0].Content != "sys" {
		t.Fatalf("system message evicted: %+v", msgs[0])
	}
	var got []string
	for _, m := range msgs[1:] {
		got = append(got, m.Content)
	}
	if strings.Join(got, ",") != "u16,u17,u18,u19" {
		t.Errorf("expected newest messages in order, got %v", got)
	}
}

func TestHistoryEvictionPreservesRelativeOrder(t *testing.T) {
	h := NewHistory(4)
	h.AppendMessage(RoleUser, "a", nil)
	h.AppendMessage(RoleSystem, "s1", nil)
	h.AppendMessage(RoleUser, "b", nil)
	h.AppendMessage(RoleAssistant, "c", nil)
	h.AppendMessage(RoleUser, "d", nil)

	var got []string
	for _, m := range h.Messages() {
		got = append(got, m.Content)
	}
	if strings.Join(got, ",") != "s1,b,c,d" {
		t.Errorf("unexpected order %v", got)
	}
}

func TestHistoryOnlySystemWhenOverflowing(t *testing.T) {
	h := NewHistory(2)
	h.AppendMessage(RoleSystem, "s1", nil)
	h.AppendMessage(RoleSystem, "s2", nil)
	h.AppendMessage(RoleSystem, "s3", nil)
	h.AppendMessage(RoleUser, "u", nil)

	for _, m := range h.Messages() {
		if m.Role != RoleSystem {
			t.Errorf("expected only system messages, got %+v", m)
		}
	}
	if h.Len() != 3 {
		t.Errorf("expected 3 system messages, got %d", h.Len())
	}
}

func TestHistoryObservationsSurviveEviction(t *testing.T) {
	h := NewHistory(3)
	for i := range 10 {
		h.AppendObservation(NewObservation("echo", map[string]any{"i": i}, Success("ok", nil)))
	}
	if len(h.Observations()) != 10 {
		t.Errorf("expected 10 observations, got %d", len(h.Observations()))
	}
	if h.Len() != 3 {
		t.Errorf("expected 3 messages, got %d", h.Len())
	}
}

func TestHistoryObservationTrace(t *testing.T) {
	h := NewHistory(10)
	h.AppendObservation(NewObservation("file", nil, Success(map[string]any{"size": 3}, nil)))
	h.AppendObservation(NewObservation("bash", nil, Failure("exit %d", 2)))

	msgs := h.Render()
	if msgs[0].Role != llm.RoleTool || msgs[0].Name != "file" {
		t.Errorf("unexpected first message %+v", msgs[0])
	}
	if msgs[0].Content != `Tool: file`+"\n"+`Output: {"size":3}` {
		t.Errorf("unexpected success trace %q", msgs[0].Content)
	}
	if msgs[1].Content != "Tool: bash\nError: exit 2" {
		t.Errorf("unexpected failure trace %q", msgs[1].Content)
	}
}

func TestHistoryTraceLimit(t *testing.T) {
	h := NewHistory(10, WithTraceLimit(100))
	h.AppendObservation(NewObservation("echo", nil, Success(strings.Repeat("x", 1000), nil)))
	content := h.Messages()[0].Content
	if !strings.Contains(content, "WARNING: Tool output was truncated") {
		t.Errorf("expected truncation marker, got %q", content)
	}
	if obs := h.Observations()[0]; len(obs.Output.(string)) != 1000 {
		t.Error("observation output must be kept in full")
	}
}

func TestNewObservationDropsOutputOnFailure(t *testing.T) {
	obs := NewObservation("x", nil, ToolResult{Success: false, Output: "partial", Error: "bad"})
	if obs.Output != nil || obs.Error != "bad" {
		t.Errorf("unexpected observation %+v", obs)
	}
}

func TestNewHistoryDefaultLimit(t *testing.T) {
	if NewHistory(0).Limit() != DefaultHistoryLimit {
		t.Error("expected default limit")
	}
}
