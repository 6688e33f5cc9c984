package agentloop

import (
	"testing"

	"github.com/martinemde/openwork/llm"
)

func TestParseReply(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Reply
	}{
		{
			name: "tool call",
			text: `{"thought": "read it", "tool": "file", "params": {"path": "/a"}, "is_complete": false}`,
			want: Decision{Reasoning: "read it", ToolName: "file", ToolParams: map[string]any{"path": "/a"}},
		},
		{
			name: "fenced",
			text: "```json\n{\"thought\": \"done\", \"is_complete\": true, \"answer\": \"42\"}\n```",
			want: Decision{Reasoning: "done", Complete: true, FinalAnswer: "42", ToolParams: map[string]any{}},
		},
		{
			name: "bare fence",
			text: "```\n{\"thought\": \"t\", \"tool\": null}\n```",
			want: Decision{Reasoning: "t", ToolParams: map[string]any{}},
		},
		{
			name: "null answer",
			text: `{"thought": "t", "tool": null, "is_complete": true, "answer": null}`,
			want: Decision{Reasoning: "t", Complete: true, ToolParams: map[string]any{}},
		},
		{
			name: "prose",
			text: "I think the answer is 4.",
			want: RawFallback{Text: "I think the answer is 4."},
		},
		{
			name: "broken json",
			text: `{"thought": "oops"`,
			want: RawFallback{Text: `{"thought": "oops"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseReply(tt.text)
			switch want := tt.want.(type) {
			case RawFallback:
				if got != want {
					t.Errorf("expected %+v, got %+v", want, got)
				}
			case Decision:
				d, ok := got.(Decision)
				if !ok {
					t.Fatalf("expected Decision, got %T", got)
				}
				if d.Reasoning != want.Reasoning || d.ToolName != want.ToolName ||
					d.Complete != want.Complete || d.FinalAnswer != want.FinalAnswer ||
					len(d.ToolParams) != len(want.ToolParams) {
					t.Errorf("expected %+v, got %+v", want, d)
				}
			}
		})
	}
}

func TestDecisionFromCompletion(t *testing.T) {
	reply, err := DecisionFromCompletion(&llm.Completion{
		Text:      "looking",
		ToolCalls: []llm.ToolCall{{Name: "search", Arguments: []byte(`{"pattern":"x"}`)}, {Name: "ignored"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	d := reply.(Decision)
	if d.ToolName != "search" || d.ToolParams["pattern"] != "x" || d.Reasoning != "looking" {
		t.Errorf("unexpected decision %+v", d)
	}

	encoded := encodeDecision(d)
	if again, ok := ParseReply(encoded).(Decision); !ok || again.ToolName != "search" {
		t.Errorf("encoded decision should parse back, got %q", encoded)
	}

	if _, err := DecisionFromCompletion(&llm.Completion{ToolCalls: []llm.ToolCall{{Name: "x", Arguments: []byte(`[1,2]`)}}}); err == nil {
		t.Error("expected error for non-object arguments")
	}

	text, _ := DecisionFromCompletion(&llm.Completion{Text: "plain"})
	if text != (RawFallback{Text: "plain"}) {
		t.Errorf("expected fallback, got %+v", text)
	}
}
