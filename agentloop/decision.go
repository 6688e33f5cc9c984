package agentloop

import (
	"encoding/json"
	"strings"

	"github.com/martinemde/openwork/llm"
)

// Reply is the parsed form of one model response: either a Decision or a
// RawFallback.
type Reply interface {
	reply()
}

// Decision is a well-formed model directive.
type Decision struct {
	Reasoning   string         `json:"thought"`
	ToolName    string         `json:"tool,omitempty"`
	ToolParams  map[string]any `json:"params,omitempty"`
	Complete    bool           `json:"is_complete"`
	FinalAnswer string         `json:"answer,omitempty"`
}

// RawFallback carries a reply that could not be parsed. The loop treats its
// text as the final answer.
type RawFallback struct {
	Text string
}

func (Decision) reply()    {}
func (RawFallback) reply() {}

type wireDecision struct {
	Thought    string         `json:"thought"`
	Tool       *string        `json:"tool"`
	Params     map[string]any `json:"params"`
	IsComplete bool           `json:"is_complete"`
	Answer     *string        `json:"answer"`
}

// ParseReply parses raw model text. A JSON object, optionally wrapped in a
// markdown code fence, becomes a Decision; anything else becomes a
// RawFallback holding the original text.
func ParseReply(text string) Reply {
	body := unfence(strings.TrimSpace(text))
	if !strings.HasPrefix(body, "{") {
		return RawFallback{Text: text}
	}

	var w wireDecision
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return RawFallback{Text: text}
	}

	d := Decision{
		Reasoning:  w.Thought,
		ToolParams: w.Params,
		Complete:   w.IsComplete,
	}
	if w.Tool != nil {
		d.ToolName = strings.TrimSpace(*w.Tool)
	}
	if w.Answer != nil {
		d.FinalAnswer = *w.Answer
	}
	if d.ToolParams == nil {
		d.ToolParams = map[string]any{}
	}
	return d
}

// unfence strips a surrounding ``` or ```json fence.
func unfence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if nl := strings.IndexByte(inner, '\n'); nl >= 0 {
		if lang := strings.TrimSpace(inner[:nl]); lang == "" || !strings.ContainsAny(lang, "{[\"") {
			inner = inner[nl+1:]
		}
	}
	return strings.TrimSpace(inner)
}

// DecisionFromCompletion converts a native tool-calling completion. The
// first tool call becomes the decision; without tool calls the text is
// parsed like any other reply.
func DecisionFromCompletion(c *llm.Completion) (Reply, error) {
	if !c.HasToolCalls() {
		return ParseReply(c.Text), nil
	}
	call := c.ToolCalls[0]
	params, err := call.Params()
	if err != nil {
		return nil, err
	}
	return Decision{
		Reasoning:  c.Text,
		ToolName:   call.Name,
		ToolParams: params,
	}, nil
}

// encodeDecision renders d in the wire format the system prompt asks for.
func encodeDecision(d Decision) string {
	w := wireDecision{Thought: d.Reasoning, Params: d.ToolParams, IsComplete: d.Complete}
	if d.ToolName != "" {
		w.Tool = &d.ToolName
	}
	if d.FinalAnswer != "" {
		w.Answer = &d.FinalAnswer
	}
	b, err := json.Marshal(w)
	if err != nil {
		return d.Reasoning
	}
	return string(b)
}
