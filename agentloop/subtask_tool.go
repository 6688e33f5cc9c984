package agentloop

import (
	"context"
	"fmt"
	"strings"
)

// SubtaskToolName is the name the model uses to delegate work.
const SubtaskToolName = "spawn_subagents"

// SubtaskTool exposes an Orchestrator to the model. Children inherit the
// allowed paths of the run that invokes the tool.
type SubtaskTool struct {
	orchestrator *Orchestrator
}

// NewSubtaskTool creates the tool for o.
func NewSubtaskTool(o *Orchestrator) *SubtaskTool {
	return &SubtaskTool{orchestrator: o}
}

func (t *SubtaskTool) Name() string { return SubtaskToolName }

func (t *SubtaskTool) Description() string {
	return fmt.Sprintf("Spawn subagents to work on independent subtasks in parallel (at most %d per call). "+
		"Each subagent starts with a fresh history and the same tools and allowed paths.", MaxSubtasksPerCall)
}

func (t *SubtaskTool) Parameters() Schema {
	return Schema{Params: []Param{
		{
			Name:        "subtasks",
			Type:        "array",
			Description: "List of subtasks to execute in parallel",
			Required:    true,
			Items: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"description": map[string]any{"type": "string", "description": "Description of the subtask"},
					"context":     map[string]any{"type": "object", "description": "Optional extra context for the subtask"},
				},
				"required": []string{"description"},
			},
		},
		{
			Name:        "context",
			Type:        "object",
			Description: "Optional context shared by every subtask",
		},
	}}
}

func (t *SubtaskTool) RequiresPathCheck() bool { return false }

func (t *SubtaskTool) Invoke(ctx context.Context, params map[string]any) ToolResult {
	specs, err := parseSubtaskSpecs(params)
	if err != nil {
		return Failure("%v", err)
	}

	summary, err := t.orchestrator.SpawnAndWait(ctx, specs, AllowedPathsFromContext(ctx))
	if err != nil {
		return Failure("%v", err)
	}

	return ToolResult{
		Success:  summary.Successful > 0,
		Output:   summary,
		Error:    failureText(summary),
		Metadata: map[string]any{"subtask_count": len(specs)},
	}
}

func failureText(s *SubtaskSummary) string {
	if s.Successful > 0 {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "all %d subtasks failed", s.Total)
	for _, r := range s.Results {
		fmt.Fprintf(&sb, "\n- %s: %s", r.TaskID, r.Summary)
	}
	return sb.String()
}

// parseSubtaskSpecs accepts entries as objects with a description or as
// plain strings. A top-level context applies to entries without their own.
func parseSubtaskSpecs(params map[string]any) ([]SubtaskSpec, error) {
	raw, ok := params["subtasks"].([]any)
	if !ok {
		if params["subtasks"] == nil {
			return nil, ErrNoSubtasks
		}
		return nil, fmt.Errorf("subtasks must be a list")
	}
	shared := params["context"]

	specs := make([]SubtaskSpec, 0, len(raw))
	for i, entry := range raw {
		spec := SubtaskSpec{Context: shared}
		switch e := entry.(type) {
		case string:
			spec.Description = e
		case map[string]any:
			spec.Description, _ = e["description"].(string)
			if c, ok := e["context"]; ok && c != nil {
				spec.Context = c
			}
		default:
			return nil, fmt.Errorf("subtask %d: expected an object with a description", i+1)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
