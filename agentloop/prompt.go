package agentloop

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

const basePrompt = `You are OpenWork, an assistant that automates tasks with the user's local files.

When given a task:
1. Think about what information you need
2. Use the available tools to gather information and take action
3. Verify your work produces correct results
4. Report back to the user

Only operate inside the directories the user has granted access to.
Be careful with file operations and verify paths before modifying files.`

const decisionFormat = `Respond with a single JSON object and nothing else:
{
    "thought": "your reasoning about what to do next",
    "tool": "tool_name, or null if no tool is needed",
    "params": {},
    "is_complete": false,
    "answer": "final answer to the user, or null"
}
Set "is_complete" to true and fill "answer" once the task is done.`

// BuildSystemPrompt assembles the system prompt for a run. A non-empty
// override replaces the built-in instructions but the tool list, allowed
// paths and response format are always appended.
func BuildSystemPrompt(override string, tools []Tool, allowedPaths []string, nativeToolCalls bool) string {
	var sb strings.Builder
	if override != "" {
		sb.WriteString(strings.TrimSpace(override))
	} else {
		sb.WriteString(basePrompt)
	}

	sb.WriteString("\n\n")
	sb.WriteString(buildEnvironmentContext(allowedPaths))

	sb.WriteString("\n\nAvailable tools:\n")
	for _, t := range tools {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name(), t.Description())
		for _, p := range t.Parameters().Params {
			req := ""
			if p.Required {
				req = ", required"
			}
			fmt.Fprintf(&sb, "    %s (%s%s): %s\n", p.Name, p.Type, req, p.Description)
		}
	}

	if !nativeToolCalls {
		sb.WriteString("\n")
		sb.WriteString(decisionFormat)
	}
	return sb.String()
}

func buildEnvironmentContext(allowedPaths []string) string {
	var sb strings.Builder
	sb.WriteString("<environment>\n")
	if len(allowedPaths) == 0 {
		sb.WriteString("Allowed directories: none\n")
	} else {
		sb.WriteString("Allowed directories:\n")
		for _, p := range allowedPaths {
			fmt.Fprintf(&sb, "  %s\n", p)
		}
	}
	fmt.Fprintf(&sb, "Platform: %s\n", runtime.GOOS)
	fmt.Fprintf(&sb, "Today's date: %s\n", time.Now().Format("2006-01-02"))
	sb.WriteString("</environment>")
	return sb.String()
}
