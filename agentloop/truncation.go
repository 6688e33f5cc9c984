package agentloop

import (
	"fmt"
	"strings"
)

// TruncationMode specifies how output is truncated.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// DefaultObservationCharLimit applies to tools without their own limit.
const DefaultObservationCharLimit = 20000

// Default character limits per tool.
var DefaultToolCharLimits = map[string]int{
	"file":            50000,
	"bash":            30000,
	"search":          20000,
	"web":             20000,
	"code":            20000,
	"spawn_subagents": 20000,
}

// Default truncation modes per tool.
var DefaultTruncationModes = map[string]TruncationMode{
	"file":            TruncateHeadTail,
	"bash":            TruncateHeadTail,
	"search":          TruncateTail,
	"web":             TruncateHeadTail,
	"code":            TruncateHeadTail,
	"spawn_subagents": TruncateHeadTail,
}

// Default line limits per tool (applied after character truncation).
var DefaultToolLineLimits = map[string]int{
	"bash":   256,
	"search": 200,
}

// TruncateOutput applies character-based truncation to output. Cuts fall on
// rune boundaries.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	runes := []rune(output)
	if maxChars <= 0 || len(runes) <= maxChars {
		return output
	}
	removed := len(runes) - maxChars

	if mode == TruncateTail {
		return fmt.Sprintf("[WARNING: Tool output was truncated. First %d characters were removed.]\n\n", removed) +
			string(runes[len(runes)-maxChars:])
	}

	half := maxChars / 2
	return string(runes[:half]) +
		fmt.Sprintf("\n\n[WARNING: Tool output was truncated. %d characters were removed from the middle. "+
			"If you need to see specific parts, re-run the tool with more targeted parameters.]\n\n", removed) +
		string(runes[len(runes)-half:])
}

// TruncateLines applies line-based truncation using head/tail split.
func TruncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if maxLines <= 0 || len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// TruncateToolOutput runs the truncation pipeline for one tool: characters
// first, then lines. limit caps the tool's default character limit when
// positive.
func TruncateToolOutput(output, toolName string, limit int) string {
	maxChars, ok := DefaultToolCharLimits[toolName]
	if !ok {
		maxChars = DefaultObservationCharLimit
	}
	if limit > 0 && limit < maxChars {
		maxChars = limit
	}

	mode, ok := DefaultTruncationModes[toolName]
	if !ok {
		mode = TruncateHeadTail
	}

	result := TruncateOutput(output, maxChars, mode)
	if maxLines := DefaultToolLineLimits[toolName]; maxLines > 0 {
		result = TruncateLines(result, maxLines)
	}
	return result
}
