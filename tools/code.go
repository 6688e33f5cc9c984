package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/martinemde/openwork/agentloop"
)

var blockedCodePatterns = []string{
	"import os",
	"from os import",
	"import subprocess",
	"import shutil",
	"import sys",
	"__builtins__",
	"globals()",
	"locals()",
}

// pythonHarness runs the snippet with stdout and stderr captured and prints
// a single JSON object describing the outcome. %s is the indented snippet.
const pythonHarness = `import json
import sys
from io import StringIO

_stdout = StringIO()
_stderr = StringIO()
_old_stdout, _old_stderr = sys.stdout, sys.stderr
sys.stdout, sys.stderr = _stdout, _stderr
_error = None

try:
%s
except Exception as e:
    _error = "%%s: %%s" %% (type(e).__name__, e)

sys.stdout, sys.stderr = _old_stdout, _old_stderr
print(json.dumps({"stdout": _stdout.getvalue(), "stderr": _stderr.getvalue(), "error": _error}))
`

type harnessResult struct {
	Stdout string  `json:"stdout"`
	Stderr string  `json:"stderr"`
	Error  *string `json:"error"`
}

// CodeTool runs Python snippets in a subprocess.
type CodeTool struct {
	python          string
	timeout         time.Duration
	maxOutput       int
	allowFileAccess bool
}

// NewCodeTool creates the code tool.
func NewCodeTool(opts Options) *CodeTool {
	opts = opts.withDefaults()
	return &CodeTool{
		python:          opts.Python,
		timeout:         opts.CodeTimeout,
		maxOutput:       opts.MaxOutputLength,
		allowFileAccess: opts.AllowFileAccess,
	}
}

func (t *CodeTool) Name() string { return "code" }

func (t *CodeTool) Description() string {
	return "Execute Python code to perform calculations, data processing, or generate outputs. Print results to stdout."
}

func (t *CodeTool) Parameters() agentloop.Schema {
	return agentloop.Schema{Params: []agentloop.Param{
		{Name: "code", Type: "string", Description: "Python code to execute", Required: true},
		{Name: "working_dir", Type: "string", Description: "Working directory for code execution"},
		{Name: "timeout", Type: "integer", Description: fmt.Sprintf("Execution timeout in seconds (default: %d)", int(t.timeout.Seconds())),
			Default: int(t.timeout.Seconds())},
	}}
}

func (t *CodeTool) RequiresPathCheck() bool { return true }

func checkCode(code string) string {
	lower := strings.ToLower(code)
	for _, p := range blockedCodePatterns {
		if strings.Contains(lower, p) {
			return "Blocked pattern detected: " + p
		}
	}
	return ""
}

func indent(code string) string {
	lines := strings.Split(code, "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n")
}

func (t *CodeTool) Invoke(ctx context.Context, params map[string]any) agentloop.ToolResult {
	code, _ := agentloop.GetStringArg(params, "code")
	if strings.TrimSpace(code) == "" {
		return agentloop.Failure("code is required")
	}
	if !t.allowFileAccess {
		if reason := checkCode(code); reason != "" {
			return agentloop.Failure("%s", reason)
		}
	}
	timeout := t.timeout
	if secs, ok := agentloop.GetIntArg(params, "timeout"); ok && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	f, err := os.CreateTemp("", "openwork-*.py")
	if err != nil {
		return agentloop.Failure("create script: %v", err)
	}
	defer os.Remove(f.Name())
	_, err = fmt.Fprintf(f, pythonHarness, indent(code))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return agentloop.Failure("write script: %v", err)
	}

	res, err := runProcess(ctx, workingDir(ctx, params), timeout, t.python, f.Name())
	if err != nil {
		return agentloop.Failure("%v", err)
	}
	if res.TimedOut {
		return agentloop.Failure("Code execution timed out after %d seconds", int(timeout.Seconds()))
	}
	if res.ExitCode != 0 {
		return agentloop.Failure("Process exited with code %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	var out harnessResult
	if err := json.Unmarshal([]byte(strings.TrimSpace(res.Stdout)), &out); err != nil {
		return agentloop.ToolResult{
			Success: false,
			Output:  capOutput(res.Stdout, t.maxOutput),
			Error:   "Failed to parse execution result",
		}
	}
	if out.Error != nil {
		return agentloop.ToolResult{Success: false, Output: out.Stdout, Error: *out.Error}
	}
	return agentloop.Success(capOutput(out.Stdout, t.maxOutput), map[string]any{"stderr": out.Stderr})
}
