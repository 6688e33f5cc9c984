package tools

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/martinemde/openwork/agentloop"
)

// dangerousCommands are always rejected.
var dangerousCommands = []string{
	"rm -rf /",
	"rm -rf ~",
	"dd if=",
	"mkfs",
	":(){ :|:& };:",
	"> /dev/sda",
	"chmod -R 777 /",
}

var defaultBlockedCommands = []string{
	"sudo",
	"su ",
	"curl | bash",
	"wget | bash",
	"eval",
}

// BashTool runs shell commands with /bin/bash.
type BashTool struct {
	timeout   time.Duration
	maxOutput int
	allowed   []string
	blocked   []string
	logger    *slog.Logger
}

// NewBashTool creates the bash tool.
func NewBashTool(opts Options) *BashTool {
	opts = opts.withDefaults()
	return &BashTool{
		timeout:   opts.BashTimeout,
		maxOutput: opts.MaxOutputLength,
		allowed:   opts.AllowedCommands,
		blocked:   opts.BlockedCommands,
		logger:    opts.Logger,
	}
}

func (t *BashTool) Name() string { return "bash" }

func (t *BashTool) Description() string {
	return "Execute bash commands. Use for file operations, searches, and system tasks."
}

func (t *BashTool) Parameters() agentloop.Schema {
	return agentloop.Schema{Params: []agentloop.Param{
		{Name: "command", Type: "string", Description: "The bash command to execute", Required: true},
		{Name: "working_dir", Type: "string", Description: "Working directory for the command (defaults to the first allowed directory)"},
		{Name: "timeout", Type: "integer", Description: fmt.Sprintf("Command timeout in seconds (default: %d)", int(t.timeout.Seconds())),
			Default: int(t.timeout.Seconds())},
	}}
}

func (t *BashTool) RequiresPathCheck() bool { return true }

// checkCommand reports why command may not run, or "" when it may.
func (t *BashTool) checkCommand(command string) string {
	lower := strings.ToLower(strings.TrimSpace(command))
	for _, d := range dangerousCommands {
		if strings.Contains(lower, d) {
			return "Dangerous command pattern detected: " + d
		}
	}
	for _, b := range t.blocked {
		if strings.Contains(lower, strings.ToLower(b)) {
			return "Blocked command pattern: " + b
		}
	}
	if len(t.allowed) > 0 {
		words, err := shellquote.Split(command)
		if err != nil {
			return fmt.Sprintf("Cannot parse command: %v", err)
		}
		if len(words) > 0 && !slices.Contains(t.allowed, words[0]) {
			return "Command not in whitelist: " + words[0]
		}
	}
	return ""
}

func (t *BashTool) Invoke(ctx context.Context, params map[string]any) agentloop.ToolResult {
	command, _ := agentloop.GetStringArg(params, "command")
	if strings.TrimSpace(command) == "" {
		return agentloop.Failure("command is required")
	}
	if reason := t.checkCommand(command); reason != "" {
		return agentloop.Failure("%s", reason)
	}

	timeout := t.timeout
	if secs, ok := agentloop.GetIntArg(params, "timeout"); ok && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	dir := workingDir(ctx, params)

	t.logger.Debug("running command", "command", command, "dir", dir, "timeout", timeout)
	res, err := runProcess(ctx, dir, timeout, "/bin/bash", "-c", command)
	if err != nil {
		return agentloop.Failure("%v", err)
	}
	if res.TimedOut {
		return agentloop.Failure("Command timed out after %d seconds", int(timeout.Seconds()))
	}

	stdout := capOutput(res.Stdout, t.maxOutput)
	stderr := capOutput(res.Stderr, t.maxOutput)
	meta := map[string]any{"return_code": res.ExitCode, "command": command}
	if res.ExitCode == 0 {
		return agentloop.Success(stdout, meta)
	}

	errText := stderr
	if errText == "" {
		errText = fmt.Sprintf("Command exited with code %d", res.ExitCode)
	}
	return agentloop.ToolResult{
		Success:  false,
		Output:   fmt.Sprintf("stdout:\n%s\nstderr:\n%s", stdout, stderr),
		Error:    errText,
		Metadata: meta,
	}
}

// workingDir returns the working_dir parameter made absolute, or the first
// allowed directory of the run.
func workingDir(ctx context.Context, params map[string]any) string {
	if dir, ok := agentloop.GetStringArg(params, "working_dir"); ok && dir != "" {
		if abs, err := filepath.Abs(dir); err == nil {
			return abs
		}
		return dir
	}
	if paths := agentloop.AllowedPathsFromContext(ctx); len(paths) > 0 {
		return paths[0]
	}
	return ""
}
