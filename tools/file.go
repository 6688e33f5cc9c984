package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"

	"github.com/martinemde/openwork/agentloop"
)

// FileTool performs file system operations inside the sandbox.
type FileTool struct{}

// NewFileTool creates the file tool.
func NewFileTool() *FileTool { return &FileTool{} }

func (t *FileTool) Name() string { return "file" }

func (t *FileTool) Description() string {
	return "Perform file system operations: read, write, list, exists, mkdir, delete"
}

func (t *FileTool) Parameters() agentloop.Schema {
	return agentloop.Schema{Params: []agentloop.Param{
		{Name: "operation", Type: "string", Description: "The file operation to perform", Required: true,
			Enum: []string{"read", "write", "list", "exists", "mkdir", "delete"}},
		{Name: "path", Type: "string", Description: "The file or directory path", Required: true},
		{Name: "content", Type: "string", Description: "Content to write (for write operation)"},
	}}
}

func (t *FileTool) RequiresPathCheck() bool { return true }

// DirEntry is one line of a directory listing.
type DirEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Path string `json:"path"`
}

func (t *FileTool) Invoke(ctx context.Context, params map[string]any) agentloop.ToolResult {
	op, _ := agentloop.GetStringArg(params, "operation")
	raw, _ := agentloop.GetStringArg(params, "path")
	if op == "" || raw == "" {
		return agentloop.Failure("operation and path are required")
	}
	path, err := filepath.Abs(raw)
	if err != nil {
		return agentloop.Failure("%v", err)
	}

	switch op {
	case "read":
		return readFile(path)
	case "write":
		content, _ := agentloop.GetStringArg(params, "content")
		return writeFile(path, content)
	case "list":
		return listDir(path)
	case "exists":
		return exists(path)
	case "mkdir":
		return mkdir(path)
	case "delete":
		return remove(path)
	default:
		return agentloop.Failure("Unknown operation: %s", op)
	}
}

func readFile(path string) agentloop.ToolResult {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return agentloop.Failure("File not found: %s", path)
	}
	if err != nil {
		return agentloop.Failure("%v", err)
	}
	if !info.Mode().IsRegular() {
		return agentloop.Failure("Not a file: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return agentloop.Failure("%v", err)
	}
	if mtype := mimetype.Detect(data); len(data) > 0 && !isText(mtype) {
		return agentloop.Failure("Binary file not supported: %s (%s)", path, mtype.String())
	}
	return agentloop.Success(string(data), map[string]any{"path": path, "size": len(data)})
}

// isText reports whether m is text/plain or a descendant of it.
func isText(m *mimetype.MIME) bool {
	for t := m; t != nil; t = t.Parent() {
		if t.Is("text/plain") {
			return true
		}
	}
	return false
}

func writeFile(path, content string) agentloop.ToolResult {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return agentloop.Failure("create parent directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return agentloop.Failure("%v", err)
	}
	return agentloop.Success(
		fmt.Sprintf("Written %d bytes to %s", len(content), path),
		map[string]any{"path": path, "size": len(content)},
	)
}

func listDir(path string) agentloop.ToolResult {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return agentloop.Failure("Directory not found: %s", path)
	}
	if err != nil {
		return agentloop.Failure("%v", err)
	}
	if !info.IsDir() {
		return agentloop.Failure("Not a directory: %s", path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return agentloop.Failure("%v", err)
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		kind := "file"
		if e.IsDir() {
			kind = "dir"
		}
		out = append(out, DirEntry{Name: e.Name(), Type: kind, Path: filepath.Join(path, e.Name())})
	}
	return agentloop.Success(out, map[string]any{"path": path, "count": len(out)})
}

func exists(path string) agentloop.ToolResult {
	out := map[string]any{"exists": false, "type": nil}
	if info, err := os.Stat(path); err == nil {
		out["exists"] = true
		if info.IsDir() {
			out["type"] = "directory"
		} else {
			out["type"] = "file"
		}
	}
	return agentloop.Success(out, map[string]any{"path": path})
}

func mkdir(path string) agentloop.ToolResult {
	if _, err := os.Stat(path); err == nil {
		return agentloop.Success("Directory already exists: "+path, map[string]any{"path": path, "created": false})
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return agentloop.Failure("%v", err)
	}
	return agentloop.Success("Created directory: "+path, map[string]any{"path": path, "created": true})
}

func remove(path string) agentloop.ToolResult {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return agentloop.Failure("Path not found: %s", path)
	}
	if err != nil {
		return agentloop.Failure("%v", err)
	}
	if info.IsDir() {
		if err := os.RemoveAll(path); err != nil {
			return agentloop.Failure("%v", err)
		}
		return agentloop.Success("Deleted directory: "+path, map[string]any{"path": path, "type": "directory"})
	}
	if err := os.Remove(path); err != nil {
		return agentloop.Failure("%v", err)
	}
	return agentloop.Success("Deleted file: "+path, map[string]any{"path": path, "type": "file"})
}
